package ui

import (
	"msgr/client/transport"
)

// consumeEvents applies pushed transport events to the UI until the
// transport closes its event channel.
func (a *App) consumeEvents(tr *transport.Transport) {
	for ev := range tr.Events() {
		switch ev.Kind {
		case transport.EventMessage:
			a.onMessage(tr, ev)
		case transport.EventConnectionLost:
			a.logger.Warn("connection lost", "err", ev.Err)
			a.app.QueueUpdateDraw(func() {
				a.updateConnectionStatus()
				a.updateStatusBarText()
				a.showConnectionLost()
			})
		}
	}
}

func (a *App) onMessage(tr *transport.Transport, ev transport.Event) {
	a.mu.RLock()
	known := false
	for _, c := range a.contacts {
		if c == ev.From {
			known = true
			break
		}
	}
	a.mu.RUnlock()

	// Senders outside the contact list are added to it.
	if !known {
		if err := tr.AddContact(ev.From); err != nil {
			a.logger.Warn("auto-add contact", "contact", ev.From, "err", err)
		}
	}

	a.app.QueueUpdateDraw(func() {
		a.mu.Lock()
		if a.currentChat != ev.From {
			a.unreadCounts[ev.From]++
		}
		current := a.currentChat
		a.mu.Unlock()

		if !known {
			a.loadContacts()
		} else {
			a.updateContactsList()
		}
		if current == ev.From {
			a.refreshChatView()
		}
	})
}
