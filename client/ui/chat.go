package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const chatHints = " Enter:Send | Tab:Scroll | Esc:Back "

func (a *App) openChat(contact string) {
	// Reset unread count when opening chat
	a.mu.Lock()
	a.currentChat = contact
	delete(a.unreadCounts, contact)
	a.mu.Unlock()

	chatPage := a.createChatPage(contact)
	a.pages.AddPage("chat", chatPage, true, true)
	a.pages.SwitchToPage("chat")

	// Update contacts list to reflect cleared unread count
	a.updateContactsList()

	// Load history
	a.refreshChatView()
}

func (a *App) createChatPage(contact string) tview.Primitive {
	// Chat history view
	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(fmt.Sprintf(" %s ", contact))
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)

	// Message input
	a.messageInput = tview.NewInputField()
	a.messageInput.SetLabel("> ")
	a.messageInput.SetFieldWidth(0)
	a.messageInput.SetBackgroundColor(ColorBg)
	a.messageInput.SetFieldBackgroundColor(ColorFieldBg)
	a.messageInput.SetFieldTextColor(ColorFg)
	a.messageInput.SetLabelColor(ColorHighlight)
	a.messageInput.SetBorder(true)
	a.messageInput.SetBorderColor(ColorBorder)
	a.messageInput.SetTitle(" Message ")
	a.messageInput.SetTitleColor(ColorTitle)

	a.messageInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		// Send and clear input
		if text := a.messageInput.GetText(); text != "" {
			a.sendMessage(contact, text)
			a.messageInput.SetText("")
		}
	})

	// Status bar
	a.chatStatus = tview.NewTextView()
	a.chatStatus.SetBackgroundColor(ColorBar)
	a.chatStatus.SetTextColor(ColorTitle)
	a.chatStatus.SetTextAlign(tview.AlignCenter)
	a.chatStatus.SetDynamicColors(true)
	a.chatStatus.SetText(chatHints)

	// Layout
	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.messageInput, 3, 0, true).
		AddItem(a.chatStatus, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	// Track focus on chat view for scrolling
	chatViewFocused := false

	// Handle keyboard
	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			// Esc in scroll mode returns to input, otherwise back to contacts
			if chatViewFocused {
				chatViewFocused = false
				a.app.SetFocus(a.messageInput)
				a.chatStatus.SetText(chatHints)
				return nil
			}
			a.closeChat()
			return nil
		case tcell.KeyTab:
			chatViewFocused = !chatViewFocused
			if chatViewFocused {
				a.app.SetFocus(a.chatView)
				a.chatStatus.SetText(" ↑↓/PgUp/PgDn:Scroll | Home:Top | End:Bottom | Tab/Esc:Input ")
			} else {
				a.app.SetFocus(a.messageInput)
				a.chatStatus.SetText(chatHints)
			}
			return nil
		case tcell.KeyPgUp:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row+10, col)
			return nil
		}
		return event
	})

	return mainFlex
}

// refreshChatView redraws the open conversation from the local history.
func (a *App) refreshChatView() {
	if a.chatView == nil {
		return
	}
	_, st := a.session()
	a.mu.RLock()
	contact := a.currentChat
	a.mu.RUnlock()
	if st == nil || contact == "" {
		return
	}

	history, err := st.History(contact)
	if err != nil {
		a.logger.Error("load history", "contact", contact, "err", err)
		return
	}

	// Get chat view width for full-width separator
	_, _, width, _ := a.chatView.GetInnerRect()
	a.chatView.SetText(renderHistory(history, width, time.Now()))
	a.chatView.ScrollToEnd()
}

func (a *App) sendMessage(contact, text string) {
	tr, _ := a.session()
	if tr == nil {
		a.chatStatus.SetText("[red]Not connected[-]")
		return
	}
	a.chatStatus.SetText("[yellow]Sending...[-]")

	// Send to server; the transport stores the message once accepted
	go func() {
		err := tr.SendMessage(contact, text)
		a.app.QueueUpdateDraw(func() {
			if a.chatStatus == nil {
				return
			}
			if err != nil {
				a.logger.Warn("send failed", "to", contact, "err", err)
				a.chatStatus.SetText("[red]" + tview.Escape(describeError(err)) + "[-]")
				return
			}
			// Update view
			a.chatStatus.SetText(chatHints)
			a.refreshChatView()
		})
	}()
}

func (a *App) closeChat() {
	a.mu.Lock()
	a.currentChat = ""
	a.mu.Unlock()
	a.chatView = nil
	a.chatStatus = nil
	a.messageInput = nil
	a.pages.RemovePage("chat")
	a.pages.SwitchToPage("main")
	a.app.SetFocus(a.contactsList)
}
