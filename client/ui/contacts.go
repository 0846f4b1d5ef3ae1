package ui

// loadContacts reads the contact list from the local store, which the
// transport keeps in sync with the server.
func (a *App) loadContacts() {
	_, st := a.session()
	if st == nil {
		return
	}
	contacts, err := st.Contacts()
	if err != nil {
		a.logger.Error("load contacts", "err", err)
		return
	}

	a.mu.Lock()
	a.contacts = contacts
	a.mu.Unlock()
	a.updateContactsList()
}

// refreshContacts asks the server for the contact list and user directory.
func (a *App) refreshContacts() {
	tr, _ := a.session()
	if tr == nil {
		return
	}
	go func() {
		if _, err := tr.RefreshUsers(); err != nil {
			a.logger.Error("refresh users", "err", err)
		}
		_, err := tr.RefreshContacts()
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.setConnectionError(describeError(err))
				return
			}
			a.loadContacts()
		})
	}()
}

func (a *App) updateContactsList() {
	if a.contactsList == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	currentIdx := a.contactsList.GetCurrentItem()
	a.contactsList.Clear()
	for _, contact := range a.contacts {
		a.contactsList.AddItem(contactLabel(contact, a.unreadCounts[contact]), "", 0, nil)
	}
	if currentIdx >= 0 && currentIdx < a.contactsList.GetItemCount() {
		a.contactsList.SetCurrentItem(currentIdx)
	}
}

func (a *App) selectedContact() (string, bool) {
	idx := a.contactsList.GetCurrentItem()
	a.mu.RLock()
	defer a.mu.RUnlock()
	if idx < 0 || idx >= len(a.contacts) {
		return "", false
	}
	return a.contacts[idx], true
}
