package ui

import (
	"fmt"
	"slices"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// showAddContactDialog offers directory users that are not contacts yet.
func (a *App) showAddContactDialog() {
	tr, st := a.session()
	if tr == nil {
		return
	}
	users, err := st.KnownUsers()
	if err != nil {
		a.setConnectionError(err.Error())
		return
	}
	a.mu.RLock()
	var candidates []string
	for _, u := range users {
		if u != a.currentUser && !slices.Contains(a.contacts, u) {
			candidates = append(candidates, u)
		}
	}
	a.mu.RUnlock()

	if len(candidates) == 0 {
		a.showMessage("Add Contact", "No other known users. Press F5 to refresh.")
		return
	}

	form := a.newDialogForm(" Add Contact ")

	// Status line under the form
	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetDynamicColors(true)

	selected := candidates[0]
	dropdown := tview.NewDropDown().
		SetLabel("User: ").
		SetOptions(candidates, func(text string, _ int) { selected = text }).
		SetCurrentOption(0)
	form.AddFormItem(dropdown)

	// The server call blocks, so run it off the UI goroutine
	form.AddButton("Add", func() {
		statusLabel.SetText("[yellow]Adding...[-]")
		contact := selected
		go func() {
			err := tr.AddContact(contact)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					statusLabel.SetText("[red]" + tview.Escape(describeError(err)) + "[-]")
					return
				}
				a.closeDialog("addContact")
				a.loadContacts()
			})
		}()
	})
	form.AddButton("Cancel", func() { a.closeDialog("addContact") })

	a.showDialog("addContact", form, statusLabel, 50, 9)
}

func (a *App) showRemoveContactDialog() {
	contact, ok := a.selectedContact()
	if !ok {
		return
	}
	tr, _ := a.session()
	if tr == nil {
		return
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Remove %s from contacts?", contact)).
		AddButtons([]string{"Remove", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			a.closeDialog("removeContact")
			if label != "Remove" {
				return
			}
			go func() {
				err := tr.RemoveContact(contact)
				a.app.QueueUpdateDraw(func() {
					if err != nil {
						a.setConnectionError(describeError(err))
						return
					}
					a.mu.Lock()
					delete(a.unreadCounts, contact)
					a.mu.Unlock()
					a.loadContacts()
				})
			}()
		})
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(ColorBar)
	modal.SetButtonTextColor(ColorTitle)

	a.pages.AddPage("removeContact", modal, true, true)
}

// showConnectionLost is shown once the transport gives up on the server.
func (a *App) showConnectionLost() {
	if a.pages.HasPage("connectionLost") {
		return
	}
	modal := tview.NewModal().
		SetText("Connection to the server was lost.").
		AddButtons([]string{"Reconnect", "Quit"}).
		SetDoneFunc(func(_ int, label string) {
			a.closeDialog("connectionLost")
			switch label {
			case "Reconnect":
				a.reconnect()
			case "Quit":
				a.quit()
			}
		})
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(ColorBar)
	modal.SetButtonTextColor(ColorTitle)

	a.pages.AddPage("connectionLost", modal, true, true)
}

func (a *App) showMessage(title, text string) {
	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) { a.closeDialog("message") })
	modal.SetTitle(" " + title + " ")
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(ColorBar)
	modal.SetButtonTextColor(ColorTitle)
	a.pages.AddPage("message", modal, true, true)
}

func (a *App) newDialogForm(title string) *tview.Form {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorFieldBg)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorBar)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(title)
	form.SetTitleColor(ColorTitle)
	return form
}

func (a *App) showDialog(name string, form *tview.Form, status *tview.TextView, width, height int) {
	content := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(status, 1, 0, false)
	content.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			a.closeDialog(name)
			return nil
		}
		return event
	})

	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(content, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage(name, modal, true, true)
	a.app.SetFocus(form)
}

func (a *App) closeDialog(name string) {
	a.pages.RemovePage(name)
	if a.contactsList != nil {
		a.app.SetFocus(a.contactsList)
	}
}
