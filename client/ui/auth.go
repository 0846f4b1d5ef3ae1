package ui

import (
	"context"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func (a *App) showAuthDialog() {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorFieldBg)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorBar)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" Sign in ")
	form.SetTitleColor(ColorTitle)

	statusText := tview.NewTextView()
	statusText.SetBackgroundColor(ColorBg)
	statusText.SetTextAlign(tview.AlignCenter)
	statusText.SetDynamicColors(true)

	loginField := tview.NewInputField()
	loginField.SetLabel("Account: ")
	loginField.SetFieldWidth(30)
	loginField.SetBackgroundColor(ColorBg)
	loginField.SetText(a.cfg.Account)
	form.AddFormItem(loginField)

	submit := func() {
		login := strings.TrimSpace(loginField.GetText())
		if login == "" {
			statusText.SetText("[red]Please enter an account name[-]")
			return
		}
		a.doLogin(login, statusText)
	}
	loginField.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			submit()
		}
	})
	form.AddButton("Connect", submit)
	form.AddButton("Quit", a.quit)

	formFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusText, 1, 0, false)

	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(formFlex, 50, 0, true).
			AddItem(nil, 0, 1, false), 9, 0, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage("auth", modal, true, true)
	a.app.SetFocus(form)

	if a.cfg.Account != "" {
		a.doLogin(a.cfg.Account, statusText)
	}
}

// doLogin connects in the background so the UI stays responsive through
// the dial retries.
func (a *App) doLogin(login string, statusText *tview.TextView) {
	statusText.SetText("[yellow]Connecting...[-]")

	go func() {
		err := a.openSession(context.Background(), login)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.logger.Error("login failed", "account", login, "err", err)
				statusText.SetText("[red]" + tview.Escape(describeError(err)) + "[-]")
				return
			}
			a.showMainScreen()
		})
	}()
}
