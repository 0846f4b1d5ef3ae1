package ui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"msgr/client/store"
	"msgr/client/transport"
)

// StorePath is the local database of account inside dataDir.
func StorePath(dataDir, account string) string {
	return filepath.Join(dataDir, "client_"+account+".db3")
}

// openSession connects as account and starts consuming transport events.
func (a *App) openSession(ctx context.Context, account string) error {
	cfg, err := transport.ConfigFrom(a.cfg)
	if err != nil {
		return err
	}
	cfg.Account = account

	st, err := store.New(StorePath(a.cfg.DataDir, account))
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	tr, err := transport.Dial(ctx, cfg, st, a.logger)
	if err != nil {
		st.Close()
		return err
	}
	if err := tr.Start(); err != nil {
		tr.Close()
		st.Close()
		return err
	}

	a.mu.Lock()
	a.transport = tr
	a.store = st
	a.currentUser = account
	a.mu.Unlock()

	go a.consumeEvents(tr)
	return nil
}

// closeSession sends Exit and releases the connection and store.
func (a *App) closeSession() {
	a.mu.Lock()
	tr, st := a.transport, a.store
	a.transport, a.store = nil, nil
	a.mu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			a.logger.Debug("transport close", "err", err)
		}
	}
	if st != nil {
		st.Close()
	}
}

func (a *App) reconnect() {
	a.mu.RLock()
	account := a.currentUser
	a.mu.RUnlock()

	a.closeSession()
	a.connectionView.SetText("[yellow]Connecting...[-]")

	go func() {
		err := a.openSession(context.Background(), account)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.setConnectionError(describeError(err))
				return
			}
			a.updateConnectionStatus()
			a.updateStatusBarText()
			a.loadContacts()
		})
	}()
}

func (a *App) updateConnectionStatus() {
	if a.connectionView == nil {
		return
	}
	tr, _ := a.session()
	if tr == nil {
		a.connectionView.SetText(fmt.Sprintf("[red]○ Disconnected from %s[-]", a.cfg.Addr()))
		return
	}
	switch tr.State() {
	case transport.Ready, transport.Running:
		a.connectionView.SetText(fmt.Sprintf("[green]● Connected to %s as %s[-]", a.cfg.Addr(), tr.Account()))
	case transport.Degraded:
		a.connectionView.SetText("[red]○ Connection lost[-] [gray]│ F6 to reconnect[-]")
	default:
		a.connectionView.SetText(fmt.Sprintf("[yellow]%s[-]", tr.State()))
	}
}

func (a *App) setConnectionError(msg string) {
	if a.connectionView == nil {
		return
	}
	a.connectionView.SetText(fmt.Sprintf("[red]✗ Error: %s[-]", msg))
}

func (a *App) updateStatusBarText() {
	if a.statusBar == nil {
		return
	}
	tr, _ := a.session()
	if tr != nil && tr.State() != transport.Degraded {
		a.statusBar.SetText(" F1:Help | F2:Add | F4:Remove | F5:Refresh | F10:Quit ")
	} else {
		a.statusBar.SetText(" F1:Help | F6:Reconnect | F10:Quit ")
	}
}

func (a *App) connected() bool {
	tr, _ := a.session()
	if tr == nil {
		return false
	}
	s := tr.State()
	return s == transport.Ready || s == transport.Running
}

// describeError turns transport errors into text for the user.
func describeError(err error) string {
	var serr *transport.ServerError
	switch {
	case errors.As(err, &serr):
		return "Server: " + serr.Text
	case errors.Is(err, transport.ErrTransportExhausted):
		return "Server unavailable"
	case errors.Is(err, transport.ErrConnectionLost):
		return "Connection lost"
	case errors.Is(err, transport.ErrClosed):
		return "Not connected"
	}
	return err.Error()
}
