// Package ui is the terminal front end of the chat client.
package ui

import (
	"log/slog"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"msgr/client/store"
	"msgr/client/transport"
	"msgr/config"
)

// App is the main application
type App struct {
	app    *tview.Application
	pages  *tview.Pages
	cfg    *config.Client
	logger *slog.Logger

	// Guarded by mu.
	mu           sync.RWMutex
	transport    *transport.Transport
	store        *store.Store
	currentUser  string
	contacts     []string
	unreadCounts map[string]int
	currentChat  string

	contactsList   *tview.List
	chatView       *tview.TextView
	chatStatus     *tview.TextView
	messageInput   *tview.InputField
	statusBar      *tview.TextView
	connectionView *tview.TextView
}

func NewApp(cfg *config.Client, logger *slog.Logger) *App {
	return &App{
		cfg:          cfg,
		logger:       logger,
		unreadCounts: make(map[string]int),
	}
}

// Run starts the application and blocks until it quits.
func (a *App) Run() error {
	a.app = tview.NewApplication()
	a.pages = tview.NewPages()

	background := tview.NewBox()
	background.SetBackgroundColor(tcell.NewRGBColor(64, 64, 64))
	a.pages.AddPage("background", background, true, true)

	a.showAuthDialog()

	err := a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
	a.closeSession()
	return err
}

func (a *App) quit() {
	a.app.Stop()
}

// session returns the live transport and store, or nils before login.
func (a *App) session() (*transport.Transport, *store.Store) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transport, a.store
}
