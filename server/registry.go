package server

import (
	"sort"
	"sync"
	"time"
)

type EventKind int

const (
	SessionRegistered EventKind = iota + 1
	SessionUnregistered
)

func (k EventKind) String() string {
	switch k {
	case SessionRegistered:
		return "registered"
	case SessionUnregistered:
		return "unregistered"
	}
	return "unknown"
}

// RegistryEvent is published whenever a session is bound or released.
type RegistryEvent struct {
	Kind    EventKind
	Account string
	At      time.Time
}

// Session binds an account to the one connection it authenticated on.
type Session struct {
	Account     string
	Conn        *Conn
	ConnectedAt time.Time
}

const subscriberBuffer = 64

// Registry holds the live connections and the account sessions bound to
// them. At most one session exists per account.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	conns       []*Conn
	subscribers []chan RegistryEvent
	closed      bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Track adds an unauthenticated connection to the live set.
func (r *Registry) Track(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, c)
}

// Untrack removes c from the live set and reports whether it was there.
func (r *Registry) Untrack(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, tracked := range r.conns {
		if tracked == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Tracked(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tracked := range r.conns {
		if tracked == c {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the live connection set.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, len(r.conns))
	copy(out, r.conns)
	return out
}

func (r *Registry) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Register binds account to c unless the account already has a session.
func (r *Registry) Register(account string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[account]; exists {
		return false
	}
	now := time.Now()
	r.sessions[account] = &Session{Account: account, Conn: c, ConnectedAt: now}
	r.publish(RegistryEvent{Kind: SessionRegistered, Account: account, At: now})
	return true
}

func (r *Registry) Lookup(account string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	return s, ok
}

func (r *Registry) Unregister(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[account]; !ok {
		return
	}
	delete(r.sessions, account)
	r.publish(RegistryEvent{Kind: SessionUnregistered, Account: account, At: time.Now()})
}

// Sessions returns the current sessions ordered by account.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Subscribe returns a channel receiving registry events. Events are
// dropped for a subscriber whose buffer is full. The channel is closed by
// Close.
func (r *Registry) Subscribe() <-chan RegistryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan RegistryEvent, subscriberBuffer)
	if r.closed {
		close(ch)
		return ch
	}
	r.subscribers = append(r.subscribers, ch)
	return ch
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
}

// publish must be called with mu held.
func (r *Registry) publish(ev RegistryEvent) {
	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
