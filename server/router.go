package server

import (
	"sync"
	"time"

	"msgr/protocol"
)

// maxDeliveryRetries is how many extra ticks a message waits for a
// registered but unwritable destination before the peer is dropped.
const maxDeliveryRetries = 1

// PendingMessage is a chat message accepted from its sender and waiting
// for the outbound phase.
type PendingMessage struct {
	Sender      string
	Destination string
	Text        string
	Time        protocol.Timestamp
	EnqueuedAt  time.Time
	attempts    int
}

func (m PendingMessage) frame() *protocol.Frame {
	return protocol.Message{
		Sender:      m.Sender,
		Destination: m.Destination,
		Text:        m.Text,
		Time:        m.Time,
	}.Frame()
}

// Router is the FIFO of pending messages.
type Router struct {
	mu    sync.Mutex
	queue []PendingMessage
}

func NewRouter() *Router {
	return &Router{}
}

func (r *Router) Enqueue(m PendingMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}
	r.queue = append(r.queue, m)
}

// Drain takes every queued message, leaving the queue empty.
func (r *Router) Drain() []PendingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queue
	r.queue = nil
	return out
}

// retry puts m back for the next tick if it still has retries left.
func (r *Router) retry(m PendingMessage) bool {
	if m.attempts >= maxDeliveryRetries {
		return false
	}
	m.attempts++
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, m)
	return true
}

func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
