package server

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgr/protocol"
)

func pipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})
	return newConn(serverSide, protocol.JSONCodec{}, discardLogger()), clientSide
}

func TestRegistrySingleSessionPerAccount(t *testing.T) {
	r := NewRegistry()
	first, _ := pipeConn(t)
	second, _ := pipeConn(t)

	assert.True(t, r.Register("carol", first))
	assert.False(t, r.Register("carol", second))

	sess, ok := r.Lookup("carol")
	require.True(t, ok)
	assert.Same(t, first, sess.Conn)

	r.Unregister("carol")
	_, ok = r.Lookup("carol")
	assert.False(t, ok)
	assert.True(t, r.Register("carol", second))
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	conns := make([]*Conn, 16)
	for i := range conns {
		conns[i], _ = pipeConn(t)
	}

	var wins atomicCounter
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if r.Register("carol", c) {
				wins.inc()
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, wins.get())
	assert.Equal(t, 1, r.SessionCount())
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRegistryTracking(t *testing.T) {
	r := NewRegistry()
	a, _ := pipeConn(t)
	b, _ := pipeConn(t)

	r.Track(a)
	r.Track(b)
	assert.Equal(t, 2, r.ConnCount())
	assert.True(t, r.Tracked(a))

	snap := r.Snapshot()
	assert.True(t, r.Untrack(a))
	assert.False(t, r.Untrack(a))
	assert.False(t, r.Tracked(a))
	assert.Len(t, snap, 2, "snapshot is a copy")
	assert.Equal(t, []*Conn{b}, r.Snapshot())
}

func TestRegistrySessionsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		c, _ := pipeConn(t)
		require.True(t, r.Register(name, c))
	}

	var names []string
	for _, s := range r.Sessions() {
		names = append(names, s.Account)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
}

func TestRegistryEvents(t *testing.T) {
	r := NewRegistry()
	events := r.Subscribe()
	c, _ := pipeConn(t)

	r.Register("alice", c)
	r.Unregister("alice")
	r.Unregister("alice")
	r.Close()
	r.Close()

	var got []RegistryEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, SessionRegistered, got[0].Kind)
	assert.Equal(t, SessionUnregistered, got[1].Kind)
	assert.Equal(t, "alice", got[1].Account)
	assert.False(t, got[0].At.IsZero())

	_, open := <-r.Subscribe()
	assert.False(t, open, "subscribe after close returns a closed channel")
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "registered", SessionRegistered.String())
	assert.Equal(t, "unregistered", SessionUnregistered.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
