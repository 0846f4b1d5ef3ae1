package server

import (
	"bufio"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgr/protocol"
)

func TestRouterFIFO(t *testing.T) {
	r := NewRouter()
	r.Enqueue(PendingMessage{Sender: "a", Destination: "b", Text: "1"})
	r.Enqueue(PendingMessage{Sender: "a", Destination: "b", Text: "2"})
	assert.Equal(t, 2, r.Len())

	drained := r.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "1", drained[0].Text)
	assert.Equal(t, "2", drained[1].Text)
	assert.False(t, drained[0].EnqueuedAt.IsZero())
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Drain())
}

func TestRouterRetryOnce(t *testing.T) {
	r := NewRouter()
	m := PendingMessage{Sender: "a", Destination: "b", Text: "hi"}

	require.True(t, r.retry(m))
	again := r.Drain()
	require.Len(t, again, 1)
	assert.False(t, r.retry(again[0]))
	assert.Zero(t, r.Len())
}

// newUnitServer builds a server that is never run; tests drive its phases
// directly.
func newUnitServer(t *testing.T) (*Server, *countingStore) {
	t.Helper()
	store := newTestStore(t)
	return New(store, &ServerConfig{WriteTimeout: time.Second}, discardLogger()), store
}

func bindSession(t *testing.T, s *Server, account string) (*Conn, *bufio.Reader) {
	t.Helper()
	c, peer := pipeConn(t)
	s.registry.Track(c)
	require.True(t, s.registry.Register(account, c))
	c.account = account
	require.NoError(t, s.store.UserLogin(account, "127.0.0.1", 40000))
	return c, bufio.NewReader(peer)
}

func TestOutboundUnwritableRetriesThenDrops(t *testing.T) {
	s, store := newUnitServer(t)
	bob, _ := bindSession(t, s, "bob")
	s.router.Enqueue(PendingMessage{Sender: "alice", Destination: "bob", Text: "hi"})

	s.outbound(map[*Conn]bool{})
	assert.Equal(t, 1, s.router.Len(), "first miss requeues")
	assert.True(t, s.registry.Tracked(bob))

	s.outbound(map[*Conn]bool{})
	assert.Zero(t, s.router.Len())
	assert.False(t, s.registry.Tracked(bob))
	_, ok := s.registry.Lookup("bob")
	assert.False(t, ok)
	assert.EqualValues(t, 1, store.logouts.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.dropped.WithLabelValues("unwritable")))
}

func TestOutboundDiscardsWithoutSession(t *testing.T) {
	s, _ := newUnitServer(t)
	s.router.Enqueue(PendingMessage{Sender: "alice", Destination: "bob", Text: "hi"})

	s.outbound(map[*Conn]bool{})

	assert.Zero(t, s.router.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.dropped.WithLabelValues("offline")))
}

func TestOutboundDeliversToWritable(t *testing.T) {
	s, _ := newUnitServer(t)
	bob, peer := bindSession(t, s, "bob")
	ts := protocol.Now()
	s.router.Enqueue(PendingMessage{Sender: "alice", Destination: "bob", Text: "hi", Time: ts})

	got := make(chan *protocol.Frame, 1)
	go func() {
		f, err := protocol.JSONCodec{}.ReadFrame(peer)
		if err == nil {
			got <- f
		}
		close(got)
	}()

	s.outbound(map[*Conn]bool{bob: true})

	select {
	case f := <-got:
		require.NotNil(t, f)
		assert.Equal(t, protocol.ActionMessage, f.Action)
		assert.Equal(t, "alice", f.Sender)
		assert.Equal(t, "bob", f.Destination)
		assert.Equal(t, "hi", f.Text)
		assert.Equal(t, ts, f.Time)
	case <-time.After(testTimeout):
		t.Fatal("message not delivered")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.delivered))
	assert.Equal(t, 1, testutil.CollectAndCount(s.metrics.deliveryLatency))
}

func TestMetricsGauges(t *testing.T) {
	s, _ := newUnitServer(t)
	bindSession(t, s, "alice")
	s.router.Enqueue(PendingMessage{Sender: "alice", Destination: "bob"})
	s.metrics.ObserveRegistryEvent(RegistryEvent{Kind: SessionRegistered, Account: "alice"})

	families, err := s.Metrics().Gatherer().Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil && len(m.GetLabel()) > 0:
				values[mf.GetName()+"/"+m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["msgr_registry_sessions"])
	assert.Equal(t, 1.0, values["msgr_registry_connections"])
	assert.Equal(t, 1.0, values["msgr_router_queue_depth"])
	assert.Equal(t, 1.0, values["msgr_registry_events_total/registered"])
}
