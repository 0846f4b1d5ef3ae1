package main

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgr/server"
)

type fakeTarget struct{}

func (fakeTarget) GetStats() string { return "connections=0,sessions=0,queued=0,users=" }

func (fakeTarget) Sessions() []server.Session {
	return []server.Session{{
		Account:     "alice",
		Conn:        &server.Conn{ID: "c-1"},
		ConnectedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}
}

func control(t *testing.T, command string) (string, bool) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	called := make(chan struct{}, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go handleControlCommand(fakeTarget{}, serverSide, func() { called <- struct{}{} }, logger)

	clientSide.SetDeadline(time.Now().Add(3 * time.Second))
	_, err := clientSide.Write([]byte(command + "\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(clientSide).ReadString('\n')
	require.NoError(t, err)

	select {
	case <-called:
		return strings.TrimSpace(reply), true
	case <-time.After(100 * time.Millisecond):
		return strings.TrimSpace(reply), false
	}
}

func TestControlStats(t *testing.T) {
	reply, shutdown := control(t, "stats")
	assert.Equal(t, "OK|connections=0,sessions=0,queued=0,users=", reply)
	assert.False(t, shutdown)
}

func TestControlActive(t *testing.T) {
	reply, _ := control(t, "active")
	assert.Equal(t, "OK|alice@:0@2024-05-01T12:00:00Z", reply)
}

func TestControlShutdown(t *testing.T) {
	reply, shutdown := control(t, "shutdown")
	assert.Equal(t, "OK|Shutting down", reply)
	assert.True(t, shutdown)
}

func TestControlUnknown(t *testing.T) {
	reply, shutdown := control(t, "dance")
	assert.Equal(t, "ERROR|Unknown command", reply)
	assert.False(t, shutdown)
}
