package server

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"msgr/protocol"
)

// readChunk is the most a connection reads in one tick.
const readChunk = 4096

// Conn is one client connection owned by the control loop. It starts
// unauthenticated; account is set once a Presence succeeds.
type Conn struct {
	ID          string
	raw         net.Conn
	codec       protocol.Codec
	fd          int
	account     string
	remoteIP    string
	remotePort  int
	connectedAt time.Time
	logger      *slog.Logger

	// Bytes received but not yet handled. A frame may arrive over several
	// ticks; partialSince marks when the oldest unfinished one began.
	pending      []byte
	partialSince time.Time
	readErr      error
}

func newConn(raw net.Conn, codec protocol.Codec, logger *slog.Logger) *Conn {
	c := &Conn{
		ID:          uuid.NewString(),
		raw:         raw,
		codec:       codec,
		fd:          descriptor(raw),
		connectedAt: time.Now(),
	}
	c.remoteIP, c.remotePort = splitAddr(raw.RemoteAddr())
	c.logger = logger.With("conn", c.ID, "remote", c.RemoteAddr())
	return c
}

// RemoteAddr returns the peer address as host:port.
func (c *Conn) RemoteAddr() string {
	return net.JoinHostPort(c.remoteIP, strconv.Itoa(c.remotePort))
}

// fill reads what the socket has within wait and appends it to pending.
// A timeout is not an error; anything else is kept in readErr.
func (c *Conn) fill(wait time.Duration) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	var chunk [readChunk]byte
	c.raw.SetReadDeadline(time.Now().Add(wait))
	n, err := c.raw.Read(chunk[:])
	if n > 0 {
		if len(c.pending) == 0 {
			c.partialSince = time.Now()
		}
		c.pending = append(c.pending, chunk[:n]...)
	}
	if err != nil && !isTimeout(err) {
		c.readErr = err
		return n, err
	}
	return n, nil
}

// frameReady reports whether pending holds a whole frame, or bytes the
// codec already rejects.
func (c *Conn) frameReady() bool {
	n, err := c.codec.Cut(c.pending)
	return n > 0 || err != nil
}

// nextFrame removes the first complete frame from pending. It returns nil
// and no error while the frame is still incomplete.
func (c *Conn) nextFrame() (*protocol.Frame, error) {
	n, err := c.codec.Cut(c.pending)
	if err != nil || n == 0 {
		return nil, err
	}
	f, err := c.codec.Parse(c.pending[:n])
	c.pending = append(c.pending[:0], c.pending[n:]...)
	if len(c.pending) > 0 {
		c.partialSince = time.Now()
	}
	return f, err
}

// stalled reports whether an unfinished frame has waited longer than limit.
func (c *Conn) stalled(now time.Time, limit time.Duration) bool {
	return len(c.pending) > 0 && !c.frameReady() && now.Sub(c.partialSince) > limit
}

func (c *Conn) close() {
	if err := c.raw.Close(); err != nil {
		c.logger.Debug("close failed", "err", err)
	}
}

func splitAddr(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
