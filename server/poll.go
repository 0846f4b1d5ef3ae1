package server

import (
	"errors"
	"net"
	"os"
	"time"
)

// probeTimeout bounds the read probe used for connections without a
// pollable descriptor.
const probeTimeout = time.Millisecond

type readiness struct {
	readable map[*Conn]bool
	writable map[*Conn]bool
}

// pollConns computes which connections can be read and written right now.
// A complete frame already buffered in a connection makes it readable.
func pollConns(conns []*Conn) readiness {
	r := readiness{
		readable: make(map[*Conn]bool, len(conns)),
		writable: make(map[*Conn]bool, len(conns)),
	}

	var pollable, rest []*Conn
	for _, c := range conns {
		if c.frameReady() || c.readErr != nil {
			r.readable[c] = true
		}
		if c.fd >= 0 {
			pollable = append(pollable, c)
		} else {
			rest = append(rest, c)
		}
	}

	if err := pollDescriptors(pollable, &r); err != nil {
		rest = append(rest, pollable...)
	}
	for _, c := range rest {
		probe(c, &r)
	}
	return r
}

// probe reads under a tiny deadline into the connection's buffer. The
// connection is readable once a whole frame is buffered or the read failed.
func probe(c *Conn, r *readiness) {
	r.writable[c] = true
	if r.readable[c] {
		return
	}
	if _, err := c.fill(probeTimeout); err != nil || c.frameReady() {
		r.readable[c] = true
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
