//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package server

import "net"

func descriptor(net.Conn) int { return -1 }

func pollDescriptors(conns []*Conn, r *readiness) error {
	for _, c := range conns {
		probe(c, r)
	}
	return nil
}
