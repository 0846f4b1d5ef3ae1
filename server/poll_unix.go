//go:build linux || darwin || freebsd || netbsd || openbsd

package server

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func descriptor(raw net.Conn) int {
	sc, ok := raw.(syscall.Conn)
	if !ok {
		return -1
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1
	}
	return fd
}

// pollDescriptors runs a zero-timeout poll(2) over the descriptors.
func pollDescriptors(conns []*Conn, r *readiness) error {
	if len(conns) == 0 {
		return nil
	}

	fds := make([]unix.PollFd, len(conns))
	for i, c := range conns {
		fds[i] = unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN | unix.POLLOUT}
	}

	for {
		_, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	for i, c := range conns {
		revents := fds[i].Revents
		if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			r.readable[c] = true
		}
		if revents&unix.POLLOUT != 0 {
			r.writable[c] = true
		}
	}
	return nil
}
