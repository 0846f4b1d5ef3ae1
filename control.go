package main

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"msgr/server"
)

type controlTarget interface {
	GetStats() string
	Sessions() []server.Session
}

// startControlSocket serves one-line management commands on a unix socket
// until ctx is done.
func startControlSocket(ctx context.Context, path string, srv controlTarget, shutdown func(), logger *slog.Logger) {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		logger.Error("failed to create control socket", "path", path, "err", err)
		return
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	logger.Info("control socket listening", "path", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		go handleControlCommand(srv, conn, shutdown, logger)
	}
}

func handleControlCommand(srv controlTarget, conn net.Conn, shutdown func(), logger *slog.Logger) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}

	cmd := strings.TrimSpace(line)
	switch cmd {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "active":
		sessions := srv.Sessions()
		items := make([]string, 0, len(sessions))
		for _, s := range sessions {
			items = append(items, s.Account+"@"+s.Conn.RemoteAddr()+"@"+s.ConnectedAt.UTC().Format(time.RFC3339))
		}
		conn.Write([]byte("OK|" + strings.Join(items, ";") + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		logger.Info("shutdown requested via control socket")
		shutdown()

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
