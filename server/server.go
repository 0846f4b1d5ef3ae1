package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"msgr/db"
	"msgr/models"
	"msgr/protocol"
)

var (
	ErrNameInUse     = errors.New("name already in use")
	ErrImpersonation = errors.New("request identity does not match session")
	ErrDirectoryMiss = errors.New("destination offline or unknown")
)

// Store is the persistence the server needs.
type Store interface {
	UserLogin(login, ip string, port int) error
	UserLogout(login string) error
	UsersList() ([]models.User, error)
	CheckUser(login string) (bool, error)
	AddContact(owner, contact string) error
	RemoveContact(owner, contact string) error
	GetContacts(owner string) ([]string, error)
	ProcessMessage(sender, recipient string) error
}

var _ Store = (*db.DB)(nil)

type ServerConfig struct {
	Addr          string
	Codec         protocol.Codec
	AcceptTimeout time.Duration
	// ReadTimeout is how long a partly received frame may wait for the
	// rest of its bytes before the peer is dropped.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// readWait bounds the read of bytes poll(2) already reported.
const readWait = time.Millisecond

const (
	acceptBackoffMin = 50 * time.Millisecond
	acceptBackoffMax = time.Second
)

var errFrameStalled = errors.New("incomplete frame timed out")

// tcpListener is the part of *net.TCPListener the accept phase uses.
type tcpListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// Server multiplexes every client connection on a single control loop.
type Server struct {
	store    Store
	config   *ServerConfig
	codec    protocol.Codec
	registry *Registry
	router   *Router
	metrics  *Metrics
	logger   *slog.Logger
	listener tcpListener

	// Accept failures other than timeouts pause accepting for a while.
	acceptBackoff time.Duration
	acceptResume  time.Time
	acceptErr     string
}

func New(store Store, config *ServerConfig, logger *slog.Logger) *Server {
	if config.Codec == nil {
		config.Codec = protocol.JSONCodec{}
	}
	if config.AcceptTimeout <= 0 {
		config.AcceptTimeout = 100 * time.Millisecond
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 2 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry()
	router := NewRouter()
	return &Server{
		store:    store,
		config:   config,
		codec:    config.Codec,
		registry: registry,
		router:   router,
		metrics:  newMetrics(registry, router),
		logger:   logger,
	}
}

func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) Router() *Router { return s.router }

func (s *Server) Metrics() *Metrics { return s.metrics }

// Sessions lists the live sessions ordered by account.
func (s *Server) Sessions() []Session { return s.registry.Sessions() }

// Listen binds the listening socket.
func (s *Server) Listen() error {
	addr, err := net.ResolveTCPAddr("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and runs the loop until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	return s.Run(ctx)
}

// Run ticks until ctx is cancelled, then closes every connection.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Run called before Listen")
	}
	s.logger.Info("server started", "addr", s.listener.Addr().String(), "codec", s.codec.Name())
	defer s.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		s.tick()
	}
}

func (s *Server) tick() {
	s.acceptPhase()

	conns := s.registry.Snapshot()
	if len(conns) > 0 {
		ready := pollConns(conns)
		for _, c := range conns {
			if ready.readable[c] && s.registry.Tracked(c) {
				s.inbound(c)
			}
		}
		s.outbound(ready.writable)
		s.expireStalled(conns)
	}

	s.metrics.ticks.Inc()
}

func (s *Server) acceptPhase() {
	if !s.acceptResume.IsZero() {
		if wait := time.Until(s.acceptResume); wait > 0 {
			time.Sleep(min(wait, s.config.AcceptTimeout))
			return
		}
	}

	s.listener.SetDeadline(time.Now().Add(s.config.AcceptTimeout))
	raw, err := s.listener.Accept()
	if err != nil {
		if isTimeout(err) || errors.Is(err, net.ErrClosed) {
			return
		}
		s.acceptFailed(err)
		return
	}
	if s.acceptErr != "" {
		s.logger.Info("accept recovered", "after", s.acceptErr)
	}
	s.acceptBackoff, s.acceptResume, s.acceptErr = 0, time.Time{}, ""

	c := newConn(raw, s.codec, s.logger)
	s.registry.Track(c)
	c.logger.Info("connection accepted")
}

// acceptFailed backs off exponentially and logs each distinct error once.
func (s *Server) acceptFailed(err error) {
	if s.acceptBackoff == 0 {
		s.acceptBackoff = acceptBackoffMin
	} else {
		s.acceptBackoff = min(2*s.acceptBackoff, acceptBackoffMax)
	}
	s.acceptResume = time.Now().Add(s.acceptBackoff)

	if msg := err.Error(); msg != s.acceptErr {
		s.acceptErr = msg
		s.logger.Warn("accept failed", "err", err, "retry_in", s.acceptBackoff)
	}
}

// inbound handles at most one frame from c. Bytes of an unfinished frame
// stay buffered for later ticks.
func (s *Server) inbound(c *Conn) {
	if !c.frameReady() {
		c.fill(readWait)
	}
	frame, err := c.nextFrame()
	if err != nil {
		s.peerLost(c, err)
		return
	}
	if frame == nil {
		if c.readErr != nil {
			s.peerLost(c, c.readErr)
		}
		return
	}

	req, err := protocol.Decode(frame)
	if err != nil {
		c.logger.Warn("invalid request", "err", err)
		s.reject(c, "invalid", protocol.ErrTextInvalid)
		return
	}

	s.metrics.requests.WithLabelValues(req.Action()).Inc()
	c.logger.Debug("request", "action", req.Action(), "identity", req.Identity())
	s.handleRequest(c, req)
}

// outbound drains the queue once against this tick's writable set.
func (s *Server) outbound(writable map[*Conn]bool) {
	for _, m := range s.router.Drain() {
		sess, ok := s.registry.Lookup(m.Destination)
		if !ok {
			s.logger.Info("destination gone, message discarded",
				"sender", m.Sender, "destination", m.Destination)
			s.metrics.dropped.WithLabelValues("offline").Inc()
			continue
		}

		if !writable[sess.Conn] {
			if s.router.retry(m) {
				continue
			}
			sess.Conn.logger.Warn("destination not writable, dropping peer",
				"account", m.Destination, "sender", m.Sender)
			s.metrics.dropped.WithLabelValues("unwritable").Inc()
			s.dropConn(sess.Conn)
			continue
		}

		if err := s.send(sess.Conn, m.frame()); err != nil {
			s.metrics.dropped.WithLabelValues("write_error").Inc()
			s.peerLost(sess.Conn, err)
			continue
		}

		s.metrics.delivered.Inc()
		s.metrics.deliveryLatency.Observe(time.Since(m.EnqueuedAt).Seconds())
		s.logger.Info("message delivered", "sender", m.Sender, "destination", m.Destination)
	}
}

// expireStalled drops peers whose unfinished frame waited past ReadTimeout.
func (s *Server) expireStalled(conns []*Conn) {
	now := time.Now()
	for _, c := range conns {
		if s.registry.Tracked(c) && c.stalled(now, s.config.ReadTimeout) {
			c.logger.Warn("dropping peer with stalled frame", "buffered", len(c.pending))
			s.peerLost(c, errFrameStalled)
		}
	}
}

func (s *Server) send(c *Conn, f *protocol.Frame) error {
	c.raw.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.codec.WriteFrame(c.raw, f)
}

// respond writes a reply; a failed write loses the peer.
func (s *Server) respond(c *Conn, resp protocol.Response) {
	if err := s.send(c, resp.Frame()); err != nil {
		s.peerLost(c, err)
	}
}

func (s *Server) reject(c *Conn, reason, text string) {
	s.metrics.rejected.WithLabelValues(reason).Inc()
	s.respond(c, protocol.BadRequest(text))
}

func (s *Server) peerLost(c *Conn, err error) {
	if !s.registry.Tracked(c) {
		return
	}
	if c.account != "" {
		c.logger.Info("client disconnected", "account", c.account, "err", err)
	} else {
		c.logger.Info("client disconnected", "err", err)
	}
	s.dropConn(c)
}

// dropConn releases c: its session (if any) is unregistered and logged
// out, then the socket is closed. Repeated calls are no-ops.
func (s *Server) dropConn(c *Conn) {
	if !s.registry.Untrack(c) {
		return
	}
	if c.account != "" {
		if sess, ok := s.registry.Lookup(c.account); ok && sess.Conn == c {
			s.registry.Unregister(c.account)
			if err := s.store.UserLogout(c.account); err != nil {
				c.logger.Error("logout failed", "account", c.account, "err", err)
			}
		}
	}
	c.close()
}

// Shutdown closes the listener and every connection, logging out all
// sessions.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.registry.Snapshot() {
		s.dropConn(c)
	}
	s.registry.Close()
	s.logger.Info("server stopped")
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	sessions := s.registry.Sessions()
	users := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		users = append(users, sess.Account)
	}

	return "connections=" + strconv.Itoa(s.registry.ConnCount()) +
		",sessions=" + strconv.Itoa(len(sessions)) +
		",queued=" + strconv.Itoa(s.router.Len()) +
		",users=" + strings.Join(users, ";")
}
