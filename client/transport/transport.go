// Package transport is the client side of the chat protocol. One socket is
// shared by synchronous request/response calls and a background receiver
// that picks up pushed messages; a single mutex serializes all I/O on it.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"msgr/config"
	"msgr/models"
	"msgr/protocol"
)

var (
	ErrTransportExhausted = errors.New("could not connect to server")
	ErrConnectionLost     = errors.New("connection to server lost")
	ErrClosed             = errors.New("transport closed")
	ErrUnexpectedResponse = errors.New("unexpected response from server")
)

// ServerError is a 400 reply. Text is the server's error string.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string {
	return "server: " + e.Text
}

type State int32

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Ready
	Running
	Degraded
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	}
	return "unknown"
}

type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventConnectionLost
)

// Event is delivered to the presentation layer.
type Event struct {
	Kind EventKind
	From string
	Text string
	Time time.Time
	Err  error
}

const eventBuffer = 128

// Store is the local persistence the transport keeps current.
type Store interface {
	SetKnownUsers(users []string) error
	SetContacts(contacts []string) error
	AddContact(login string) error
	RemoveContact(login string) error
	SaveMessage(contact string, dir models.Direction, text string) error
}

type Config struct {
	Addr          string
	Account       string
	Codec         protocol.Codec
	DialTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	IOTimeout     time.Duration
	PollTimeout   time.Duration
	PollInterval  time.Duration
	ExitGrace     time.Duration
}

// ConfigFrom builds a transport Config from validated client settings.
func ConfigFrom(c *config.Client) (Config, error) {
	codec, err := protocol.CodecByName(c.Codec)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Addr:          c.Addr(),
		Account:       c.Account,
		Codec:         codec,
		DialTimeout:   c.DialTimeout,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		IOTimeout:     c.IOTimeout,
		PollTimeout:   c.PollTimeout,
		PollInterval:  c.PollInterval,
		ExitGrace:     c.ExitGrace,
	}, nil
}

type Transport struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	// mu serializes every read and write on conn.
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	state     atomic.Int32
	events    chan Event
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
}

// Dial connects, performs the Presence handshake and warms the local
// store. The returned transport is Ready; call Start to receive pushes.
func Dial(ctx context.Context, cfg Config, store Store, logger *slog.Logger) (*Transport, error) {
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSONCodec{}
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transport{
		cfg:    cfg,
		store:  store,
		logger: logger.With("account", cfg.Account, "server", cfg.Addr),
		events: make(chan Event, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	t.setState(Connecting)
	conn, err := t.connect(ctx)
	if err != nil {
		t.setState(Disconnected)
		return nil, err
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)

	t.setState(Handshaking)
	if err := t.handshake(); err != nil {
		conn.Close()
		t.setState(Closed)
		return nil, err
	}
	t.setState(Ready)
	t.logger.Info("connected to server")

	if _, err := t.RefreshUsers(); err != nil {
		t.logger.Error("users refresh failed", "err", err)
	}
	if _, err := t.RefreshContacts(); err != nil {
		t.logger.Error("contacts refresh failed", "err", err)
	}
	return t, nil
}

func (t *Transport) connect(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	var lastErr error
	for attempt := 1; attempt <= t.cfg.RetryAttempts; attempt++ {
		t.logger.Info("connecting", "attempt", attempt)
		conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		t.logger.Warn("connect failed", "attempt", attempt, "err", err)

		if attempt == t.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrTransportExhausted, ctx.Err())
		case <-time.After(t.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrTransportExhausted, t.cfg.RetryAttempts, lastErr)
}

func (t *Transport) handshake() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp, err := t.exchange(protocol.Presence{Account: t.cfg.Account, Time: protocol.Now()})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if resp.Code == protocol.CodeBadRequest {
		return &ServerError{Text: resp.Error}
	}
	if resp.Code != protocol.CodeOK {
		return fmt.Errorf("handshake: %w: %d", ErrUnexpectedResponse, resp.Code)
	}
	return nil
}

func (t *Transport) State() State {
	return State(t.state.Load())
}

func (t *Transport) setState(s State) {
	t.state.Store(int32(s))
}

// Events carries pushed messages and the connection-lost notice. It is
// closed by Close.
func (t *Transport) Events() <-chan Event {
	return t.events
}

func (t *Transport) Account() string {
	return t.cfg.Account
}

// Start launches the background receiver.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State() != Ready {
		return fmt.Errorf("start in state %s: %w", t.State(), ErrClosed)
	}
	t.setState(Running)
	t.started.Store(true)
	go t.receive()
	return nil
}

func (t *Transport) receive() {
	defer close(t.done)
	t.logger.Debug("receiver started")

	for {
		select {
		case <-t.stop:
			return
		case <-time.After(t.cfg.PollInterval):
		}
		if !t.poll() {
			return
		}
	}
}

// poll takes the socket for at most PollTimeout unless a frame is
// arriving. It reports whether the receiver should keep going.
func (t *Transport) poll() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State() != Running {
		return false
	}
	defer t.conn.SetReadDeadline(time.Time{})

	for {
		t.conn.SetReadDeadline(time.Now().Add(t.cfg.PollTimeout))
		if _, err := t.reader.Peek(1); err != nil {
			if isTimeout(err) {
				return true
			}
			t.lose(err)
			return false
		}

		t.conn.SetReadDeadline(time.Now().Add(t.cfg.IOTimeout))
		f, err := t.cfg.Codec.ReadFrame(t.reader)
		if err != nil {
			t.lose(err)
			return false
		}
		if f.IsResponse() {
			t.logger.Warn("unsolicited response ignored", "code", f.Response)
		} else {
			t.dispatch(f)
		}
		if t.reader.Buffered() == 0 {
			return true
		}
	}
}

// exchange writes req and reads until its response, dispatching any
// pushed message met on the way. mu must be held.
func (t *Transport) exchange(req protocol.Request) (protocol.Response, error) {
	t.conn.SetDeadline(time.Now().Add(t.cfg.IOTimeout))
	defer t.conn.SetDeadline(time.Time{})

	if err := t.cfg.Codec.WriteFrame(t.conn, protocol.Encode(req)); err != nil {
		return protocol.Response{}, err
	}
	for {
		f, err := t.cfg.Codec.ReadFrame(t.reader)
		if err != nil {
			return protocol.Response{}, err
		}
		if f.IsResponse() {
			return protocol.DecodeResponse(f)
		}
		t.dispatch(f)
	}
}

// dispatch handles a pushed frame. mu must be held.
func (t *Transport) dispatch(f *protocol.Frame) {
	req, err := protocol.Decode(f)
	if err != nil {
		t.logger.Warn("undecodable push ignored", "err", err)
		return
	}
	m, ok := req.(protocol.Message)
	if !ok || m.Destination != t.cfg.Account {
		t.logger.Debug("push ignored", "action", req.Action())
		return
	}

	t.logger.Debug("message received", "from", m.Sender)
	if err := t.store.SaveMessage(m.Sender, models.DirectionIn, m.Text); err != nil {
		t.logger.Error("save message failed", "from", m.Sender, "err", err)
	}
	t.emit(Event{Kind: EventMessage, From: m.Sender, Text: m.Text, Time: m.Time.Time()})
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("event dropped, consumer too slow", "kind", ev.Kind)
	}
}

// lose marks the transport degraded and notifies once. mu must be held.
func (t *Transport) lose(err error) {
	switch t.State() {
	case Ready, Running:
	default:
		return
	}
	t.setState(Degraded)
	t.logger.Error("connection lost", "err", err)
	t.emit(Event{Kind: EventConnectionLost, Err: err, Time: time.Now()})
}

// call runs one synchronous exchange. A 400 reply becomes *ServerError;
// an I/O or decode failure degrades the transport.
func (t *Transport) call(req protocol.Request) (protocol.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case Ready, Running:
	case Degraded:
		return protocol.Response{}, ErrConnectionLost
	default:
		return protocol.Response{}, ErrClosed
	}

	resp, err := t.exchange(req)
	if err != nil {
		t.lose(err)
		return resp, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	if resp.Code == protocol.CodeBadRequest {
		return resp, &ServerError{Text: resp.Error}
	}
	return resp, nil
}

func (t *Transport) SendMessage(to, text string) error {
	resp, err := t.call(protocol.Message{
		Sender:      t.cfg.Account,
		Destination: to,
		Text:        text,
		Time:        protocol.Now(),
	})
	if err != nil {
		return err
	}
	if resp.Code != protocol.CodeOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedResponse, resp.Code)
	}

	t.logger.Info("message sent", "to", to)
	if err := t.store.SaveMessage(to, models.DirectionOut, text); err != nil {
		t.logger.Error("save message failed", "to", to, "err", err)
	}
	return nil
}

func (t *Transport) AddContact(contact string) error {
	if _, err := t.call(protocol.AddContact{User: t.cfg.Account, Contact: contact, Time: protocol.Now()}); err != nil {
		return err
	}
	return t.store.AddContact(contact)
}

func (t *Transport) RemoveContact(contact string) error {
	if _, err := t.call(protocol.RemoveContact{User: t.cfg.Account, Contact: contact, Time: protocol.Now()}); err != nil {
		return err
	}
	return t.store.RemoveContact(contact)
}

// RefreshUsers fetches every known account name and stores it.
func (t *Transport) RefreshUsers() ([]string, error) {
	users, err := t.fetchList(protocol.UsersRequest{Account: t.cfg.Account, Time: protocol.Now()})
	if err != nil {
		return nil, err
	}
	return users, t.store.SetKnownUsers(users)
}

// RefreshContacts fetches the contact list and stores it.
func (t *Transport) RefreshContacts() ([]string, error) {
	contacts, err := t.fetchList(protocol.GetContacts{User: t.cfg.Account, Time: protocol.Now()})
	if err != nil {
		return nil, err
	}
	return contacts, t.store.SetContacts(contacts)
}

func (t *Transport) fetchList(req protocol.Request) ([]string, error) {
	resp, err := t.call(req)
	if err != nil {
		return nil, err
	}
	if resp.Code != protocol.CodeAccepted {
		return nil, fmt.Errorf("%s: %w: %d", req.Action(), ErrUnexpectedResponse, resp.Code)
	}
	return resp.List, nil
}

// Close stops the receiver, sends Exit best-effort, waits ExitGrace and
// releases the socket. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)

		t.mu.Lock()
		prev := t.State()
		sentExit := false
		if prev == Ready || prev == Running {
			t.conn.SetWriteDeadline(time.Now().Add(t.cfg.IOTimeout))
			exit := protocol.Exit{Account: t.cfg.Account, Time: protocol.Now()}
			if werr := t.cfg.Codec.WriteFrame(t.conn, exit.Frame()); werr != nil {
				t.logger.Debug("exit not sent", "err", werr)
			} else {
				sentExit = true
			}
		}
		t.setState(Closed)
		t.mu.Unlock()

		if sentExit {
			time.Sleep(t.cfg.ExitGrace)
		}
		err = t.conn.Close()
		if t.started.Load() {
			<-t.done
		}
		close(t.events)
		t.logger.Info("transport closed", "from", prev.String())
	})
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
