package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPort Port = 7777

const (
	MinPort = 1024
	MaxPort = 65535
)

var (
	ErrInvalidPort  = errors.New("port must be between 1024 and 65535")
	ErrInvalidCodec = errors.New("codec must be json or cbor")
)

// Port is a listening or dialing port that has passed range validation.
type Port int

func NewPort(v int) (Port, error) {
	if v < MinPort || v > MaxPort {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidPort, v)
	}
	return Port(v), nil
}

func (p Port) String() string {
	return strconv.Itoa(int(p))
}

// Server holds the server settings.
type Server struct {
	ListenAddress string        `yaml:"listen_address"`
	Port          Port          `yaml:"port"`
	DBPath        string        `yaml:"db_path"`
	Codec         string        `yaml:"codec"`
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	AdminAddr     string        `yaml:"admin_addr"`
	ControlSocket string        `yaml:"control_socket"`
	LogLevel      string        `yaml:"log_level"`
}

func DefaultServer() *Server {
	return &Server{
		Port:          DefaultPort,
		DBPath:        "server_base.db3",
		Codec:         "json",
		AcceptTimeout: 100 * time.Millisecond,
		ReadTimeout:   2 * time.Second,
		WriteTimeout:  2 * time.Second,
		ControlSocket: "/tmp/msgr.sock",
		LogLevel:      "info",
	}
}

// LoadServer builds the server configuration from defaults, the optional
// YAML file at path and MSGR_* environment variables, in that order.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	env := envReader{}
	env.str("MSGR_ADDRESS", &cfg.ListenAddress)
	env.port("MSGR_PORT", &cfg.Port)
	env.str("MSGR_DB_PATH", &cfg.DBPath)
	env.str("MSGR_CODEC", &cfg.Codec)
	env.duration("MSGR_ACCEPT_TIMEOUT", &cfg.AcceptTimeout)
	env.duration("MSGR_READ_TIMEOUT", &cfg.ReadTimeout)
	env.duration("MSGR_WRITE_TIMEOUT", &cfg.WriteTimeout)
	env.str("MSGR_ADMIN_ADDR", &cfg.AdminAddr)
	env.str("MSGR_CONTROL_SOCKET", &cfg.ControlSocket)
	env.str("MSGR_LOG_LEVEL", &cfg.LogLevel)
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Server) Validate() error {
	var errs []error
	if _, err := NewPort(int(c.Port)); err != nil {
		errs = append(errs, err)
	}
	if err := validCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.AcceptTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr is the host:port the server listens on.
func (c *Server) Addr() string {
	return c.ListenAddress + ":" + c.Port.String()
}

// Client holds the client settings.
type Client struct {
	ServerAddress string        `yaml:"server_address"`
	Port          Port          `yaml:"port"`
	Account       string        `yaml:"account"`
	DataDir       string        `yaml:"data_dir"`
	Codec         string        `yaml:"codec"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	IOTimeout     time.Duration `yaml:"io_timeout"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ExitGrace     time.Duration `yaml:"exit_grace"`
	LogLevel      string        `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"`
}

func DefaultClient() *Client {
	return &Client{
		ServerAddress: "127.0.0.1",
		Port:          DefaultPort,
		DataDir:       ".",
		Codec:         "json",
		DialTimeout:   5 * time.Second,
		RetryAttempts: 5,
		RetryDelay:    time.Second,
		IOTimeout:     5 * time.Second,
		PollTimeout:   500 * time.Millisecond,
		PollInterval:  time.Second,
		ExitGrace:     500 * time.Millisecond,
		LogLevel:      "info",
		LogFile:       "client.log",
	}
}

func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	env := envReader{}
	env.str("MSGR_SERVER", &cfg.ServerAddress)
	env.port("MSGR_PORT", &cfg.Port)
	env.str("MSGR_ACCOUNT", &cfg.Account)
	env.str("MSGR_DATA_DIR", &cfg.DataDir)
	env.str("MSGR_CODEC", &cfg.Codec)
	env.duration("MSGR_DIAL_TIMEOUT", &cfg.DialTimeout)
	env.integer("MSGR_RETRY_ATTEMPTS", &cfg.RetryAttempts)
	env.duration("MSGR_RETRY_DELAY", &cfg.RetryDelay)
	env.duration("MSGR_IO_TIMEOUT", &cfg.IOTimeout)
	env.duration("MSGR_POLL_TIMEOUT", &cfg.PollTimeout)
	env.duration("MSGR_POLL_INTERVAL", &cfg.PollInterval)
	env.duration("MSGR_EXIT_GRACE", &cfg.ExitGrace)
	env.str("MSGR_LOG_LEVEL", &cfg.LogLevel)
	env.str("MSGR_LOG_FILE", &cfg.LogFile)
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Client) Validate() error {
	var errs []error
	if _, err := NewPort(int(c.Port)); err != nil {
		errs = append(errs, err)
	}
	if err := validCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.ServerAddress == "" {
		errs = append(errs, errors.New("server_address is required"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry_attempts must be at least 1"))
	}
	if c.DialTimeout <= 0 || c.IOTimeout <= 0 || c.PollTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) Addr() string {
	return c.ServerAddress + ":" + c.Port.String()
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func readYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func validCodec(name string) error {
	switch name {
	case "json", "cbor":
		return nil
	}
	return fmt.Errorf("%w: got %q", ErrInvalidCodec, name)
}

type envReader struct {
	errs []error
}

func (e *envReader) str(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) port(key string, dst *Port) {
	n := int(*dst)
	e.integer(key, &n)
	*dst = Port(n)
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
