package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPort(t *testing.T) {
	p, err := NewPort(7777)
	require.NoError(t, err)
	assert.Equal(t, Port(7777), p)

	for _, bad := range []int{0, 80, 1023, 65536} {
		_, err := NewPort(bad)
		assert.ErrorIs(t, err, ErrInvalidPort, "port %d", bad)
	}
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, ":7777", cfg.Addr())
}

func TestLoadServerYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: 127.0.0.1
port: 8000
codec: cbor
read_timeout: 3s
db_path: /tmp/x.db
`), 0o600))

	t.Setenv("MSGR_PORT", "9000")
	t.Setenv("MSGR_ACCEPT_TIMEOUT", "20ms")

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1", cfg.ListenAddress)
	assert.Equal(t, Port(9000), cfg.Port)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.AcceptTimeout)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
}

func TestLoadServerBadEnv(t *testing.T) {
	t.Setenv("MSGR_READ_TIMEOUT", "soon")
	_, err := LoadServer("")
	assert.Error(t, err)
}

func TestServerValidate(t *testing.T) {
	cfg := DefaultServer()
	cfg.Port = 80
	cfg.Codec = "xml"
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidPort)
	assert.ErrorIs(t, err, ErrInvalidCodec)
}

func TestLoadClientEnv(t *testing.T) {
	t.Setenv("MSGR_SERVER", "10.1.1.1")
	t.Setenv("MSGR_ACCOUNT", "alice")
	t.Setenv("MSGR_RETRY_ATTEMPTS", "3")

	cfg, err := LoadClient("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "10.1.1.1:7777", cfg.Addr())
	assert.Equal(t, "alice", cfg.Account)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MSGR_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MSGR_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("MSGR_TEST_DOTENV"))
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(os.Stderr, "debug")
	require.NoError(t, err)
	_, err = NewLogger(os.Stderr, "chatty")
	assert.Error(t, err)
}
