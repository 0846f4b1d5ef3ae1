package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgr/config"
)

func TestOptionsApplyOnlyChanged(t *testing.T) {
	cmd := rootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"-n", "alice", "--port", "9000", "--codec", "cbor"}))

	cfg := config.DefaultClient()
	cfg.ServerAddress = "chat.example"

	var opts options
	opts.account, opts.port, opts.codec = "alice", 9000, "cbor"
	require.NoError(t, opts.apply(cmd.Flags(), cfg))

	assert.Equal(t, "alice", cfg.Account)
	assert.Equal(t, config.Port(9000), cfg.Port)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, "chat.example", cfg.ServerAddress)
	assert.Equal(t, "client.log", cfg.LogFile)
}

func TestOptionsApplyBadPort(t *testing.T) {
	cmd := rootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "80"}))

	opts := options{port: 80}
	err := opts.apply(cmd.Flags(), config.DefaultClient())
	assert.ErrorIs(t, err, config.ErrInvalidPort)
}
