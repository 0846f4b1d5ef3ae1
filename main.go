package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"msgr/admin"
	"msgr/config"
	"msgr/db"
	"msgr/protocol"
	"msgr/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configFile string
		port       int
		address    string
		dbPath     string
		codec      string
		adminAddr  string
		socketPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "msgr-server",
		Short:         "Chat message routing server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.LoadServer(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				p, err := config.NewPort(port)
				if err != nil {
					return err
				}
				cfg.Port = p
			}
			if flags.Changed("address") {
				cfg.ListenAddress = address
			}
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("codec") {
				cfg.Codec = codec
			}
			if flags.Changed("admin") {
				cfg.AdminAddr = adminAddr
			}
			if flags.Changed("control-socket") {
				cfg.ControlSocket = socketPath
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "YAML config file")
	f.IntVarP(&port, "port", "p", int(config.DefaultPort), "TCP port to listen on")
	f.StringVarP(&address, "address", "a", "", "address to listen on, empty for all interfaces")
	f.StringVar(&dbPath, "db", "", "server database path")
	f.StringVar(&codec, "codec", "", "wire codec: json or cbor")
	f.StringVar(&adminAddr, "admin", "", "admin HTTP address, empty to disable")
	f.StringVar(&socketPath, "control-socket", "", "control socket path, empty to disable")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func run(parent context.Context, cfg *config.Server) error {
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	wireCodec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	srv := server.New(database, &server.ServerConfig{
		Addr:          cfg.Addr(),
		Codec:         wireCodec,
		AcceptTimeout: cfg.AcceptTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	}, logger)
	if err := srv.Listen(); err != nil {
		return err
	}

	go watchRegistry(srv, srv.Registry().Subscribe(), logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.ControlSocket != "" {
		go startControlSocket(ctx, cfg.ControlSocket, srv, cancel, logger)
	}
	if cfg.AdminAddr != "" {
		h := admin.New(database, srv, srv.Metrics().Gatherer(), logger)
		go func() {
			if err := admin.Serve(ctx, cfg.AdminAddr, h.Router(), logger); err != nil {
				logger.Error("admin API stopped", "err", err)
			}
		}()
	}

	return srv.Run(ctx)
}

// watchRegistry logs session changes and feeds them to the metrics until
// the registry is closed.
func watchRegistry(srv *server.Server, events <-chan server.RegistryEvent, logger *slog.Logger) {
	for ev := range events {
		srv.Metrics().ObserveRegistryEvent(ev)
		logger.Info("session "+ev.Kind.String(), "account", ev.Account, "sessions", srv.Registry().SessionCount())
	}
}
