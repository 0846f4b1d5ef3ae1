package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"msgr/client/ui"
	"msgr/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// options are the command line overrides of the client config.
type options struct {
	configFile string
	server     string
	port       int
	account    string
	dataDir    string
	codec      string
	logLevel   string
	logFile    string
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "msgr-client",
		Short:         "Terminal chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.LoadClient(opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := opts.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return err
			}

			return run(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML config file")
	f.StringVarP(&opts.server, "server", "s", "", "server address")
	f.IntVarP(&opts.port, "port", "p", int(config.DefaultPort), "server port")
	f.StringVarP(&opts.account, "name", "n", "", "account name, prompts when empty")
	f.StringVar(&opts.dataDir, "data-dir", "", "directory for the local message store")
	f.StringVar(&opts.codec, "codec", "", "wire codec: json or cbor")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&opts.logFile, "log-file", "", "log file, empty to disable logging")
	return cmd
}

// apply copies the flags that were set explicitly over cfg.
func (o *options) apply(flags *pflag.FlagSet, cfg *config.Client) error {
	if flags.Changed("server") {
		cfg.ServerAddress = o.server
	}
	if flags.Changed("port") {
		p, err := config.NewPort(o.port)
		if err != nil {
			return err
		}
		cfg.Port = p
	}
	if flags.Changed("name") {
		cfg.Account = o.account
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if flags.Changed("codec") {
		cfg.Codec = o.codec
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	return nil
}

// run logs to a file since the terminal belongs to the UI.
func run(cfg *config.Client) error {
	var w io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		w = f
	}
	logger, err := config.NewLogger(w, cfg.LogLevel)
	if err != nil {
		return err
	}

	logger.Info("client starting", "server", cfg.Addr(), "codec", cfg.Codec)
	return ui.NewApp(cfg, logger).Run()
}
