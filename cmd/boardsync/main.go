package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/erauner12/taskboard-sync/internal/config"
)

var version = "0.1.0"

// rootFlags are the persistent flags shared by every subcommand
type rootFlags struct {
	configPath string
	debug      bool
	logLevel   string
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "boardsync",
		Short:         "Keep a local task board in sync with a board API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to configuration file (JSON)")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(watchCmd(flags))
	rootCmd.AddCommand(simCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration from file and environment, then
// applies CLI flag overrides. Validation is left to the subcommand.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if flags.debug {
		cfg.Debug = true
		// --debug implies debug level unless a level was given explicitly
		if flags.logLevel == "info" {
			cfg.LogLevel = "debug"
		}
	}
	if flags.logLevel != "info" {
		cfg.LogLevel = flags.logLevel
	}

	setupLogging(cfg)
	return cfg, nil
}

// setupLogging configures the global logger
func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	if cfg.Debug {
		// Pretty logging for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Caller().Logger()
		return
	}

	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
}

// parseLogLevel converts a string log level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
