// Package main provides the puppeteer-mcp entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/server"
	"github.com/puppeteer-mcp/puppeteer-mcp/pkg/version"
)

// Exit codes: 0 clean, 1 runtime failure, 2 invalid configuration,
// 64 usage error.
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
	exitUsage  = 64
)

func main() {
	root := &cobra.Command{
		Use:           "puppeteer-mcp",
		Short:         "Multi-protocol control plane for a pool of headless browsers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the server (default command)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStart()
			},
		},
		&cobra.Command{
			Use:   "validate-config",
			Short: "Load configuration from the environment and report problems",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runValidate()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("puppeteer-mcp %s (%s)\n", version.Full(), version.GoVersion())
			},
		},
	)

	if err := root.Execute(); err != nil {
		var cfgErr configError
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfig)
		}
		// Cobra surfaces unknown commands and bad flags as plain
		// errors before any RunE executes.
		if !commandRan {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(exitUsage)
		}
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

// commandRan distinguishes parse failures from runtime failures.
var commandRan bool

type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func runStart() error {
	commandRan = true
	cfg := config.Load()
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Configuration invalid")
		return configError{err}
	}
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Initializing browser pool")
	svc, err := server.NewServices(ctx, cfg, driver.NewRodDriver(cfg))
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return err
	}

	if err := server.New(cfg, svc).Run(ctx); err != nil {
		return err
	}
	return nil
}

func runValidate() error {
	commandRan = true
	cfg := config.Load()
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Configuration invalid:", err)
		return configError{err}
	}
	fmt.Println("Configuration OK")
	return nil
}

// setupLogging configures zerolog from LOG_LEVEL and LOG_FORMAT.
func setupLogging(level, format string) {
	if format == "pretty" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func printBanner(cfg *config.Config) {
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Int("grpc_port", cfg.GRPCPort).
		Str("mcp_transport", cfg.MCPTransport).
		Bool("ws_enabled", cfg.WSEnabled).
		Msg("Starting puppeteer-mcp")
}
