package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/config"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/logging"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/server"
)

type serveOptions struct {
	port         string
	host         string
	dev          bool
	logLevel     string
	backend      string
	profilesFile string
	origins      []string
	noRateLimit  bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Long:  "Run the server. Configuration comes from environment variables; flags override them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	bindServeFlags(cmd.Flags(), opts)
	return cmd
}

func bindServeFlags(flags *pflag.FlagSet, opts *serveOptions) {
	flags.StringVar(&opts.port, "port", "", "listen port (PORT)")
	flags.StringVar(&opts.host, "host", "", "listen host (HOST)")
	flags.BoolVar(&opts.dev, "dev", false, "development logging (LOG_DEV)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (LOG_LEVEL)")
	flags.StringVar(&opts.backend, "backend", "", "default sandbox backend: container, process or remote (SANDBOX_BACKEND)")
	flags.StringVar(&opts.profilesFile, "profiles", "", "language profiles file, yaml or toml (SANDBOX_PROFILES)")
	flags.StringSliceVar(&opts.origins, "cors-origins", nil, "allowed origins (CORS_ORIGINS)")
	flags.BoolVar(&opts.noRateLimit, "no-rate-limit", false, "disable HTTP rate limiting")
}

// loadServeConfig reads the environment and applies the flags that were set.
func loadServeConfig(flags *pflag.FlagSet, opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("dev") {
		cfg.Logging.Development = opts.dev
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("backend") {
		cfg.Sandbox.Backend = opts.backend
	}
	if flags.Changed("profiles") {
		cfg.Sandbox.ProfilesFile = opts.profilesFile
	}
	if flags.Changed("cors-origins") {
		cfg.CORS.Origins = opts.origins
	}
	if opts.noRateLimit {
		cfg.RateLimit.Enabled = false
	}

	return cfg, cfg.Validate()
}

func serve(cfg *config.Config) error {
	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Close()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully...", zap.String("signal", sig.String()))
	case runErr = <-errChan:
		if runErr != nil {
			logger.Error("Server error", zap.Error(runErr))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
