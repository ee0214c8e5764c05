// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	httpAdapter "github.com/leseb/openresponses-bridge/pkg/adapters/http"
	"github.com/leseb/openresponses-bridge/pkg/core/config"
	"github.com/leseb/openresponses-bridge/pkg/core/engine"
	"github.com/leseb/openresponses-bridge/pkg/core/session"
	"github.com/leseb/openresponses-bridge/pkg/core/state"
	"github.com/leseb/openresponses-bridge/pkg/dispatch"
	"github.com/leseb/openresponses-bridge/pkg/filestore"
	"github.com/leseb/openresponses-bridge/pkg/media"
	"github.com/leseb/openresponses-bridge/pkg/observability/logging"

	// Registered providers.
	_ "github.com/leseb/openresponses-bridge/pkg/dispatch/echo"
	_ "github.com/leseb/openresponses-bridge/pkg/dispatch/openai"
	_ "github.com/leseb/openresponses-bridge/pkg/filestore/filesystem"
	_ "github.com/leseb/openresponses-bridge/pkg/filestore/memory"
	_ "github.com/leseb/openresponses-bridge/pkg/filestore/s3"
	_ "github.com/leseb/openresponses-bridge/pkg/storage/filesystem"
	_ "github.com/leseb/openresponses-bridge/pkg/storage/memory"
	_ "github.com/leseb/openresponses-bridge/pkg/storage/postgres"
	_ "github.com/leseb/openresponses-bridge/pkg/storage/sqlite"
)

var (
	// Version is set via ldflags during build
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "Path to configuration file")
	port := flag.IntP("port", "p", 0, "HTTP port to listen on (overrides config)")
	version := flag.BoolP("version", "v", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("Open Responses Bridge\nVersion: %s\nBuild Time: %s\n", Version, BuildTime)
		os.Exit(0)
	}

	envErr := godotenv.Load()

	cfg, cfgErr := loadConfig(*configPath)
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", cfgErr)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}
	if cfgErr != nil {
		logger.Warn("Failed to load config, using defaults", "path", *configPath, "error", cfgErr)
	}
	logger.Info("Starting Open Responses Bridge",
		"version", Version,
		"build_time", BuildTime)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

// loadConfig falls back to defaults when the file is missing. It returns a
// nil config only when the defaults cannot serve requests either.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return nil, err
	}
	cfg = config.Default()
	if vErr := cfg.Validate(); vErr != nil {
		return nil, vErr
	}
	return cfg, err
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.Providers.New(ctx, cfg.Sessions.Backend, cfg.Sessions.Params())
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()
	logger.Info("Initialized session store", "backend", cfg.Sessions.Backend)

	files, err := filestore.Providers.New(ctx, cfg.Media.Store, cfg.Media.Params())
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}
	defer files.Close(context.Background())
	logger.Info("Initialized media store", "store", cfg.Media.Store)

	dispatcher, err := dispatch.Providers.New(ctx, cfg.Dispatcher.Type, cfg.Dispatcher.Params())
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	defer dispatcher.Close()
	logger.Info("Initialized dispatcher", "type", cfg.Dispatcher.Type)

	resolver := media.NewResolver(files, media.Options{
		PublicBaseURL: cfg.Media.PublicBaseURL,
		PresignTTL:    cfg.Media.PresignTTL,
		MaxBytes:      cfg.Media.MaxBytes,
		Logger:        logger,
	})
	sessions := session.NewResolver(store, logger)

	eng, err := engine.New(engine.Options{
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Media:      resolver,
		Inputs:     engine.NewInputBuilder(media.NewFetcher(cfg.Media.FetchTimeout, cfg.Media.MaxBytes), 0),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	handler := httpAdapter.New(httpAdapter.Options{
		Engine:       eng,
		Media:        files,
		Tokens:       cfg.Agents(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})

	if cfg.Media.Retention > 0 {
		go sweepMedia(ctx, resolver, cfg.Media.Retention, logger)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", addr, "agents", len(cfg.Auth.Tokens))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Pending session writes abandoned", "error", err)
	}
	return nil
}

func sweepMedia(ctx context.Context, resolver *media.Resolver, retention time.Duration, logger *logging.Logger) {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := resolver.Sweep(ctx, retention)
			if err != nil {
				logger.Warn("Media sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Removed expired media", "count", n)
			}
		}
	}
}
