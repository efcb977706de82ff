package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/mmkb/internal/api"
	"github.com/seanblong/mmkb/internal/app"
	"github.com/seanblong/mmkb/internal/auth"
	"github.com/seanblong/mmkb/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	// Create flagset for configuration
	fs := pflag.NewFlagSet("mmkb-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().
		Str("provider", cfg.Provider).
		Str("image_provider", cfg.ImageProvider).
		Str("vector_store", cfg.VectorStore).
		Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("starting mmkb api")

	authn, err := auth.New(auth.Config{
		Enabled:   cfg.Auth.Enabled,
		JwtSecret: []byte(cfg.Auth.JwtSecret),
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	srv := &api.Server{
		Ingester:  a.Indexer,
		Searcher:  a.Search,
		Auth:      authn,
		UploadDir: cfg.UploadDir(),
		Archive:   a.Mirror(),
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", server.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}
