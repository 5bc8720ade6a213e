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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"catalogd/pkg/db"
	"catalogd/pkg/telemetry"
	"catalogd/services/api"
	"catalogd/services/blueprints/internal/app"
	"catalogd/services/blueprints/internal/config"
)

const serviceName = "catalogd-blueprints"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg(serviceName)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	log.Logger = logger

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	env, err := app.Open(ctx, cfg, app.Options{Migrate: true, Logger: logger})
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Bootstrap(ctx, cfg, logger); err != nil {
		return err
	}
	if env.Bus == nil {
		logger.Warn().Msg("NATS_URL not set; publish events disabled")
	}
	if env.Objects == nil {
		logger.Warn().Msg("S3 not configured; bundle manifests will not be archived")
	}

	handler, err := newHandler(env, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("starting " + serviceName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
	logger.Info().Msg("stopped")
	return nil
}

func newHandler(env *app.Env, cfg config.Config, logger zerolog.Logger) (http.Handler, error) {
	a, err := api.New(api.Deps{
		Store:     env.Store,
		Publisher: env.Publisher,
		Auth:      env.Access,
		Access:    env.Access,
		Ready:     func(ctx context.Context) error { return db.Ping(ctx, env.Pool) },
		Logger:    logger,
	}, api.Config{
		APIBase:        cfg.APIBaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimitPerMinute,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init api: %w", err)
	}

	routes, err := a.Routes()
	if err != nil {
		return nil, err
	}
	return telemetry.Middleware(serviceName, logger)(routes), nil
}
