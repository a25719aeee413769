// Command server runs the sandbox backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/pet-ride/internal/config"
	"github.com/example/pet-ride/internal/geo"
	"github.com/example/pet-ride/internal/ingest"
	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/matcher"
	"github.com/example/pet-ride/internal/payments"
	"github.com/example/pet-ride/internal/route"
	"github.com/example/pet-ride/internal/sandbox"
	"github.com/example/pet-ride/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	deps, cleanup, err := wire(cfg, logger)
	if err != nil {
		logger.Error("wiring failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := sandbox.New(deps, sandbox.Options{Currency: cfg.Currency})
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("sandbox listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	srv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// wire picks each backend from configuration, falling back to in-memory
// implementations when a dependency is not configured.
func wire(cfg config.ServerConfig, logger *slog.Logger) (sandbox.Deps, func(), error) {
	var closers []func() error
	deps := sandbox.Deps{Logger: logger}

	if cfg.RedisAddr != "" {
		deps.Geo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("driver locations in redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return deps, nil, err
		}
		closers = append(closers, ps.Close)
		if cfg.RunMigrations {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := ps.Migrate(ctx)
			cancel()
			if err != nil {
				return deps, nil, err
			}
			logger.Info("migrations applied")
		}
		deps.Store = ps
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, kp.Close)
		deps.Publisher = kp
	}

	if cfg.StripeAPIKey != "" {
		deps.Gateway = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	deps.Matcher = &matcher.Service{
		Cache:           route.NewCache(time.Minute),
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		TopN:            cfg.PendingJobsTopN,
	}
	if cfg.RoutingURL != "" {
		deps.Matcher.Router = route.NewOSRMClient(cfg.RoutingURL)
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}
	return deps, cleanup, nil
}
