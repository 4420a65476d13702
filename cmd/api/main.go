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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"lobby/api/internal/app"
	"lobby/api/internal/config"
	"lobby/api/internal/lease"
	"lobby/api/internal/realtime"
	"lobby/api/internal/store"
	"lobby/api/internal/sweep"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	configureLogging(cfg)
	gin.SetMode(cfg.GinMode)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("lobby api stopped")
	}
	log.Info().Msg("lobby api exited gracefully")
}

func configureLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.GinMode == gin.ReleaseMode {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func run(ctx context.Context, cfg config.Config) error {
	dataStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dataStore.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	service := app.New(cfg, dataStore)
	hub := realtime.NewHub(cfg.CORSOrigin)
	service.SetPublisher(hub)

	var locker sweep.Locker
	if cfg.RedisURL != "" && cfg.SweepMode == config.SweepModeTicker {
		redisLease, err := lease.NewRedisLease(cfg.RedisURL, lease.DefaultKey)
		if err != nil {
			return fmt.Errorf("sweep lease: %w", err)
		}
		defer redisLease.Close()
		locker = redisLease
		log.Info().Msg("using redis lease for the presence sweep")
	}
	runner := sweep.NewRunner(service, cfg.SweepInterval, locker)

	sweepLoop := runner.Run
	if cfg.SweepMode == config.SweepModeAsynq {
		asynqRunner, err := sweep.NewAsynqRunner(cfg.RedisURL, runner)
		if err != nil {
			return fmt.Errorf("asynq sweep: %w", err)
		}
		sweepLoop = asynqRunner.Run
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, hub).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Msg("lobby api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweepLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgresStore(db), nil
	case config.DriverMongo:
		mongoStore, err := store.OpenMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		return mongoStore, nil
	default:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
}
