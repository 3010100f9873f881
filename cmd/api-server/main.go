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

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	if cfg.AutoMigrate {
		migrateCtx, cancelMigrate := context.WithTimeout(rootCtx, 30*time.Second)
		err := db.Migrate(migrateCtx, pgPool)
		cancelMigrate()
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema applied")
	}

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRedis()
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	repo := booking.NewPgRepository(pgPool, cfg.DBLockTimeout)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := booking.NewService(repo, locker, cfg, log.Named("booking"))

	router := api.NewRouter(api.RouterConfig{
		Service:            svc,
		Postgres:           pgPool,
		Redis:              api.RedisPinger{Client: rdb},
		Logger:             log.Named("http"),
		Env:                cfg.Env,
		Version:            version,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("api-server stopped cleanly")
	return nil
}
