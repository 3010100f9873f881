package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
)

func main() {
	printOnly := flag.Bool("print", false, "print the schema DDL and exit")
	timeout := flag.Duration("timeout", 30*time.Second, "migration timeout")
	flag.Parse()

	if *printOnly {
		fmt.Print(db.Schema())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pool.Close()

	start := time.Now()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	log.Info("schema applied", zap.Duration("took", time.Since(start)))
}
