// Command expire-holds runs one sweep of timed-out holds and exits. It suits
// cron-style scheduling next to, or instead of, the API's in-process sweeper.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/EngLamisKhaled/Flashsale/internal/clock"
	"github.com/EngLamisKhaled/Flashsale/internal/config"
	"github.com/EngLamisKhaled/Flashsale/internal/logging"
	"github.com/EngLamisKhaled/Flashsale/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup, including the log
// file flush, happens before the process exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}

	logger, logCloser, err := logging.New("expire-holds", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Printf("init logging: %v", err)
		return 1
	}
	defer logCloser.Close()

	if cfg.Store != config.StorePostgres {
		logger.Error("expire-holds needs a shared store", slog.String("store", cfg.Store))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to db", slog.String("error", err.Error()))
		return 1
	}
	defer pool.Close()

	repo := postgres.NewHoldRepository(pool,
		postgres.WithLockTimeout(cfg.LockTimeout),
		postgres.WithSweepBatchSize(cfg.SweepBatchSize),
	)
	svc := app.NewSweepService(repo,
		app.WithLogger(logger),
		app.WithRetry(cfg.SettleMaxAttempts, 20*time.Millisecond),
	)

	n, err := svc.SweepExpiredHolds(ctx, clock.NewSystem().Now())
	if err != nil {
		logger.Error("sweep failed", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("sweep finished", slog.Int("expired", n))
	return 0
}
