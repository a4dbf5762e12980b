package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/EngLamisKhaled/Flashsale/internal/cache"
	"github.com/EngLamisKhaled/Flashsale/internal/clock"
	"github.com/EngLamisKhaled/Flashsale/internal/config"
	"github.com/EngLamisKhaled/Flashsale/internal/events"
	"github.com/EngLamisKhaled/Flashsale/internal/logging"
	"github.com/EngLamisKhaled/Flashsale/internal/metrics"
	"github.com/EngLamisKhaled/Flashsale/internal/storage/memory"
	"github.com/EngLamisKhaled/Flashsale/internal/storage/postgres"
	"github.com/EngLamisKhaled/Flashsale/internal/sweeper"
	transporthttp "github.com/EngLamisKhaled/Flashsale/internal/transport/http"
	"github.com/EngLamisKhaled/Flashsale/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const retryBackoff = 20 * time.Millisecond

type repositories struct {
	products    app.ProductRepository
	holds       app.HoldRepository
	orders      app.OrderRepository
	settlements app.SettlementRepository
	sweeps      app.SweepRepository
	health      transporthttp.HealthCheck
	close       func()
}

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred closes run before the process exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}

	logger, logCloser, err := logging.New("api", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Printf("init logging: %v", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if len(cfg.Sources) == 0 {
		logger.Warn("no .env or config file found, using defaults and environment")
	} else {
		logger.Info("config loaded", slog.Any("sources", cfg.Sources))
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repos, err := openRepositories(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.String("store", cfg.Store), slog.String("error", err.Error()))
		return 1
	}
	defer repos.close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithMetrics(m),
		app.WithHoldTTL(cfg.HoldTTL),
		app.WithRetry(cfg.SettleMaxAttempts, retryBackoff),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(startupCtx).Err(); err != nil {
			logger.Warn("redis unreachable, settlement cache disabled", slog.String("error", err.Error()))
		} else {
			opts = append(opts, app.WithSettlementCache(cache.NewSettlementCache(rdb, cfg.SettlementCacheTTL)))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close event publisher", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, app.WithPublisher(pub))
	}

	clk := clock.NewSystem()
	productSvc := app.NewProductService(repos.products, opts...)
	holdSvc := app.NewHoldService(repos.holds, opts...)
	orderSvc := app.NewOrderService(repos.orders, opts...)
	settlementSvc := app.NewSettlementService(repos.settlements, opts...)
	sweepSvc := app.NewSweepService(repos.sweeps, opts...)

	handler := transporthttp.NewRouter(transporthttp.RouterConfig{
		Products:    productSvc,
		Holds:       holdSvc,
		Orders:      orderSvc,
		Payments:    settlementSvc,
		Clock:       clk,
		Logger:      logger,
		Metrics:     m,
		Health:      repos.health,
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.NewRunner(sweepSvc, clk, cfg.SweepInterval, logger).Run(stopCtx)
	}()

	logger.Info("api listening", slog.String("port", cfg.Port), slog.String("store", cfg.Store))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	code := 0
	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			code = 1
		}
		stop()
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	<-sweepDone
	logger.Info("server stopped")
	return code
}

func openRepositories(ctx context.Context, cfg config.Config, logger *slog.Logger) (repositories, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, state is lost on exit")
		store := memory.New(memory.WithLockTimeout(cfg.LockTimeout))
		return repositories{
			products:    store,
			holds:       store,
			orders:      store,
			settlements: store,
			sweeps:      store,
			close:       func() {},
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return repositories{}, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return repositories{}, err
	}
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		pool.Close()
		return repositories{}, err
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", slog.Any("names", applied))
	}

	opts := []postgres.Option{
		postgres.WithLockTimeout(cfg.LockTimeout),
		postgres.WithSweepBatchSize(cfg.SweepBatchSize),
	}
	holds := postgres.NewHoldRepository(pool, opts...)
	return repositories{
		products:    postgres.NewProductRepository(pool, opts...),
		holds:       holds,
		orders:      postgres.NewOrderRepository(pool, opts...),
		settlements: postgres.NewSettlementRepository(pool, opts...),
		sweeps:      holds,
		health:      pool.Ping,
		close:       pool.Close,
	}, nil
}
