package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"main/internal/api"
	"main/internal/bus"
	"main/internal/engine"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/queue"
	"main/internal/router"
	"main/internal/store"
	"main/pkg/conn"
)

func main() {
	cfg, err := ops.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func run(cfg ops.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PyroscopeAddr != "" {
		if _, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "order-engine",
			ServerAddress:   cfg.PyroscopeAddr,
		}); err != nil {
			logger.Warn("pyroscope start failed", zap.Error(err))
		}
	}

	db, err := conn.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer conn.ClosePostgres(db)

	orders := store.NewOrders(db)
	if err := orders.Migrate(); err != nil {
		return fmt.Errorf("migrate orders: %w", err)
	}

	rdb, err := conn.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer rdb.Close()

	kv := store.NewRedisKV(rdb)
	registry := bus.NewRegistry()
	emitter := bus.NewEmitter(registry, kv, logger)
	rt := router.New(logger)

	jobs := queue.NewClient(cfg.RedisAddr, cfg.MaxAttempts)
	defer jobs.Close()

	service := engine.NewService(orders, emitter, jobs, logger)
	processor := engine.NewProcessor(orders, emitter, rt, cfg.ExecTimeout, logger)

	worker := queue.NewWorker(queue.WorkerConfig{
		RedisAddr:      cfg.RedisAddr,
		Concurrency:    cfg.Concurrency,
		RateLimitMax:   cfg.RateLimitMax,
		RateLimitEvery: cfg.RateLimitEvery,
		BackoffSeed:    cfg.BackoffSeed,
	}, processor, processor.Abandon, logger)
	if err := worker.Start(); err != nil {
		return fmt.Errorf("worker start: %w", err)
	}
	defer worker.Shutdown()

	apiServer := api.NewServer(service, registry, emitter, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: apiServer.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}
