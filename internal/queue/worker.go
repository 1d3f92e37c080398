package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"main/internal/store"
)

// Processor runs the full pipeline once per job delivery; it performs no
// retry loop of its own.
type Processor interface {
	Process(ctx context.Context, orderID string) error
}

// WorkerConfig bounds the pool: up to Concurrency jobs in parallel,
// dispatch limited to RateLimitMax per RateLimitEvery window (excess
// jobs wait, they are not dropped), exponential backoff seeded at
// BackoffSeed between redeliveries.
type WorkerConfig struct {
	RedisAddr      string
	Concurrency    int
	RateLimitMax   int
	RateLimitEvery time.Duration
	BackoffSeed    time.Duration
}

// Worker consumes order-execution jobs and reports failures back to the
// queue, which decides retry vs exhaustion.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *zap.Logger

	onExhausted func(ctx context.Context, orderID string, cause error)
}

// NewWorker builds the worker pool. onExhausted fires once per job after
// its final failed attempt.
func NewWorker(cfg WorkerConfig, proc Processor, onExhausted func(ctx context.Context, orderID string, cause error), log *zap.Logger) *Worker {
	w := &Worker{log: log, onExhausted: onExhausted}

	w.server = asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency:    cfg.Concurrency,
			Queues:         map[string]int{queueName: 1},
			RetryDelayFunc: ExponentialBackoff(cfg.BackoffSeed),
			ErrorHandler:   asynq.ErrorHandlerFunc(w.handleError),
			Logger:         asynqLogger{log.Sugar()},
		},
	)

	limiter := rate.NewLimiter(rate.Every(cfg.RateLimitEvery/time.Duration(cfg.RateLimitMax)), cfg.RateLimitMax)
	w.mux = asynq.NewServeMux()
	w.mux.Use(waitForSlot(limiter))
	w.mux.HandleFunc(TaskOrderExecute, executeHandler(proc, log))
	return w
}

// Start launches the pool in the background.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight jobs and stops the pool. Unacknowledged
// jobs are redelivered later.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func (w *Worker) handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	var p executePayload
	if uerr := json.Unmarshal(task.Payload(), &p); uerr != nil {
		w.log.Error("undecodable task failed", zap.Error(err))
		return
	}
	w.settleFailure(ctx, p.OrderID, retried, maxRetry, err)
}

// settleFailure distinguishes an attempt that will be redelivered from
// an exhausted job.
func (w *Worker) settleFailure(ctx context.Context, orderID string, retried, maxRetry int, cause error) {
	if retried < maxRetry && !errors.Is(cause, asynq.SkipRetry) {
		w.log.Warn("order job failed, will retry",
			zap.String("orderId", orderID),
			zap.Int("attempt", retried+1),
			zap.Int("maxAttempts", maxRetry+1),
			zap.Error(cause))
		return
	}
	w.log.Error("order job exhausted retries",
		zap.String("orderId", orderID),
		zap.Int("attempts", retried+1),
		zap.Error(cause))
	if w.onExhausted != nil {
		w.onExhausted(ctx, orderID, cause)
	}
}

// ExponentialBackoff doubles the seed per redelivery: seed, 2*seed,
// 4*seed, ...
func ExponentialBackoff(seed time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := seed
		for i := 0; i < n; i++ {
			d *= 2
		}
		return d
	}
}

// waitForSlot blocks dispatch until the rate limiter admits the job.
func waitForSlot(limiter *rate.Limiter) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return next.ProcessTask(ctx, task)
		})
	}
}

// executeHandler decodes the thin payload and runs the pipeline once.
// A missing order is terminal; redelivery cannot make it appear.
func executeHandler(proc Processor, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p executePayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		log.Info("processing order job", zap.String("orderId", p.OrderID))
		if err := proc.Process(ctx, p.OrderID); err != nil {
			if errors.Is(err, store.ErrOrderNotFound) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}

// asynqLogger adapts zap to the asynq logging interface.
type asynqLogger struct {
	s *zap.SugaredLogger
}

func (l asynqLogger) Debug(args ...any) { l.s.Debug(args...) }
func (l asynqLogger) Info(args ...any)  { l.s.Info(args...) }
func (l asynqLogger) Warn(args ...any)  { l.s.Warn(args...) }
func (l asynqLogger) Error(args ...any) { l.s.Error(args...) }
func (l asynqLogger) Fatal(args ...any) { l.s.Fatal(args...) }
