package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/store"
)

var (
	ErrMissingTokens   = errors.New("baseToken and quoteToken are required")
	ErrInvalidSide     = errors.New("side must be buy or sell")
	ErrInvalidAmount   = errors.New("amountIn must be > 0")
	ErrInvalidSlippage = errors.New("slippageBps must be >= 0")
)

const defaultSlippageBps = 100

// OrderStore is the durable-store surface the engine needs.
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id string) (model.Order, error)
	Update(ctx context.Context, id string, update store.OrderUpdate) error
}

// Enqueuer hands an order id to the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string) error
}

// CreateMarketOrderInput is the validated intent consumed by the core.
type CreateMarketOrderInput struct {
	BaseToken   string     `json:"baseToken"`
	QuoteToken  string     `json:"quoteToken"`
	Side        model.Side `json:"side"`
	AmountIn    float64    `json:"amountIn"`
	SlippageBps *int       `json:"slippageBps"`
}

func (in CreateMarketOrderInput) validate() error {
	if in.BaseToken == "" || in.QuoteToken == "" {
		return ErrMissingTokens
	}
	if !in.Side.Valid() {
		return ErrInvalidSide
	}
	if in.AmountIn <= 0 {
		return ErrInvalidAmount
	}
	if in.SlippageBps != nil && *in.SlippageBps < 0 {
		return ErrInvalidSlippage
	}
	return nil
}

// Service creates orders and enqueues their execution jobs.
type Service struct {
	orders  OrderStore
	emitter *bus.Emitter
	jobs    Enqueuer
	log     *zap.Logger
}

// NewService wires the order service.
func NewService(orders OrderStore, emitter *bus.Emitter, jobs Enqueuer, log *zap.Logger) *Service {
	return &Service{orders: orders, emitter: emitter, jobs: jobs, log: log}
}

// CreateMarketOrder persists a pending order, snapshots it, emits the
// pending event, and enqueues an execution job referencing its id.
func (s *Service) CreateMarketOrder(ctx context.Context, in CreateMarketOrderInput) (model.Order, error) {
	if err := in.validate(); err != nil {
		return model.Order{}, err
	}

	slippage := defaultSlippageBps
	if in.SlippageBps != nil {
		slippage = *in.SlippageBps
	}

	now := time.Now().UTC()
	order := model.Order{
		ID:          uuid.NewString(),
		Type:        model.OrderTypeMarket,
		BaseToken:   in.BaseToken,
		QuoteToken:  in.QuoteToken,
		Side:        in.Side,
		AmountIn:    in.AmountIn,
		SlippageBps: slippage,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orders.Create(ctx, &order); err != nil {
		return model.Order{}, err
	}

	s.emitter.WriteSnapshot(ctx, order)
	s.emitter.Emit(ctx, order.ID, model.StatusPending, map[string]any{"order": order})

	if err := s.jobs.Enqueue(ctx, order.ID); err != nil {
		// workers will never see this order, so settle it right away
		// instead of leaving a pending row behind
		s.failUnqueued(ctx, order.ID, err)
		return model.Order{}, err
	}

	s.log.Info("order created",
		zap.String("orderId", order.ID),
		zap.String("side", string(order.Side)),
		zap.Float64("amountIn", order.AmountIn))
	return order, nil
}

func (s *Service) failUnqueued(ctx context.Context, orderID string, cause error) {
	s.log.Error("enqueue failed", zap.String("orderId", orderID), zap.Error(cause))

	reason := "failed to enqueue execution job"
	failed := model.StatusFailed
	if err := s.orders.Update(ctx, orderID, store.OrderUpdate{
		Status:        &failed,
		FailureReason: &reason,
	}); err != nil {
		s.log.Error("mark unqueued order failed", zap.String("orderId", orderID), zap.Error(err))
	}
	s.emitter.DropSnapshot(ctx, orderID)
	s.emitter.Emit(ctx, orderID, model.StatusFailed, map[string]any{"error": reason})
}

// GetOrder loads one order from the durable store.
func (s *Service) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return s.orders.GetByID(ctx, id)
}
