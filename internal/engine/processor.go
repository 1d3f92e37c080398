package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/router"
	"main/internal/store"
)

// Processor drives one order through the lifecycle state machine. A
// single worker owns an order for the duration of its job, so no lock
// guards the order row itself.
type Processor struct {
	orders      OrderStore
	emitter     *bus.Emitter
	router      *router.Router
	execTimeout time.Duration
	log         *zap.Logger
}

// NewProcessor wires the lifecycle processor.
func NewProcessor(orders OrderStore, emitter *bus.Emitter, rt *router.Router, execTimeout time.Duration, log *zap.Logger) *Processor {
	return &Processor{
		orders:      orders,
		emitter:     emitter,
		router:      rt,
		execTimeout: execTimeout,
		log:         log,
	}
}

// Process runs the full pipeline once for the given order id. The job
// payload is a thin pointer; the order is reloaded from the durable
// store on every attempt. Errors are returned to the queue, which
// decides retry vs exhaustion; store.ErrOrderNotFound is terminal.
func (p *Processor) Process(ctx context.Context, orderID string) error {
	order, err := p.orders.GetByID(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		p.log.Error("order not found", zap.String("orderId", orderID))
		p.emitter.Emit(ctx, orderID, model.StatusFailed, map[string]any{"error": "order not found"})
		return err
	}
	if err != nil {
		return err
	}

	if err := p.run(ctx, order); err != nil {
		p.fail(ctx, orderID, err)
		return err
	}
	return nil
}

func (p *Processor) run(ctx context.Context, order model.Order) error {
	if err := p.advance(ctx, order.ID, model.StatusRouting, nil, store.OrderUpdate{}); err != nil {
		return err
	}

	quotes, err := p.router.Quotes(ctx, order.BaseToken, order.QuoteToken, order.AmountIn)
	if err != nil {
		return err
	}
	best := router.ChooseBest(order.Side, quotes[0], quotes[1])
	p.log.Info("selected route", zap.String("orderId", order.ID), zap.String("dex", string(best.Dex)))

	if err := p.advance(ctx, order.ID, model.StatusBuilding,
		map[string]any{"selectedDex": best.Dex, "quote": best},
		store.OrderUpdate{SelectedDex: &best.Dex},
	); err != nil {
		return err
	}

	// recorded in the event payload only; the executed price is not
	// checked against this bound
	minPrice := router.MinAcceptablePrice(order.Side, best.Price, order.SlippageBps)
	if err := p.advance(ctx, order.ID, model.StatusSubmitted,
		map[string]any{"selectedDex": best.Dex, "minAcceptablePrice": minPrice},
		store.OrderUpdate{},
	); err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, p.execTimeout)
	defer cancel()
	exec, err := p.router.Execute(execCtx, best.Dex, best.Price)
	if err != nil {
		return err
	}

	if err := p.advance(ctx, order.ID, model.StatusConfirmed,
		map[string]any{"selectedDex": exec.Dex, "executedPrice": exec.ExecutedPrice, "txHash": exec.TxHash},
		store.OrderUpdate{
			SelectedDex:        &exec.Dex,
			ExecutedPrice:      &exec.ExecutedPrice,
			TxHash:             &exec.TxHash,
			ClearFailureReason: true,
		},
	); err != nil {
		return err
	}

	// confirmed orders are no longer active
	p.emitter.DropSnapshot(ctx, order.ID)
	p.log.Info("order confirmed", zap.String("orderId", order.ID), zap.String("txHash", exec.TxHash))
	return nil
}

// advance applies one transition's side-effect triple: durable status
// update, best-effort snapshot refresh, best-effort broadcast + replay.
func (p *Processor) advance(ctx context.Context, orderID string, status model.Status, data map[string]any, update store.OrderUpdate) error {
	update.Status = &status
	if err := p.orders.Update(ctx, orderID, update); err != nil {
		return err
	}
	p.refreshSnapshot(ctx, orderID)
	p.emitter.Emit(ctx, orderID, status, data)
	return nil
}

func (p *Processor) refreshSnapshot(ctx context.Context, orderID string) {
	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		p.log.Warn("snapshot reload failed", zap.String("orderId", orderID), zap.Error(err))
		return
	}
	p.emitter.WriteSnapshot(ctx, order)
}

// fail short-circuits the machine to failed, recording the cause. The
// snapshot stays in place while the queue may still retry.
func (p *Processor) fail(ctx context.Context, orderID string, cause error) {
	p.log.Error("order processing failed", zap.String("orderId", orderID), zap.Error(cause))
	reason := cause.Error()
	status := model.StatusFailed
	if err := p.orders.Update(ctx, orderID, store.OrderUpdate{Status: &status, FailureReason: &reason}); err != nil {
		p.log.Warn("failure update failed", zap.String("orderId", orderID), zap.Error(err))
	}
	p.refreshSnapshot(ctx, orderID)
	p.emitter.Emit(ctx, orderID, model.StatusFailed, map[string]any{"error": reason})
}

// Abandon finalizes an order whose job exhausted its retries: the last
// attempt already persisted failed and its reason, so only the
// no-longer-active snapshot is removed here.
func (p *Processor) Abandon(ctx context.Context, orderID string, cause error) {
	p.log.Error("order abandoned after retries", zap.String("orderId", orderID), zap.Error(cause))
	p.emitter.DropSnapshot(ctx, orderID)
}
