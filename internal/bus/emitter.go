package bus

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"main/internal/model"
	"main/internal/store"
)

const (
	activeOrdersKey = "active_orders"
	replayKeyPrefix = "order:events:"

	// ReplayLimit caps the per-order replay log; the oldest entries are
	// evicted first.
	ReplayLimit = 50
)

func replayKey(orderID string) string {
	return replayKeyPrefix + orderID
}

// Emitter broadcasts lifecycle events to live subscribers and appends
// them to the bounded per-order replay log. Both paths are best-effort;
// the durable store remains authoritative.
type Emitter struct {
	registry *Registry
	kv       store.KV
	log      *zap.Logger
}

// NewEmitter wires the emitter to an injected registry and KV client.
func NewEmitter(registry *Registry, kv store.KV, log *zap.Logger) *Emitter {
	return &Emitter{registry: registry, kv: kv, log: log}
}

// Emit builds a lifecycle event, broadcasts it, and appends it to the
// replay log. Events for one order arrive in emission order because a
// single worker owns the order while it is being processed.
func (e *Emitter) Emit(ctx context.Context, orderID string, status model.Status, data any) {
	if orderID == "" {
		e.log.Error("emit called without order id", zap.String("status", string(status)))
		return
	}

	event := model.LifecycleEvent{
		OrderID: orderID,
		Status:  status,
		Data:    data,
		TS:      time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.log.Warn("marshal lifecycle event failed", zap.String("orderId", orderID), zap.Error(err))
		return
	}

	e.broadcast(orderID, payload)

	key := replayKey(orderID)
	if err := e.kv.ListAppend(ctx, key, string(payload)); err != nil {
		e.log.Warn("replay append failed", zap.String("orderId", orderID), zap.Error(err))
	} else if err := e.kv.ListTrim(ctx, key, -ReplayLimit, -1); err != nil {
		e.log.Warn("replay trim failed", zap.String("orderId", orderID), zap.Error(err))
	}

	e.log.Debug("emit", zap.String("orderId", orderID), zap.String("status", string(status)))
}

// broadcast delivers the payload to every live subscriber. No
// subscribers is a silent no-op; a delivery failure drops only that
// subscriber.
func (e *Emitter) broadcast(orderID string, payload []byte) {
	subs := e.registry.Subscribers(orderID)
	if len(subs) == 0 {
		return
	}
	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			e.registry.Unsubscribe(orderID, sub)
			e.log.Warn("subscriber send failed, removed", zap.String("orderId", orderID), zap.Error(err))
		}
	}
}

// History returns the replay log for an order, oldest first, as raw
// serialized events.
func (e *Emitter) History(ctx context.Context, orderID string) ([]string, error) {
	return e.kv.ListRange(ctx, replayKey(orderID), 0, -1)
}

// WriteSnapshot refreshes the active_orders entry with the latest full
// order state. Failures are logged and swallowed.
func (e *Emitter) WriteSnapshot(ctx context.Context, order model.Order) {
	raw, err := json.Marshal(order)
	if err != nil {
		e.log.Warn("marshal snapshot failed", zap.String("orderId", order.ID), zap.Error(err))
		return
	}
	if err := e.kv.HashSet(ctx, activeOrdersKey, order.ID, string(raw)); err != nil {
		e.log.Warn("snapshot write failed", zap.String("orderId", order.ID), zap.Error(err))
	}
}

// Snapshot loads the active_orders entry for one order, if present.
func (e *Emitter) Snapshot(ctx context.Context, orderID string) (model.Order, bool) {
	raw, err := e.kv.HashGet(ctx, activeOrdersKey, orderID)
	if err != nil {
		return model.Order{}, false
	}
	var order model.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		e.log.Warn("snapshot decode failed", zap.String("orderId", orderID), zap.Error(err))
		return model.Order{}, false
	}
	return order, true
}

// DropSnapshot removes an order from active_orders once it is no longer
// active. Failures are logged and swallowed.
func (e *Emitter) DropSnapshot(ctx context.Context, orderID string) {
	if err := e.kv.HashDelete(ctx, activeOrdersKey, orderID); err != nil {
		e.log.Warn("snapshot delete failed", zap.String("orderId", orderID), zap.Error(err))
	}
}
