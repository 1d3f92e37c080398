package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"main/internal/bus"
	"main/internal/engine"
	"main/internal/model"
	"main/internal/store"
)

type memOrders struct {
	mu     sync.Mutex
	orders map[string]model.Order
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]model.Order)}
}

func (m *memOrders) Create(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return model.Order{}, store.ErrOrderNotFound
	}
	return order, nil
}

func (m *memOrders) Update(_ context.Context, id string, update store.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return store.ErrOrderNotFound
	}
	if update.Status != nil {
		order.Status = *update.Status
	}
	m.orders[id] = order
	return nil
}

type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(context.Context, string) error { return nil }

type testEnv struct {
	server   *httptest.Server
	registry *bus.Registry
	emitter  *bus.Emitter
	orders   *memOrders
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	orders := newMemOrders()
	registry := bus.NewRegistry()
	emitter := bus.NewEmitter(registry, store.NewMemoryKV(), zap.NewNop())
	service := engine.NewService(orders, emitter, noopEnqueuer{}, zap.NewNop())

	s := NewServer(service, registry, emitter, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, registry: registry, emitter: emitter, orders: orders}
}

func (env *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestExecuteOrderEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/orders/execute", map[string]any{
		"baseToken":  "A",
		"quoteToken": "B",
		"side":       "sell",
		"amountIn":   10,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
		WSURL   string `json:"wsUrl"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.OrderID)
	assert.Equal(t, "pending", out.Status)
	assert.Equal(t, "/ws/orders/"+out.OrderID, out.WSURL)
}

func TestExecuteOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		desc string
		body map[string]any
	}{
		{"missing tokens", map[string]any{"side": "sell", "amountIn": 10}},
		{"bad side", map[string]any{"baseToken": "A", "quoteToken": "B", "side": "hold", "amountIn": 10}},
		{"zero amount", map[string]any{"baseToken": "A", "quoteToken": "B", "side": "buy"}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			resp := env.post(t, "/api/orders/execute", tc.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/orders/execute", map[string]any{
		"baseToken":  "A",
		"quoteToken": "B",
		"side":       "buy",
		"amountIn":   2,
	})
	var created struct {
		OrderID string `json:"orderId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	got, err := http.Get(env.server.URL + "/api/orders/" + created.OrderID)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var order model.Order
	require.NoError(t, json.NewDecoder(got.Body).Decode(&order))
	assert.Equal(t, created.OrderID, order.ID)
	assert.Equal(t, model.SideBuy, order.Side)

	missing, err := http.Get(env.server.URL + "/api/orders/ghost")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) model.LifecycleEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var event model.LifecycleEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func TestOrderSocketReplaysHistoryThenLive(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	env.emitter.Emit(ctx, "o1", model.StatusPending, nil)
	env.emitter.Emit(ctx, "o1", model.StatusRouting, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/orders/o1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// replay arrives oldest first
	assert.Equal(t, model.StatusPending, readEvent(t, conn).Status)
	assert.Equal(t, model.StatusRouting, readEvent(t, conn).Status)

	// live events follow once the subscription is registered
	require.Eventually(t, func() bool { return env.registry.Count("o1") == 1 },
		time.Second, 10*time.Millisecond)
	env.emitter.Emit(ctx, "o1", model.StatusBuilding, nil)
	assert.Equal(t, model.StatusBuilding, readEvent(t, conn).Status)
}

func TestOrderSocketFallsBackToSnapshot(t *testing.T) {
	env := newTestEnv(t)

	order := model.Order{ID: "o2", Status: model.StatusSubmitted, Side: model.SideSell}
	env.emitter.WriteSnapshot(t.Context(), order)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/orders/o2"), nil)
	require.NoError(t, err)
	defer conn.Close()

	event := readEvent(t, conn)
	assert.Equal(t, "o2", event.OrderID)
	assert.Equal(t, model.StatusSubmitted, event.Status)
	require.NotNil(t, event.Data, "synthetic event carries the order snapshot")
}

func TestOrderSocketUnknownOrderStaysSilent(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/orders/ghost"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "no events should arrive for an unknown order")
}

func TestSubscriberRemovedOnDisconnect(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/orders/o3"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.registry.Count("o3") == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return env.registry.Count("o3") == 0 },
		time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
