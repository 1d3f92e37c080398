package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"main/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var (
	errSubscriberClosed  = errors.New("subscriber closed")
	errSubscriberStalled = errors.New("subscriber send buffer full")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// wsClient is one live subscription handle. Send never blocks the
// broadcaster: a stalled or closed client errors out and gets removed
// from the registry.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) Send(message []byte) error {
	select {
	case <-c.done:
		return errSubscriberClosed
	case c.send <- message:
		return nil
	default:
		return errSubscriberStalled
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to detect disconnects and
// keep the connection alive.
func (c *wsClient) readPump(onClose func()) {
	defer func() {
		onClose()
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleOrderSocket upgrades the connection and attaches it to one
// order's event stream: replayed history first (oldest to newest), the
// snapshot as a single synthetic event when no history exists, then
// live events until disconnect. An unknown order id yields a connection
// with no stream, never an error.
func (s *Server) handleOrderSocket(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("orderId", orderID), zap.Error(err))
		return
	}

	client := newWSClient(conn)
	go client.writePump()

	s.registry.Subscribe(orderID, client)
	s.log.Info("websocket connected", zap.String("orderId", orderID))

	s.replayHistory(r, orderID, client)

	go client.readPump(func() {
		s.registry.Unsubscribe(orderID, client)
		s.log.Info("websocket closed", zap.String("orderId", orderID))
	})
}

func (s *Server) replayHistory(r *http.Request, orderID string, client *wsClient) {
	ctx := r.Context()

	history, err := s.emitter.History(ctx, orderID)
	if err != nil {
		s.log.Warn("history replay failed", zap.String("orderId", orderID), zap.Error(err))
		return
	}

	if len(history) > 0 {
		for _, raw := range history {
			if err := client.Send([]byte(raw)); err != nil {
				s.log.Warn("history send failed", zap.String("orderId", orderID), zap.Error(err))
				return
			}
		}
		return
	}

	// no history: offer the current snapshot so a late subscriber is
	// never left with zero information
	order, ok := s.emitter.Snapshot(ctx, orderID)
	if !ok {
		return
	}
	synthetic, err := json.Marshal(model.LifecycleEvent{
		OrderID: orderID,
		Status:  order.Status,
		Data:    order,
		TS:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := client.Send(synthetic); err != nil {
		s.log.Warn("snapshot send failed", zap.String("orderId", orderID), zap.Error(err))
	}
}
