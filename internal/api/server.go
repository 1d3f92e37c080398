package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"main/internal/bus"
	"main/internal/engine"
	"main/internal/store"
)

// Server exposes order creation, order lookup, and the per-order
// WebSocket subscription channel. Request validation lives here; the
// engine only ever sees well-formed intents.
type Server struct {
	service  *engine.Service
	registry *bus.Registry
	emitter  *bus.Emitter
	log      *zap.Logger
	router   *mux.Router
}

// NewServer wires routes over the injected components.
func NewServer(service *engine.Service, registry *bus.Registry, emitter *bus.Emitter, log *zap.Logger) *Server {
	s := &Server{
		service:  service,
		registry: registry,
		emitter:  emitter,
		log:      log,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/orders/execute", s.handleExecuteOrder).Methods("POST")
	s.router.HandleFunc("/api/orders/{id}", s.handleGetOrder).Methods("GET")
	s.router.HandleFunc("/ws/orders/{id}", s.handleOrderSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped root handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var in engine.CreateMarketOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := s.service.CreateMarketOrder(r.Context(), in)
	switch {
	case errors.Is(err, engine.ErrMissingTokens),
		errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidSlippage):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error("create order failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"orderId": order.ID,
		"status":  order.Status,
		"wsUrl":   fmt.Sprintf("/ws/orders/%s", order.ID),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := s.service.GetOrder(r.Context(), id)
	if errors.Is(err, store.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.log.Error("get order failed", zap.String("orderId", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
