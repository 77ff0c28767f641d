package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/canceldesk/internal/cancellation"
	"go.uber.org/zap"
)

// Board defines the cashier board methods needed by cashier handlers.
// Satisfied by *cashier.Board; narrow interface for testability.
type Board interface {
	Refresh(ctx context.Context) error
	Orders() []cancellation.OrderSnapshot
}

// CashierHandler serves the cashier order list.
type CashierHandler struct {
	board Board
	log   *zap.Logger
}

// NewCashierHandler creates a new CashierHandler.
func NewCashierHandler(board Board, log *zap.Logger) *CashierHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CashierHandler{board: board, log: log.Named("handler")}
}

// RegisterRoutes registers cashier endpoints. Expected to be mounted at
// /cashier behind authentication.
func (h *CashierHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders", h.ListOrders)
	r.Post("/orders/refresh", h.RefreshOrders)
}

func (h *CashierHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": h.board.Orders()})
}

func (h *CashierHandler) RefreshOrders(w http.ResponseWriter, r *http.Request) {
	if err := h.board.Refresh(r.Context()); err != nil {
		h.log.Warn("cashier refresh failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load orders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": h.board.Orders()})
}
