package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/core/orderqueue"
	"github.com/bikeshrana/qbtrader/internal/data"
)

// OrdersHandler handles order and trade history requests against the
// live Order Queue, the broker adapter (for cancellation), and the
// Postgres-backed order/trade repository.
type OrdersHandler struct {
	repo   *data.OrdersRepository
	queue  *orderqueue.Queue
	broker broker.Adapter
	logger zerolog.Logger
}

// NewOrdersHandler creates a new orders handler.
func NewOrdersHandler(repo *data.OrdersRepository, queue *orderqueue.Queue, adapter broker.Adapter, logger zerolog.Logger) *OrdersHandler {
	return &OrdersHandler{repo: repo, queue: queue, broker: adapter, logger: logger}
}

// GetOrders returns persisted orders, optionally filtered by symbol/status.
// GET /api/v1/orders
func (h *OrdersHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 100
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
		limit = l
	}
	orders, err := h.repo.GetOrders(r.Context(), query.Get("symbol"), query.Get("status"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("orders: failed to query orders")
		writeError(w, http.StatusInternalServerError, "failed to retrieve orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder returns one order by ID.
// GET /api/v1/orders/{orderId}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	order, err := h.repo.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder cancels an order at the broker, evicts it from the live
// queue if still pending, and marks it cancelled in the order record.
// POST /api/v1/orders/{orderId}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx := r.Context()

	result, err := h.broker.CancelOrder(ctx, orderID)
	if err != nil {
		h.logger.Warn().Err(err).Str("order_id", orderID).Msg("orders: broker cancel failed")
		writeError(w, http.StatusBadGateway, "broker rejected cancel request")
		return
	}
	if !result.Success {
		writeError(w, http.StatusConflict, result.Message)
		return
	}

	h.queue.RemoveOrder(ctx, orderID)
	if err := h.repo.CancelOrder(ctx, orderID, "cancelled by operator"); err != nil {
		h.logger.Warn().Err(err).Str("order_id", orderID).Msg("orders: failed to persist cancellation")
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "order cancelled", "order_id": orderID})
}

// GetQueueStatus reports current Order Queue occupancy.
// GET /api/v1/orders/queue/status
func (h *OrdersHandler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	status := h.queue.GetQueueStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": status.Pending, "processing": status.Processing, "max_size": status.MaxSize,
	})
}

// GetTrades returns executed trades, optionally filtered by symbol.
// GET /api/v1/trades
func (h *OrdersHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 100
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
		limit = l
	}
	trades, err := h.repo.GetTrades(r.Context(), query.Get("symbol"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("orders: failed to query trades")
		writeError(w, http.StatusInternalServerError, "failed to retrieve trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetTradesByOrder returns every trade executed against one order.
// GET /api/v1/orders/{orderId}/trades
func (h *OrdersHandler) GetTradesByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	trades, err := h.repo.GetTradesByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve trades for order")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}
