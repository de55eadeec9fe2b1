package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"riskexecutor/src/engine"
	"riskexecutor/src/execution"
	"riskexecutor/src/model"
	"riskexecutor/src/risk"
)

// tradeService is the engine surface the HTTP handlers need.
type tradeService interface {
	SubmitIntent(ctx context.Context, intent engine.OrderIntent) (model.Order, risk.Decision)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	Order(orderID string) (model.Order, bool)
	Positions() []model.Position
	RiskStatus() engine.RiskStatus
	ManualReset(ctx context.Context) bool
}

type orderLister interface {
	FindLatestBySymbol(ctx context.Context, symbol string, limit int) ([]model.Order, error)
}

type submitResponse struct {
	Order    model.Order `json:"order"`
	Approved bool        `json:"approved"`
	Reason   string      `json:"reason,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

// SubmitOrderHandler accepts an order intent, runs it through risk validation
// and dispatches it when approved. Rejected intents come back as 422 with the
// reject reason.
func SubmitOrderHandler(svc tradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var intent engine.OrderIntent
		if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if intent.Symbol == "" || intent.Quantity <= 0 {
			http.Error(w, "symbol and positive quantity required", http.StatusBadRequest)
			return
		}
		if intent.Side != model.OrderSideBuy && intent.Side != model.OrderSideSell {
			http.Error(w, "side must be BUY or SELL", http.StatusBadRequest)
			return
		}
		if intent.OrderType == "" {
			intent.OrderType = model.OrderTypeMarket
		}
		if intent.OrderType == model.OrderTypeLimit && intent.LimitPrice == nil {
			http.Error(w, "limit orders require a limit_price", http.StatusBadRequest)
			return
		}

		order, decision := svc.SubmitIntent(r.Context(), intent)

		resp := submitResponse{
			Order:    order,
			Approved: decision.Approved,
			Reason:   string(decision.Reason),
			Detail:   decision.Detail,
		}

		status := http.StatusCreated
		if !decision.Approved {
			status = http.StatusUnprocessableEntity
		}

		writeJSON(w, status, resp)
	}
}

// CancelOrderHandler requests cancellation. The response reports whether the
// cancel won; a fill that landed first means cancelled=false.
func CancelOrderHandler(svc tradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderID")

		cancelled, err := svc.CancelOrder(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, execution.ErrUnknownOrder) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			logger.WithError(err).WithField("order_id", orderID).Error("cancel failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"order_id":  orderID,
			"cancelled": cancelled,
		})
	}
}

// GetOrderHandler returns the tracked state of one order.
func GetOrderHandler(svc tradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderID")

		order, ok := svc.Order(orderID)
		if !ok {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

// ListOrdersHandler lists recent orders for a symbol from the database.
func ListOrdersHandler(repo orderLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			http.Error(w, "symbol required", http.StatusBadRequest)
			return
		}

		limit := 20
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		orders, err := repo.FindLatestBySymbol(r.Context(), symbol, limit)
		if err != nil {
			logger.WithError(err).Error("failed to list orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

// PositionsHandler returns the current book snapshot.
func PositionsHandler(svc tradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Positions())
	}
}

// RiskStatusHandler returns the safety snapshot: breaker level, halt state,
// recovery mode, equity and drawdown.
func RiskStatusHandler(svc tradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.RiskStatus())
	}
}

// ManualResetHandler clears a LEVEL3 lockout after operator review.
func ManualResetHandler(svc tradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.ManualReset(r.Context()) {
			http.Error(w, "breaker is not in a resettable state", http.StatusConflict)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
