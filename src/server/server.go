package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"riskexecutor/src/engine"
	"riskexecutor/src/handler"
	"riskexecutor/src/repository"
)

// NewRouter wires the trading API routes.
func NewRouter(e *engine.Engine, orders *repository.OrderRepository) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/orders", handler.SubmitOrderHandler(e))
		r.Get("/orders", handler.ListOrdersHandler(orders))
		r.Get("/orders/{orderID}", handler.GetOrderHandler(e))
		r.Delete("/orders/{orderID}", handler.CancelOrderHandler(e))

		r.Get("/positions", handler.PositionsHandler(e))
		r.Get("/risk/status", handler.RiskStatusHandler(e))
		r.Post("/risk/reset", handler.ManualResetHandler(e))
	})

	return r
}

// StartServer runs the API until SIGINT/SIGTERM, then shuts down gracefully.
func StartServer(port string, e *engine.Engine, orders *repository.OrderRepository) {
	r := NewRouter(e, orders)

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
