package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"riskexecutor/src/execution"
	"riskexecutor/src/ledger"
	"riskexecutor/src/model"
	"riskexecutor/src/risk"
)

// positionStore persists per-symbol position snapshots.
type positionStore interface {
	Upsert(ctx context.Context, position *model.Position) error
	FindAll(ctx context.Context) ([]model.Position, error)
}

// equityStore persists the equity curve.
type equityStore interface {
	Create(ctx context.Context, sample *model.EquitySample) error
	FindLatest(ctx context.Context) (*model.EquitySample, error)
}

// eventStore persists safety-state changes.
type eventStore interface {
	Create(ctx context.Context, event *model.RiskEvent) error
}

// orderStore records rejected intents; approved orders are persisted by the
// pipeline at intake.
type orderStore interface {
	Create(ctx context.Context, order *model.Order) error
}

// OrderIntent is a request to trade, before risk validation has assigned it
// an order identity.
type OrderIntent struct {
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	OrderType   string           `json:"order_type"`
	Quantity    int64            `json:"quantity"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce string           `json:"time_in_force,omitempty"`
}

// RiskStatus is the externally visible safety snapshot.
type RiskStatus struct {
	BreakerLevel        string          `json:"breaker_level"`
	Halted              bool            `json:"halted"`
	ManualResetRequired bool            `json:"manual_reset_required"`
	RecoveryActive      bool            `json:"recovery_active"`
	Equity              decimal.Decimal `json:"equity"`
	Drawdown            decimal.Decimal `json:"drawdown"`
	ReservedExposure    decimal.Decimal `json:"reserved_exposure"`
	ForcedClose         bool            `json:"forced_close"`
}

// Engine is the trading facade: it validates intents against the risk engine,
// hands approved orders to the execution pipeline, keeps the position ledger
// marked to market and drives the periodic risk evaluation loop.
type Engine struct {
	cfg Config

	riskEngine *risk.Engine
	book       *ledger.PositionLedger
	pipeline   *execution.Pipeline

	orders    orderStore
	positions positionStore
	equity    equityStore
	events    eventStore

	priceMu sync.RWMutex
	prices  map[string]decimal.Decimal
	vols    map[string]decimal.Decimal

	forcedClose atomic.Bool
	wg          sync.WaitGroup
}

// NewEngine wires the facade. Store arguments may be nil; persistence of the
// corresponding records is then skipped (tests, dry runs).
func NewEngine(
	cfg Config,
	riskEngine *risk.Engine,
	book *ledger.PositionLedger,
	pipeline *execution.Pipeline,
	orders orderStore,
	positions positionStore,
	equity equityStore,
	events eventStore,
) *Engine {
	return &Engine{
		cfg:        cfg,
		riskEngine: riskEngine,
		book:       book,
		pipeline:   pipeline,
		orders:     orders,
		positions:  positions,
		equity:     equity,
		events:     events,
		prices:     make(map[string]decimal.Decimal),
		vols:       make(map[string]decimal.Decimal),
	}
}

// Restore seeds the ledger and the equity curve from persisted state. Called
// once at startup, before any order is accepted.
func (e *Engine) Restore(ctx context.Context) error {
	if e.positions != nil {
		persisted, err := e.positions.FindAll(ctx)
		if err != nil {
			return err
		}
		e.book.Seed(persisted)

		e.priceMu.Lock()
		for _, pos := range persisted {
			if pos.LastPrice.IsPositive() {
				e.prices[pos.Symbol] = pos.LastPrice
			}
		}
		e.priceMu.Unlock()
	}

	if e.equity != nil {
		latest, err := e.equity.FindLatest(ctx)
		if err != nil {
			return err
		}
		if latest != nil {
			e.riskEngine.EquityCurve().Seed(latest.Equity, latest.HighWaterMark, latest.Timestamp)
			logger.WithFields(map[string]interface{}{
				"component": "Engine",
				"equity":    latest.Equity.String(),
				"hwm":       latest.HighWaterMark.String(),
			}).Info("Equity curve restored from last persisted sample")
		}
	}

	return nil
}

// SubmitIntent validates the intent and, if approved, dispatches the
// resulting order asynchronously. The returned order reflects the state at
// approval time; rejected intents are persisted with their reject reason.
func (e *Engine) SubmitIntent(ctx context.Context, intent OrderIntent) (model.Order, risk.Decision) {
	now := time.Now()
	order := &model.Order{
		ID:          uuid.NewString(),
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		OrderType:   intent.OrderType,
		Quantity:    intent.Quantity,
		LimitPrice:  intent.LimitPrice,
		TimeInForce: intent.TimeInForce,
		Status:      model.OrderStatusPending,
		CreatedAt:   now,
	}

	vctx := risk.ValidationContext{Now: now}
	e.priceMu.RLock()
	vctx.Price = e.prices[intent.Symbol]
	if vol, ok := e.vols[intent.Symbol]; ok {
		v := vol
		vctx.Volatility = &v
	}
	e.priceMu.RUnlock()

	decision := e.riskEngine.ValidateAndReserve(order, e.book, vctx)
	if !decision.Approved {
		order.Status = model.OrderStatusRejected
		order.RejectReason = string(decision.Reason)

		if e.orders != nil {
			if err := e.orders.Create(ctx, order); err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"component": "Engine",
					"order_id":  order.ID,
				}).Error("Failed to persist rejected order")
			}
		}

		logger.WithFields(map[string]interface{}{
			"component": "Engine",
			"order_id":  order.ID,
			"symbol":    order.Symbol,
			"reason":    decision.Reason,
			"detail":    decision.Detail,
		}).Warn("Order intent rejected")

		return *order, decision
	}

	order.Quantity = decision.Quantity

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		subCtx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
		defer cancel()

		if err := e.pipeline.Submit(subCtx, order); err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"component": "Engine",
				"order_id":  order.ID,
			}).Error("Order submission failed")
		}
	}()

	return *order, decision
}

// CancelOrder requests cancellation of an in-flight order. Reports false when
// a fill won the race.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return e.pipeline.Cancel(ctx, orderID)
}

// OnFill routes an execution report through the pipeline and persists the
// updated position snapshot.
func (e *Engine) OnFill(ctx context.Context, orderID string, fill model.Fill) (model.Order, error) {
	order, err := e.pipeline.OnFill(ctx, orderID, fill)
	if err != nil {
		return order, err
	}

	e.priceMu.Lock()
	e.prices[order.Symbol] = fill.Price
	e.priceMu.Unlock()

	if e.positions != nil {
		if pos, ok := e.book.Position(order.Symbol); ok {
			if err := e.positions.Upsert(ctx, &pos); err != nil {
				logger.WithError(err).WithField("symbol", order.Symbol).
					Error("Failed to persist position snapshot")
			}
		}
	}

	return order, nil
}

// Order returns a snapshot of a tracked order.
func (e *Engine) Order(orderID string) (model.Order, bool) {
	return e.pipeline.Order(orderID)
}

// OnTick marks a symbol to market. Unknown symbols are ignored by the ledger
// but their price is still cached for validation.
func (e *Engine) OnTick(symbol string, price decimal.Decimal, at time.Time) {
	e.priceMu.Lock()
	e.prices[symbol] = price
	e.priceMu.Unlock()

	e.book.Mark(symbol, price, at)
}

// OnVolatility caches a volatility estimate for the symbol.
func (e *Engine) OnVolatility(symbol string, vol decimal.Decimal) {
	e.priceMu.Lock()
	e.vols[symbol] = vol
	e.priceMu.Unlock()
}

// Positions returns the current book snapshot.
func (e *Engine) Positions() []model.Position {
	return e.book.Snapshot()
}

// RiskStatus returns the externally visible safety snapshot.
func (e *Engine) RiskStatus() RiskStatus {
	now := time.Now()
	breaker := e.riskEngine.BreakerState()
	recovery := e.riskEngine.RecoveryState()
	curve := e.riskEngine.EquityCurve()

	return RiskStatus{
		BreakerLevel:        breaker.Level.String(),
		Halted:              breaker.Halted(now),
		ManualResetRequired: breaker.ManualResetRequired,
		RecoveryActive:      recovery.Active,
		Equity:              curve.Last(),
		Drawdown:            curve.Drawdown(),
		ReservedExposure:    e.riskEngine.ReservedExposure(),
		ForcedClose:         e.forcedClose.Load(),
	}
}

// ForcedClose reports whether open positions are flagged for forced close.
func (e *Engine) ForcedClose() bool {
	return e.forcedClose.Load()
}

// ManualReset clears a LEVEL3 lockout after operator review.
func (e *Engine) ManualReset(ctx context.Context) bool {
	now := time.Now()
	if !e.riskEngine.ManualReset(now) {
		return false
	}

	e.forcedClose.Store(false)

	logger.WithField("component", "Engine").Warn("Circuit breaker manually reset")

	e.recordEvent(ctx, &model.RiskEvent{
		Kind:      model.RiskEventManualReset,
		FromLevel: risk.Level3.String(),
		ToLevel:   risk.LevelNormal.String(),
		Message:   "circuit breaker manually reset by operator",
	})

	return true
}

// Run drives the periodic risk evaluation loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.riskEngine.Config().EvalInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"component": "Engine",
		"interval":  interval.String(),
	}).Info("Risk evaluation loop started")

	for {
		select {
		case <-ctx.Done():
			logger.WithField("component", "Engine").Info("Risk evaluation loop stopped")
			e.wg.Wait()
			return nil

		case now := <-ticker.C:
			e.evalTick(ctx, now)
		}
	}
}

// evalTick computes current equity, feeds it through the risk engine and
// persists the resulting sample and any safety-state changes.
func (e *Engine) evalTick(ctx context.Context, now time.Time) {
	cfg := e.riskEngine.Config()
	equity := cfg.StartingCapital.Add(e.book.RealizedPnL()).Add(e.book.UnrealizedPnL())

	update := e.riskEngine.UpdateRiskMetrics(equity, now)

	if e.equity != nil {
		sample := &model.EquitySample{
			Equity:        update.Equity,
			HighWaterMark: e.riskEngine.EquityCurve().HighWaterMark(),
			Drawdown:      update.Drawdown,
			Timestamp:     now,
		}
		if err := e.equity.Create(ctx, sample); err != nil {
			logger.WithError(err).Error("Failed to persist equity sample")
		}
	}

	if update.BreakerChanged {
		e.recordEvent(ctx, &model.RiskEvent{
			Kind:      model.RiskEventBreakerTransition,
			FromLevel: update.PrevLevel.String(),
			ToLevel:   update.Breaker.Level.String(),
			Drawdown:  update.Drawdown,
			Message:   "drawdown breaker transition",
		})

		if update.Breaker.Level == risk.Level3 {
			e.flagForcedClose(ctx, update.Drawdown)
		}
	}

	if update.RecoveryChanged {
		kind := model.RiskEventRecoveryDeactivated
		msg := "recovery mode deactivated"
		if update.Recovery.Active {
			kind = model.RiskEventRecoveryActivated
			msg = "recovery mode activated, order sizes scaled down"
		}
		e.recordEvent(ctx, &model.RiskEvent{
			Kind:     kind,
			Drawdown: update.Drawdown,
			Message:  msg,
		})
	}
}

// flagForcedClose marks every open position for forced close on LEVEL3 entry.
func (e *Engine) flagForcedClose(ctx context.Context, drawdown decimal.Decimal) {
	e.forcedClose.Store(true)

	open := e.book.OpenPositions()
	symbols := make([]string, 0, len(open))
	for _, pos := range open {
		symbols = append(symbols, pos.Symbol)
	}

	logger.WithFields(map[string]interface{}{
		"component": "Engine",
		"drawdown":  drawdown.String(),
		"symbols":   symbols,
	}).Error("LEVEL3 breaker tripped, flagging open positions for forced close")

	e.recordEvent(ctx, &model.RiskEvent{
		Kind:     model.RiskEventForcedCloseFlag,
		ToLevel:  risk.Level3.String(),
		Drawdown: drawdown,
		Message:  "open positions flagged for forced close",
	})
}

func (e *Engine) recordEvent(ctx context.Context, event *model.RiskEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Create(ctx, event); err != nil {
		logger.WithError(err).WithField("kind", event.Kind).
			Error("Failed to persist risk event")
	}
}
