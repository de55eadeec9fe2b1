package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"riskexecutor/src/ledger"
	"riskexecutor/src/model"
)

// RejectReason identifies why an order failed validation. Rejections are
// synchronous and never retried automatically.
type RejectReason string

const (
	ReasonCircuitBreakerTripped      RejectReason = "CircuitBreakerTripped"
	ReasonTradingHalted              RejectReason = "TradingHalted"
	ReasonRateLimited                RejectReason = "RateLimited"
	ReasonPositionLimitExceeded      RejectReason = "PositionLimitExceeded"
	ReasonExposureLimitExceeded      RejectReason = "ExposureLimitExceeded"
	ReasonConcentrationLimitExceeded RejectReason = "ConcentrationLimitExceeded"
	ReasonLeverageLimitExceeded      RejectReason = "LeverageLimitExceeded"
	ReasonVolatilityLimitExceeded    RejectReason = "VolatilityLimitExceeded"
	ReasonPriceUnavailable           RejectReason = "PriceUnavailable"
	ReasonInvalidOrder               RejectReason = "InvalidOrder"
)

// Decision is the outcome of order validation. Quantity may be lower than the
// requested quantity when clamping or breaker/recovery sizing applied.
type Decision struct {
	Approved bool
	Quantity int64
	Reason   RejectReason
	Detail   string
}

func approvedDecision(qty int64) Decision {
	return Decision{Approved: true, Quantity: qty}
}

func rejectedDecision(reason RejectReason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// ValidationContext carries the market inputs for one validation call.
type ValidationContext struct {
	// Reference price for the symbol. A limit order's limit price takes
	// precedence over it.
	Price decimal.Decimal

	// Optional annualized volatility estimate attached by the strategy.
	Volatility *decimal.Decimal

	Now time.Time
}

// MetricsUpdate is the result of one periodic evaluation tick.
type MetricsUpdate struct {
	Equity          decimal.Decimal
	Drawdown        decimal.Decimal
	Breaker         BreakerState
	BreakerChanged  bool
	PrevLevel       Level
	Recovery        RecoveryState
	RecoveryChanged bool
}

// Engine validates proposed orders against the configured limits and the
// current breaker/recovery state, and tracks approved-but-unfilled exposure
// reservations so concurrent approvals cannot jointly breach the exposure
// limit.
//
// The configuration is an immutable snapshot swapped atomically on reload.
// Breaker and recovery state are written only by UpdateRiskMetrics.
type Engine struct {
	cfg atomic.Pointer[Config]

	breaker  *CircuitBreaker
	recovery *RecoveryController
	curve    *EquityCurve

	mu            sync.Mutex
	rates         rateCounters
	reserved      map[string]decimal.Decimal // order id -> reserved notional
	reservedTotal decimal.Decimal
}

// NewEngine validates the configuration and builds the engine. A partial or
// inconsistent limit configuration is fatal.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		breaker:  NewCircuitBreaker(cfg.BreakerConfig()),
		recovery: NewRecoveryController(cfg.RecoveryConfig()),
		curve:    NewEquityCurve(cfg.EquityCurveCapacity),
		reserved: make(map[string]decimal.Decimal),
	}
	e.cfg.Store(&cfg)
	e.curve.Seed(cfg.StartingCapital, cfg.StartingCapital, time.Now())

	return e, nil
}

// Reload swaps in a new immutable configuration snapshot after validating it.
// Breaker and recovery state are preserved.
func (e *Engine) Reload(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(&cfg)
	logger.WithField("component", "RiskEngine").Info("Risk configuration reloaded")
	return nil
}

// Config returns the active configuration snapshot.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// EquityCurve exposes the engine's equity curve for seeding at startup.
func (e *Engine) EquityCurve() *EquityCurve {
	return e.curve
}

// BreakerState returns the current circuit breaker snapshot.
func (e *Engine) BreakerState() BreakerState {
	return e.breaker.State()
}

// RecoveryState returns the current recovery snapshot.
func (e *Engine) RecoveryState() RecoveryState {
	return e.recovery.CurrentState()
}

// ManualReset clears the breaker back to NORMAL. It is the only exit from
// LEVEL3.
func (e *Engine) ManualReset(now time.Time) bool {
	return e.breaker.ManualReset(now)
}

// ValidateOrder runs the full check sequence without reserving anything.
// Intended for the read-only validation surface; submission paths must use
// ValidateAndReserve so the check and the reservation are one critical
// section.
func (e *Engine) ValidateOrder(order *model.Order, book *ledger.PositionLedger, vctx ValidationContext) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validate(order, book, vctx)
}

// ValidateAndReserve validates the order and, on approval, reserves its
// projected notional and counts it against the rate limits, all under one
// lock. The reservation is reconciled by ReleaseOnFill/Release as fills and
// terminal states arrive.
func (e *Engine) ValidateAndReserve(order *model.Order, book *ledger.PositionLedger, vctx ValidationContext) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.validate(order, book, vctx)
	if !d.Approved {
		return d
	}

	price := refPrice(order, vctx)
	notional := decimal.NewFromInt(d.Quantity).Mul(price)
	e.reserved[order.ID] = notional
	e.reservedTotal = e.reservedTotal.Add(notional)
	e.rates.record(vctx.Now)

	return d
}

// ReleaseOnFill reduces the order's reservation by the filled notional: the
// exposure now shows up in the ledger instead.
func (e *Engine) ReleaseOnFill(orderID string, filledNotional decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining, ok := e.reserved[orderID]
	if !ok {
		return
	}
	release := filledNotional
	if release.GreaterThan(remaining) {
		release = remaining
	}
	e.reserved[orderID] = remaining.Sub(release)
	e.reservedTotal = e.reservedTotal.Sub(release)
}

// Release drops whatever reservation remains for a terminal order.
func (e *Engine) Release(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining, ok := e.reserved[orderID]
	if !ok {
		return
	}
	delete(e.reserved, orderID)
	e.reservedTotal = e.reservedTotal.Sub(remaining)
}

// ReservedExposure returns the total approved-but-unfilled notional.
func (e *Engine) ReservedExposure() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reservedTotal
}

// validate runs checks in a fixed order; the first failing check wins.
// Callers hold e.mu.
func (e *Engine) validate(order *model.Order, book *ledger.PositionLedger, vctx ValidationContext) Decision {
	cfg := e.cfg.Load()

	if order.Quantity <= 0 {
		return rejectedDecision(ReasonInvalidOrder, "quantity must be positive")
	}
	if order.Side != model.OrderSideBuy && order.Side != model.OrderSideSell {
		return rejectedDecision(ReasonInvalidOrder, "side must be BUY or SELL")
	}

	price := refPrice(order, vctx)
	if price.LessThanOrEqual(decimal.Zero) {
		return rejectedDecision(ReasonPriceUnavailable, "no reference price for symbol")
	}

	breaker := e.breaker.State()

	// 1. LEVEL3 rejects everything until a manual reset.
	if breaker.Level == Level3 {
		return rejectedDecision(ReasonCircuitBreakerTripped, "breaker at LEVEL3, manual reset required")
	}

	// 2. LEVEL2 halts trading until the timer expires.
	if breaker.Halted(vctx.Now) {
		return rejectedDecision(ReasonTradingHalted, "breaker at LEVEL2, trading halted")
	}

	// 3. Account-wide rate limits.
	if ok, detail := e.rates.allow(vctx.Now, cfg); !ok {
		return rejectedDecision(ReasonRateLimited, detail)
	}

	// 4. Per-symbol position size, with optional clamping to headroom.
	var cur int64
	var curExposure decimal.Decimal
	if pos, ok := book.Position(order.Symbol); ok {
		cur = pos.Quantity
		curExposure = pos.Exposure()
	}

	sign := int64(1)
	if order.Side == model.OrderSideSell {
		sign = -1
	}

	qty := order.Quantity
	headroom := cfg.MaxPositionSize - sign*cur
	if qty > headroom {
		if !cfg.ClampOversizedOrders || headroom < 1 {
			return rejectedDecision(ReasonPositionLimitExceeded, "resulting position exceeds max position size")
		}
		qty = headroom
	}
	newQty := cur + sign*qty

	// 5. Projected total exposure, including reserved in-flight notional.
	newAbs := newQty
	if newAbs < 0 {
		newAbs = -newAbs
	}
	symbolExposure := decimal.NewFromInt(newAbs).Mul(price)
	projTotal := book.TotalExposure().Sub(curExposure).Add(symbolExposure).Add(e.reservedTotal)
	if projTotal.GreaterThan(cfg.MaxTotalExposure) {
		return rejectedDecision(ReasonExposureLimitExceeded, "projected exposure exceeds max total exposure")
	}

	// 6. Per-symbol concentration.
	if projTotal.GreaterThan(decimal.Zero) {
		if symbolExposure.Div(projTotal).GreaterThan(cfg.MaxConcentration) {
			return rejectedDecision(ReasonConcentrationLimitExceeded, "projected concentration exceeds limit")
		}
	}

	// 7. Leverage against current equity.
	equity := e.curve.Last()
	if equity.LessThanOrEqual(decimal.Zero) {
		return rejectedDecision(ReasonLeverageLimitExceeded, "account equity not positive")
	}
	if projTotal.Div(equity).GreaterThan(cfg.MaxLeverage) {
		return rejectedDecision(ReasonLeverageLimitExceeded, "projected leverage exceeds limit")
	}

	if vctx.Volatility != nil && vctx.Volatility.GreaterThan(cfg.MaxVolatility) {
		return rejectedDecision(ReasonVolatilityLimitExceeded, "volatility above maximum")
	}

	// 8. LEVEL1 scales new order sizes down.
	if breaker.Level == Level1 {
		reduced := decimal.NewFromInt(qty).Mul(cfg.Level1ReductionFactor).IntPart()
		if reduced < 1 {
			return rejectedDecision(ReasonCircuitBreakerTripped, "level1 reduction rounds quantity to zero")
		}
		qty = reduced
	}

	// 9. Recovery sizing composes multiplicatively with LEVEL1.
	if rec := e.recovery.CurrentState(); rec.Active {
		scaled := decimal.NewFromInt(qty).Mul(rec.SizeFactor).IntPart()
		if scaled < 1 {
			scaled = 1
		}
		qty = scaled
	}

	return approvedDecision(qty)
}

func refPrice(order *model.Order, vctx ValidationContext) decimal.Decimal {
	if order.OrderType == model.OrderTypeLimit && order.LimitPrice != nil {
		return *order.LimitPrice
	}
	return vctx.Price
}

// UpdateRiskMetrics feeds one equity observation through the equity curve,
// the circuit breaker and the recovery controller. It is the only writer of
// breaker and recovery state and is driven by the periodic evaluation loop.
func (e *Engine) UpdateRiskMetrics(equity decimal.Decimal, now time.Time) MetricsUpdate {
	cfg := e.cfg.Load()

	prev := e.breaker.State().Level

	e.curve.Add(equity, now)
	dd := e.curve.Drawdown()

	breakerState, breakerChanged := e.breaker.Evaluate(dd, now)

	cumulativePnl := equity.Sub(cfg.StartingCapital)
	recoveryState, recoveryChanged := e.recovery.OnEquityUpdate(cumulativePnl, now)

	if breakerChanged || recoveryChanged {
		logger.WithFields(map[string]interface{}{
			"component": "RiskEngine",
			"equity":    equity.String(),
			"drawdown":  dd.String(),
			"level":     breakerState.Level.String(),
			"recovery":  recoveryState.Active,
		}).Info("Risk metrics updated")
	}

	return MetricsUpdate{
		Equity:          equity,
		Drawdown:        dd,
		Breaker:         breakerState,
		BreakerChanged:  breakerChanged,
		PrevLevel:       prev,
		Recovery:        recoveryState,
		RecoveryChanged: recoveryChanged,
	}
}
