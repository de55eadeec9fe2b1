package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"riskexecutor/src/ledger"
	"riskexecutor/src/model"
)

// ErrExecutionExhausted terminates an order whose transient failures outlived
// the retry budget.
var ErrExecutionExhausted = errors.New("ExecutionExhausted")

// ErrUnknownOrder is returned for fills and cancels naming an untracked order.
var ErrUnknownOrder = errors.New("unknown order")

// idempotencyNamespace makes keys deterministic per order id.
var idempotencyNamespace = uuid.MustParse("7f1dd0a2-4b6e-4c1b-9be6-2c54a3a47d11")

// Repository is the persistence surface the pipeline needs. Fills must be
// durable before the pipeline reports them final.
type Repository interface {
	SaveOrder(ctx context.Context, order *model.Order) error
	UpdateOrder(ctx context.Context, order *model.Order) error
	SaveFill(ctx context.Context, fill *model.Fill) error
	SaveOrderLog(ctx context.Context, entry *model.OrderLog) error
}

// RiskReconciler reconciles exposure reservations as fills and terminal
// states arrive.
type RiskReconciler interface {
	ReleaseOnFill(orderID string, filledNotional decimal.Decimal)
	Release(orderID string)
}

type orderState struct {
	order           *model.Order
	cancelRequested bool
}

// Pipeline drives approved orders to a terminal state: dispatch to the
// execution adapter with bounded exponential-backoff retries, fill
// application into the position ledger, and cooperative cancellation. A fill
// that races a cancel request always wins.
type Pipeline struct {
	adapter ExecutionAdapter
	repo    Repository
	book    *ledger.PositionLedger
	riskRec RiskReconciler

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu       sync.Mutex
	orders   map[string]*orderState
	history  []string // insertion order, for capacity eviction
	capacity int
}

// NewPipeline wires the pipeline. riskRec may be nil when no reservation
// accounting is wanted (tests, backtests).
func NewPipeline(cfg Config, adapter ExecutionAdapter, repo Repository, book *ledger.PositionLedger, riskRec RiskReconciler) *Pipeline {
	capacity := cfg.OrderTrackerCapacity
	if capacity <= 0 {
		capacity = 1
	}
	return &Pipeline{
		adapter:    adapter,
		repo:       repo,
		book:       book,
		riskRec:    riskRec,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		maxDelay:   cfg.RetryMaxDelay,
		orders:     make(map[string]*orderState),
		capacity:   capacity,
	}
}

// Submit drives the order from PENDING to SUBMITTED, retrying transient
// adapter failures with exponential backoff. Every attempt reuses the same
// idempotency key. It blocks the calling goroutine only; no account lock is
// held across network waits.
func (p *Pipeline) Submit(ctx context.Context, order *model.Order) error {
	order.Status = model.OrderStatusPending
	if order.IdempotencyKey == "" {
		order.IdempotencyKey = uuid.NewSHA1(idempotencyNamespace, []byte(order.ID)).String()
	}

	p.track(order)

	if err := p.repo.SaveOrder(ctx, order); err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Error("Failed to persist order at intake")
	}

	req := SubmitRequest{
		IdempotencyKey: order.IdempotencyKey,
		Symbol:         order.Symbol,
		Side:           order.Side,
		OrderType:      order.OrderType,
		Quantity:       order.Quantity,
		LimitPrice:     order.LimitPrice,
		TimeInForce:    order.TimeInForce,
	}

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if p.cancelledBeforeDispatch(order.ID) {
			return nil
		}

		ack, err := p.adapter.SendOrder(ctx, req)
		if err == nil {
			p.markSubmitted(ctx, order.ID, attempt, ack)
			return nil
		}

		if !IsTransient(err) {
			p.terminate(ctx, order.ID, model.OrderStatusRejected, err.Error(), attempt)
			return err
		}

		order.RetryCount = attempt
		p.logAttempt(ctx, order, attempt, model.OrderLogRetried, err)

		if attempt == p.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			p.terminate(ctx, order.ID, model.OrderStatusRejected, ctx.Err().Error(), attempt)
			return ctx.Err()
		case <-time.After(CalculateBackoff(attempt, p.baseDelay, p.maxDelay)):
		}
	}

	p.terminate(ctx, order.ID, model.OrderStatusRejected, ErrExecutionExhausted.Error(), p.maxRetries)
	return fmt.Errorf("order %s: %w after %d retries", order.ID, ErrExecutionExhausted, p.maxRetries)
}

// OnFill applies one execution report. The fill is persisted before the order
// is advanced so a restart can reconcile. Fills after a cancel request are
// authoritative; excess quantity beyond the order's remainder is dropped with
// a warning.
func (p *Pipeline) OnFill(ctx context.Context, orderID string, fill model.Fill) (model.Order, error) {
	p.mu.Lock()
	state, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return model.Order{}, fmt.Errorf("fill for order %s: %w", orderID, ErrUnknownOrder)
	}
	order := state.order

	remaining := order.Quantity - order.FilledQuantity
	if remaining <= 0 {
		p.mu.Unlock()
		logger.WithFields(map[string]interface{}{
			"component": "Pipeline",
			"order_id":  orderID,
		}).Warn("Fill ignored, order already fully filled")
		return *order, nil
	}
	if fill.Quantity > remaining {
		logger.WithFields(map[string]interface{}{
			"component": "Pipeline",
			"order_id":  orderID,
			"fill_qty":  fill.Quantity,
			"remaining": remaining,
		}).Warn("Fill exceeds remaining quantity, clamping")
		fill.Quantity = remaining
	}
	p.mu.Unlock()

	fill.OrderID = order.ID
	fill.Symbol = order.Symbol
	fill.Side = order.Side

	// Durable before final.
	if err := p.repo.SaveFill(ctx, &fill); err != nil {
		return model.Order{}, fmt.Errorf("persist fill for order %s: %w", orderID, err)
	}

	if _, err := p.book.ApplyFill(fill); err != nil {
		return model.Order{}, fmt.Errorf("apply fill for order %s: %w", orderID, err)
	}

	p.mu.Lock()
	order.FilledQuantity += fill.Quantity
	if order.FilledQuantity >= order.Quantity {
		order.Status = model.OrderStatusFilled
	} else {
		order.Status = model.OrderStatusPartiallyFilled
	}
	snapshot := *order
	p.mu.Unlock()

	if p.riskRec != nil {
		p.riskRec.ReleaseOnFill(order.ID, decimal.NewFromInt(fill.Quantity).Mul(fill.Price))
		if snapshot.Status == model.OrderStatusFilled {
			p.riskRec.Release(order.ID)
		}
	}

	if err := p.repo.UpdateOrder(ctx, &snapshot); err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Error("Failed to persist order after fill")
	}
	p.logAttempt(ctx, &snapshot, snapshot.RetryCount, model.OrderLogFilled, nil)

	return snapshot, nil
}

// Cancel requests cancellation. It is honored only while the order is
// non-terminal and no terminating fill has landed; a fill racing the cancel
// wins and Cancel reports false.
func (p *Pipeline) Cancel(ctx context.Context, orderID string) (bool, error) {
	p.mu.Lock()
	state, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return false, fmt.Errorf("cancel order %s: %w", orderID, ErrUnknownOrder)
	}
	if state.order.IsTerminal() {
		p.mu.Unlock()
		return false, nil
	}
	state.cancelRequested = true
	key := state.order.IdempotencyKey
	p.mu.Unlock()

	if err := p.adapter.CancelOrder(ctx, key); err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"component": "Pipeline",
			"order_id":  orderID,
		}).Warn("Adapter cancel failed, keeping cancel intent")
	}

	p.mu.Lock()
	// A fill may have landed while the cancel was in flight.
	if state.order.FilledQuantity > 0 || state.order.IsTerminal() {
		p.mu.Unlock()
		return false, nil
	}
	state.order.Status = model.OrderStatusCancelled
	snapshot := *state.order
	p.mu.Unlock()

	if p.riskRec != nil {
		p.riskRec.Release(orderID)
	}
	if err := p.repo.UpdateOrder(ctx, &snapshot); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Error("Failed to persist cancelled order")
	}
	p.logAttempt(ctx, &snapshot, snapshot.RetryCount, model.OrderLogCancelled, nil)

	return true, nil
}

// Order returns a snapshot of a tracked order.
func (p *Pipeline) Order(orderID string) (model.Order, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.orders[orderID]
	if !ok {
		return model.Order{}, false
	}
	return *state.order, true
}

func (p *Pipeline) track(order *model.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.orders) >= p.capacity {
		p.evictOldestTerminal()
	}
	p.orders[order.ID] = &orderState{order: order}
	p.history = append(p.history, order.ID)
}

// evictOldestTerminal drops the oldest terminal order. Callers hold p.mu.
func (p *Pipeline) evictOldestTerminal() {
	for i, id := range p.history {
		state, ok := p.orders[id]
		if !ok {
			continue
		}
		if state.order.IsTerminal() {
			delete(p.orders, id)
			p.history = append(p.history[:i], p.history[i+1:]...)
			return
		}
	}
}

func (p *Pipeline) cancelledBeforeDispatch(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.orders[orderID]
	if !ok {
		return true
	}
	if !state.cancelRequested {
		return false
	}
	state.order.Status = model.OrderStatusCancelled
	return true
}

func (p *Pipeline) markSubmitted(ctx context.Context, orderID string, attempt int, ack SubmitAck) {
	p.mu.Lock()
	state, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return
	}
	// A fast fill can beat the ack; don't regress the status.
	if state.order.Status == model.OrderStatusPending {
		state.order.Status = model.OrderStatusSubmitted
	}
	state.order.RetryCount = attempt
	snapshot := *state.order
	p.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"component":   "Pipeline",
		"order_id":    orderID,
		"external_id": ack.ExternalID,
		"attempt":     attempt,
	}).Info("Order submitted")

	if err := p.repo.UpdateOrder(ctx, &snapshot); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Error("Failed to persist submitted order")
	}
	p.logAttempt(ctx, &snapshot, attempt, model.OrderLogSubmitted, nil)
}

func (p *Pipeline) terminate(ctx context.Context, orderID, status, reason string, attempt int) {
	p.mu.Lock()
	state, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return
	}
	state.order.Status = status
	state.order.RejectReason = reason
	state.order.RetryCount = attempt
	snapshot := *state.order
	p.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"component": "Pipeline",
		"order_id":  orderID,
		"status":    status,
		"reason":    reason,
	}).Warn("Order terminated")

	if p.riskRec != nil {
		p.riskRec.Release(orderID)
	}
	if err := p.repo.UpdateOrder(ctx, &snapshot); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Error("Failed to persist terminal order")
	}

	outcome := model.OrderLogRejected
	if reason == ErrExecutionExhausted.Error() {
		outcome = model.OrderLogExhausted
	}
	p.logAttempt(ctx, &snapshot, attempt, outcome, errors.New(reason))
}

func (p *Pipeline) logAttempt(ctx context.Context, order *model.Order, attempt int, outcome string, cause error) {
	entry := &model.OrderLog{
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Attempt:  attempt,
		Outcome:  outcome,
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
		entry.Reason = msg
	}
	if err := p.repo.SaveOrderLog(ctx, entry); err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Debug("Failed to persist order log entry")
	}
}
