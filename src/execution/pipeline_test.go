package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskexecutor/src/ledger"
	"riskexecutor/src/model"
)

type stubAdapter struct {
	mu      sync.Mutex
	script  []error // one entry per SendOrder call, nil means accept
	keys    []string
	cancels []string
}

func (s *stubAdapter) SendOrder(_ context.Context, req SubmitRequest) (SubmitAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = append(s.keys, req.IdempotencyKey)
	call := len(s.keys) - 1
	if call < len(s.script) && s.script[call] != nil {
		return SubmitAck{}, s.script[call]
	}
	return SubmitAck{ExternalID: fmt.Sprintf("ext-%d", call)}, nil
}

func (s *stubAdapter) CancelOrder(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancels = append(s.cancels, key)
	return nil
}

func (s *stubAdapter) sendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

type memoryRepo struct {
	mu    sync.Mutex
	fills []model.Fill
	logs  []model.OrderLog
}

func (m *memoryRepo) SaveOrder(context.Context, *model.Order) error   { return nil }
func (m *memoryRepo) UpdateOrder(context.Context, *model.Order) error { return nil }

func (m *memoryRepo) SaveFill(_ context.Context, fill *model.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, *fill)
	return nil
}

func (m *memoryRepo) SaveOrderLog(_ context.Context, entry *model.OrderLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *entry)
	return nil
}

type recordingReconciler struct {
	mu       sync.Mutex
	filled   map[string]decimal.Decimal
	released []string
}

func newRecordingReconciler() *recordingReconciler {
	return &recordingReconciler{filled: make(map[string]decimal.Decimal)}
}

func (r *recordingReconciler) ReleaseOnFill(orderID string, notional decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filled[orderID] = r.filled[orderID].Add(notional)
}

func (r *recordingReconciler) Release(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, orderID)
}

func testPipelineConfig() Config {
	return Config{
		MaxRetries:           3,
		RetryBaseDelay:       time.Millisecond,
		RetryMaxDelay:        5 * time.Millisecond,
		OrderTrackerCapacity: 100,
	}
}

func newTestPipeline(adapter ExecutionAdapter) (*Pipeline, *memoryRepo) {
	repo := &memoryRepo{}
	return NewPipeline(testPipelineConfig(), adapter, repo, ledger.New(), nil), repo
}

func testOrder(id string, qty int64) *model.Order {
	return &model.Order{
		ID:        id,
		Symbol:    "BTCUSD",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  qty,
	}
}

func TestSubmitAcceptedFirstAttempt(t *testing.T) {
	adapter := &stubAdapter{}
	p, _ := newTestPipeline(adapter)

	order := testOrder("ord-1", 10)
	require.NoError(t, p.Submit(context.Background(), order))

	got, ok := p.Order("ord-1")
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusSubmitted, got.Status)
	assert.Equal(t, 1, adapter.sendCalls())
	assert.NotEmpty(t, got.IdempotencyKey)
}

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	adapter := &stubAdapter{script: []error{
		fmt.Errorf("gateway: %w", ErrTransient),
		fmt.Errorf("gateway: %w", ErrTransient),
		nil,
	}}
	p, _ := newTestPipeline(adapter)

	order := testOrder("ord-2", 10)
	require.NoError(t, p.Submit(context.Background(), order))

	got, _ := p.Order("ord-2")
	assert.Equal(t, model.OrderStatusSubmitted, got.Status)
	assert.Equal(t, 3, adapter.sendCalls())

	// Every attempt must carry the same idempotency key.
	for _, key := range adapter.keys {
		assert.Equal(t, got.IdempotencyKey, key)
	}
}

func TestSubmitExhaustsRetryBudget(t *testing.T) {
	transient := fmt.Errorf("gateway: %w", ErrTransient)
	adapter := &stubAdapter{script: []error{transient, transient, transient, transient}}
	rec := newRecordingReconciler()
	repo := &memoryRepo{}
	p := NewPipeline(testPipelineConfig(), adapter, repo, ledger.New(), rec)

	order := testOrder("ord-3", 10)
	err := p.Submit(context.Background(), order)
	require.ErrorIs(t, err, ErrExecutionExhausted)

	got, _ := p.Order("ord-3")
	assert.Equal(t, model.OrderStatusRejected, got.Status)
	assert.Equal(t, ErrExecutionExhausted.Error(), got.RejectReason)
	// 1 initial attempt + MaxRetries retries.
	assert.Equal(t, 4, adapter.sendCalls())
	assert.Contains(t, rec.released, "ord-3")

	var exhausted int
	for _, entry := range repo.logs {
		if entry.Outcome == model.OrderLogExhausted {
			exhausted++
		}
	}
	assert.Equal(t, 1, exhausted)
}

func TestSubmitPermanentRejectionDoesNotRetry(t *testing.T) {
	adapter := &stubAdapter{script: []error{errors.New("insufficient margin")}}
	p, _ := newTestPipeline(adapter)

	order := testOrder("ord-4", 10)
	err := p.Submit(context.Background(), order)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransient)

	got, _ := p.Order("ord-4")
	assert.Equal(t, model.OrderStatusRejected, got.Status)
	assert.Equal(t, "insufficient margin", got.RejectReason)
	assert.Equal(t, 1, adapter.sendCalls())
}

func TestPartialFillsAccumulateToFilled(t *testing.T) {
	adapter := &stubAdapter{}
	book := ledger.New()
	rec := newRecordingReconciler()
	p := NewPipeline(testPipelineConfig(), adapter, &memoryRepo{}, book, rec)

	order := testOrder("ord-5", 10)
	require.NoError(t, p.Submit(context.Background(), order))

	got, err := p.OnFill(context.Background(), "ord-5", model.Fill{
		Quantity: 4, Price: decimal.NewFromInt(100), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyFilled, got.Status)
	assert.Equal(t, int64(4), got.FilledQuantity)

	got, err = p.OnFill(context.Background(), "ord-5", model.Fill{
		Quantity: 6, Price: decimal.NewFromInt(101), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, got.Status)
	assert.Equal(t, int64(10), got.FilledQuantity)

	pos, ok := book.Position("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, int64(10), pos.Quantity)

	assert.True(t, rec.filled["ord-5"].Equal(decimal.NewFromInt(1006)))
	assert.Contains(t, rec.released, "ord-5")
}

func TestFillClampedToRemainingQuantity(t *testing.T) {
	adapter := &stubAdapter{}
	book := ledger.New()
	p := NewPipeline(testPipelineConfig(), adapter, &memoryRepo{}, book, nil)

	order := testOrder("ord-6", 10)
	require.NoError(t, p.Submit(context.Background(), order))

	got, err := p.OnFill(context.Background(), "ord-6", model.Fill{
		Quantity: 15, Price: decimal.NewFromInt(100), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.FilledQuantity)
	assert.Equal(t, model.OrderStatusFilled, got.Status)

	pos, _ := book.Position("BTCUSD")
	assert.Equal(t, int64(10), pos.Quantity)

	// A redundant fill after completion is ignored.
	got, err = p.OnFill(context.Background(), "ord-6", model.Fill{
		Quantity: 1, Price: decimal.NewFromInt(100), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.FilledQuantity)
}

func TestFillPersistedBeforeOrderFinal(t *testing.T) {
	adapter := &stubAdapter{}
	repo := &memoryRepo{}
	p := NewPipeline(testPipelineConfig(), adapter, repo, ledger.New(), nil)

	order := testOrder("ord-7", 5)
	require.NoError(t, p.Submit(context.Background(), order))

	_, err := p.OnFill(context.Background(), "ord-7", model.Fill{
		Quantity: 5, Price: decimal.NewFromInt(50), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, repo.fills, 1)
	assert.Equal(t, "ord-7", repo.fills[0].OrderID)
	assert.Equal(t, model.OrderSideBuy, repo.fills[0].Side)
}

func TestCancelBeforeFill(t *testing.T) {
	adapter := &stubAdapter{}
	rec := newRecordingReconciler()
	p := NewPipeline(testPipelineConfig(), adapter, &memoryRepo{}, ledger.New(), rec)

	order := testOrder("ord-8", 10)
	require.NoError(t, p.Submit(context.Background(), order))

	cancelled, err := p.Cancel(context.Background(), "ord-8")
	require.NoError(t, err)
	assert.True(t, cancelled)

	got, _ := p.Order("ord-8")
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Equal(t, []string{got.IdempotencyKey}, adapter.cancels)
	assert.Contains(t, rec.released, "ord-8")
}

func TestFillWinsCancelRace(t *testing.T) {
	adapter := &stubAdapter{}
	p, _ := newTestPipeline(adapter)

	order := testOrder("ord-9", 10)
	require.NoError(t, p.Submit(context.Background(), order))

	// The fill lands before the cancel round-trip completes.
	_, err := p.OnFill(context.Background(), "ord-9", model.Fill{
		Quantity: 10, Price: decimal.NewFromInt(100), Timestamp: time.Now(),
	})
	require.NoError(t, err)

	cancelled, err := p.Cancel(context.Background(), "ord-9")
	require.NoError(t, err)
	assert.False(t, cancelled)

	got, _ := p.Order("ord-9")
	assert.Equal(t, model.OrderStatusFilled, got.Status)
}

func TestCancelOfUnknownOrder(t *testing.T) {
	p, _ := newTestPipeline(&stubAdapter{})

	_, err := p.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownOrder)

	_, err = p.OnFill(context.Background(), "missing", model.Fill{Quantity: 1, Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestTrackerEvictsTerminalOrdersAtCapacity(t *testing.T) {
	adapter := &stubAdapter{}
	cfg := testPipelineConfig()
	cfg.OrderTrackerCapacity = 2
	p := NewPipeline(cfg, adapter, &memoryRepo{}, ledger.New(), nil)

	require.NoError(t, p.Submit(context.Background(), testOrder("old-terminal", 1)))
	_, err := p.OnFill(context.Background(), "old-terminal", model.Fill{
		Quantity: 1, Price: decimal.NewFromInt(1), Timestamp: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, p.Submit(context.Background(), testOrder("live-1", 1)))
	require.NoError(t, p.Submit(context.Background(), testOrder("live-2", 1)))

	_, ok := p.Order("old-terminal")
	assert.False(t, ok, "terminal order should be evicted at capacity")
	_, ok = p.Order("live-1")
	assert.True(t, ok)
	_, ok = p.Order("live-2")
	assert.True(t, ok)
}

func TestIdempotencyKeyStableAcrossSubmissions(t *testing.T) {
	p, _ := newTestPipeline(&stubAdapter{})
	q, _ := newTestPipeline(&stubAdapter{})

	a := testOrder("same-id", 10)
	b := testOrder("same-id", 10)
	require.NoError(t, p.Submit(context.Background(), a))
	require.NoError(t, q.Submit(context.Background(), b))

	assert.Equal(t, a.IdempotencyKey, b.IdempotencyKey)
}
