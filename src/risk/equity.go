package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EquitySample is one point of the in-memory equity curve.
type EquitySample struct {
	Equity    decimal.Decimal
	Timestamp time.Time
}

// EquityCurve keeps a bounded window of equity samples plus the session
// high-water mark, which is non-decreasing. Capacity is explicit; the oldest
// sample is evicted when the window is full.
type EquityCurve struct {
	mu       sync.RWMutex
	samples  []EquitySample
	capacity int
	hwm      decimal.Decimal
	last     decimal.Decimal
	lastAt   time.Time
}

// NewEquityCurve creates an empty curve with the given sample capacity.
func NewEquityCurve(capacity int) *EquityCurve {
	if capacity <= 0 {
		capacity = 1
	}
	return &EquityCurve{
		samples:  make([]EquitySample, 0, capacity),
		capacity: capacity,
	}
}

// Seed installs a persisted high-water mark and last equity, used at startup
// so drawdown survives restarts.
func (c *EquityCurve) Seed(equity, highWaterMark decimal.Decimal, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = equity
	c.lastAt = at
	c.hwm = highWaterMark
	if equity.GreaterThan(c.hwm) {
		c.hwm = equity
	}
	c.samples = append(c.samples[:0], EquitySample{Equity: equity, Timestamp: at})
}

// Add appends a sample. Timestamps must be monotonic; a sample older than the
// latest one is dropped.
func (c *EquityCurve) Add(equity decimal.Decimal, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastAt.IsZero() && at.Before(c.lastAt) {
		return
	}

	if len(c.samples) == c.capacity {
		copy(c.samples, c.samples[1:])
		c.samples = c.samples[:len(c.samples)-1]
	}
	c.samples = append(c.samples, EquitySample{Equity: equity, Timestamp: at})

	c.last = equity
	c.lastAt = at
	if equity.GreaterThan(c.hwm) {
		c.hwm = equity
	}
}

// Drawdown returns (hwm - current) / hwm, zero while the curve is empty or the
// high-water mark is not positive.
func (c *EquityCurve) Drawdown() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.hwm.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	dd := c.hwm.Sub(c.last).Div(c.hwm)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// HighWaterMark returns the session high-water mark.
func (c *EquityCurve) HighWaterMark() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hwm
}

// Last returns the latest equity sample value.
func (c *EquityCurve) Last() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Len returns the number of retained samples.
func (c *EquityCurve) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}
