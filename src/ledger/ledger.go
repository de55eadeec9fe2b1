package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"riskexecutor/src/model"
)

// ErrUnknownSymbol is returned by ApplyFill when a symbol allow-list is
// configured and the fill names a symbol outside of it.
var ErrUnknownSymbol = errors.New("unknown symbol")

// PositionLedger is the authoritative per-symbol position book and the source
// of truth for exposure. All mutations on a single symbol are linearizable and
// aggregate reads (TotalExposure, Snapshot) observe a consistent snapshot; an
// in-flight fill is never partially visible.
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position

	// Optional allow-list. Empty means any symbol is accepted.
	allowed map[string]struct{}
}

// New creates an empty ledger accepting any symbol.
func New() *PositionLedger {
	return &PositionLedger{
		positions: make(map[string]*model.Position),
	}
}

// NewWithSymbols creates a ledger that only accepts the given symbols.
func NewWithSymbols(symbols []string) *PositionLedger {
	l := New()
	if len(symbols) == 0 {
		return l
	}
	l.allowed = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		l.allowed[s] = struct{}{}
	}
	return l
}

// Seed installs previously persisted positions, replacing any in-memory state
// for the same symbols. Used at startup to reconcile across restarts.
func (l *PositionLedger) Seed(positions []model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range positions {
		p := positions[i]
		l.positions[p.Symbol] = &p
	}
}

// ApplyFill atomically updates the named symbol's position and returns the
// post-fill snapshot. The position is created on the first fill for a symbol.
//
// Same-direction fills recompute the average entry price as a weighted
// average. Reducing fills realize P&L against the average entry. A fill that
// crosses through zero closes the position and reopens it in the opposite
// direction at the fill price.
func (l *PositionLedger) ApplyFill(fill model.Fill) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowed != nil {
		if _, ok := l.allowed[fill.Symbol]; !ok {
			return model.Position{}, ErrUnknownSymbol
		}
	}

	pos, ok := l.positions[fill.Symbol]
	if !ok {
		pos = &model.Position{
			Symbol:    fill.Symbol,
			CreatedAt: fill.Timestamp,
		}
		l.positions[fill.Symbol] = pos
	}

	applyFill(pos, fill)

	logger.WithFields(map[string]interface{}{
		"component": "PositionLedger",
		"symbol":    fill.Symbol,
		"fill_qty":  fill.SignedQuantity(),
		"price":     fill.Price.String(),
		"pos_qty":   pos.Quantity,
	}).Debug("Fill applied")

	return *pos, nil
}

func applyFill(pos *model.Position, fill model.Fill) {
	delta := fill.SignedQuantity()
	cur := pos.Quantity
	next := cur + delta

	switch {
	case cur == 0 || sameSign(cur, delta):
		// Opening or adding: weighted average entry.
		curAbs := decimal.NewFromInt(abs(cur))
		addAbs := decimal.NewFromInt(abs(delta))
		total := curAbs.Add(addAbs)
		if total.IsZero() {
			pos.AverageEntryPrice = fill.Price
		} else {
			pos.AverageEntryPrice = pos.AverageEntryPrice.Mul(curAbs).
				Add(fill.Price.Mul(addAbs)).
				Div(total)
		}

	case sameSign(cur, next) || next == 0:
		// Reducing (possibly to flat): realize against the average entry.
		closed := decimal.NewFromInt(abs(delta))
		pos.RealizedPnl = pos.RealizedPnl.Add(realized(cur, pos.AverageEntryPrice, fill.Price, closed))
		if next == 0 {
			pos.AverageEntryPrice = decimal.Zero
		}

	default:
		// Direction flip: close the full current quantity, reopen the
		// remainder at the fill price.
		closed := decimal.NewFromInt(abs(cur))
		pos.RealizedPnl = pos.RealizedPnl.Add(realized(cur, pos.AverageEntryPrice, fill.Price, closed))
		pos.AverageEntryPrice = fill.Price
	}

	pos.Quantity = next
	pos.LastPrice = fill.Price
	pos.LastUpdate = fill.Timestamp
	markUnrealized(pos)
}

// realized computes P&L for closing `closed` units of a position whose signed
// quantity is cur, entered at entry, closed at price.
func realized(cur int64, entry, price, closed decimal.Decimal) decimal.Decimal {
	if cur > 0 {
		return price.Sub(entry).Mul(closed)
	}
	return entry.Sub(price).Mul(closed)
}

// Mark updates the symbol's last price and recomputes unrealized P&L. It does
// not touch realized P&L or quantity, and is a no-op for unknown symbols.
func (l *PositionLedger) Mark(symbol string, price decimal.Decimal, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.LastPrice = price
	pos.LastUpdate = at
	markUnrealized(pos)
}

func markUnrealized(pos *model.Position) {
	if pos.Quantity == 0 {
		pos.UnrealizedPnl = decimal.Zero
		return
	}
	qty := decimal.NewFromInt(pos.Quantity)
	pos.UnrealizedPnl = pos.LastPrice.Sub(pos.AverageEntryPrice).Mul(qty)
}

// Position returns a read-only snapshot of the symbol's position.
func (l *PositionLedger) Position(symbol string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// TotalExposure returns the sum over all positions of |quantity| * last price.
func (l *PositionLedger) TotalExposure() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range l.positions {
		total = total.Add(pos.Exposure())
	}
	return total
}

// RealizedPnL returns the sum of realized P&L across all positions.
func (l *PositionLedger) RealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range l.positions {
		total = total.Add(pos.RealizedPnl)
	}
	return total
}

// UnrealizedPnL returns the sum of unrealized P&L across all positions.
func (l *PositionLedger) UnrealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range l.positions {
		total = total.Add(pos.UnrealizedPnl)
	}
	return total
}

// Snapshot returns copies of all positions, including flat ones.
func (l *PositionLedger) Snapshot() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenPositions returns copies of all positions with non-zero quantity.
func (l *PositionLedger) OpenPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
