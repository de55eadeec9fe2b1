package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Level is the circuit breaker severity level.
type Level int

const (
	LevelNormal Level = iota
	Level1
	Level2
	Level3
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case Level1:
		return "LEVEL1"
	case Level2:
		return "LEVEL2"
	case Level3:
		return "LEVEL3"
	default:
		return "UNKNOWN"
	}
}

// LevelAction is the typed per-level action record: what entering the level
// does to new orders.
type LevelAction struct {
	DrawdownThreshold   decimal.Decimal
	ReductionFactor     decimal.Decimal // LEVEL1: scale new order sizes
	Duration            time.Duration   // LEVEL2: trading halt timer
	ManualResetRequired bool            // LEVEL3: no automatic exit
}

// BreakerConfig holds the three escalation levels.
type BreakerConfig struct {
	Level1 LevelAction
	Level2 LevelAction
	Level3 LevelAction
}

// BreakerState is an immutable snapshot of the circuit breaker, safe to hand
// to order validation while evaluation runs concurrently.
type BreakerState struct {
	Level               Level
	EnteredAt           time.Time
	ExpiresAt           *time.Time
	ManualResetRequired bool
}

// Halted reports whether the LEVEL2 trading halt is still in force at now.
func (s BreakerState) Halted(now time.Time) bool {
	if s.Level != Level2 {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// CircuitBreaker is the tiered drawdown breaker. The periodic risk evaluation
// step is its only writer; escalation and de-escalation both move at most one
// level per evaluation tick, and LEVEL3 is exited only by an explicit manual
// reset.
type CircuitBreaker struct {
	mu    sync.Mutex
	cfg   BreakerConfig
	state BreakerState
}

// NewCircuitBreaker creates a breaker in NORMAL state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg,
		state: BreakerState{Level: LevelNormal, EnteredAt: time.Now()},
	}
}

// State returns the current snapshot.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Evaluate applies one tick of the state machine for the given drawdown and
// returns the resulting state and whether it changed.
func (b *CircuitBreaker) Evaluate(drawdown decimal.Decimal, now time.Time) (BreakerState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.state

	switch prev.Level {
	case LevelNormal:
		if drawdown.GreaterThanOrEqual(b.cfg.Level1.DrawdownThreshold) {
			b.enter(Level1, now, nil, false)
		}

	case Level1:
		if drawdown.GreaterThanOrEqual(b.cfg.Level2.DrawdownThreshold) {
			expires := now.Add(b.cfg.Level2.Duration)
			b.enter(Level2, now, &expires, false)
		} else if drawdown.LessThan(b.cfg.Level1.DrawdownThreshold) {
			b.enter(LevelNormal, now, nil, false)
		}

	case Level2:
		if drawdown.GreaterThanOrEqual(b.cfg.Level3.DrawdownThreshold) {
			b.enter(Level3, now, nil, true)
		} else if prev.ExpiresAt != nil && !now.Before(*prev.ExpiresAt) &&
			drawdown.LessThan(b.cfg.Level2.DrawdownThreshold) {
			b.enter(Level1, now, nil, false)
		}

	case Level3:
		// Only ManualReset exits LEVEL3.
	}

	changed := b.state.Level != prev.Level
	if changed {
		logger.WithFields(map[string]interface{}{
			"component": "CircuitBreaker",
			"from":      prev.Level.String(),
			"to":        b.state.Level.String(),
			"drawdown":  drawdown.String(),
		}).Warn("Circuit breaker level changed")
	}

	return b.state, changed
}

// ManualReset returns the breaker to NORMAL. It is the only valid exit from
// LEVEL3 and reports whether a reset actually happened.
func (b *CircuitBreaker) ManualReset(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Level == LevelNormal {
		return false
	}

	from := b.state.Level
	b.enter(LevelNormal, now, nil, false)

	logger.WithFields(map[string]interface{}{
		"component": "CircuitBreaker",
		"from":      from.String(),
	}).Info("Circuit breaker manually reset")

	return true
}

func (b *CircuitBreaker) enter(level Level, now time.Time, expiresAt *time.Time, manual bool) {
	b.state = BreakerState{
		Level:               level,
		EnteredAt:           now,
		ExpiresAt:           expiresAt,
		ManualResetRequired: manual,
	}
}
