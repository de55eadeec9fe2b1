package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// RecoveryConfig holds the recovery mode settings.
type RecoveryConfig struct {
	ActivationThreshold decimal.Decimal // cumulative loss that activates recovery (negative)
	SizeFactor          decimal.Decimal
	MinRecoveryPeriod   time.Duration
	ProfitTarget        decimal.Decimal
	TimeTarget          time.Duration
}

// RecoveryState is a read-only snapshot consulted by the risk engine when
// sizing orders.
type RecoveryState struct {
	Active                     bool
	ActivatedAt                time.Time
	CumulativeLossAtActivation decimal.Decimal
	SizeFactor                 decimal.Decimal
}

// RecoveryController scales down risk after sustained losses and restores
// normal sizing once recovery conditions hold. It owns RecoveryState; the
// periodic risk evaluation step is its only writer.
type RecoveryController struct {
	mu    sync.Mutex
	cfg   RecoveryConfig
	state RecoveryState
}

// NewRecoveryController creates an inactive controller.
func NewRecoveryController(cfg RecoveryConfig) *RecoveryController {
	return &RecoveryController{cfg: cfg}
}

// CurrentState returns the current snapshot.
func (r *RecoveryController) CurrentState() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnEquityUpdate feeds one evaluation tick. cumulativePnl is the session P&L
// relative to starting capital. Returns the post-tick state and whether
// activation flipped.
//
// Activation: not active and cumulativePnl <= activation threshold.
// Deactivation: profit target reached since activation AND the minimum
// recovery period has elapsed, or the time target has elapsed outright.
func (r *RecoveryController) OnEquityUpdate(cumulativePnl decimal.Decimal, now time.Time) (RecoveryState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Active {
		if cumulativePnl.LessThanOrEqual(r.cfg.ActivationThreshold) {
			r.state = RecoveryState{
				Active:                     true,
				ActivatedAt:                now,
				CumulativeLossAtActivation: cumulativePnl,
				SizeFactor:                 r.cfg.SizeFactor,
			}
			logger.WithFields(map[string]interface{}{
				"component":      "RecoveryController",
				"cumulative_pnl": cumulativePnl.String(),
				"size_factor":    r.cfg.SizeFactor.String(),
			}).Warn("Recovery mode activated")
			return r.state, true
		}
		return r.state, false
	}

	elapsed := now.Sub(r.state.ActivatedAt)
	pnlSinceActivation := cumulativePnl.Sub(r.state.CumulativeLossAtActivation)

	profitExit := pnlSinceActivation.GreaterThanOrEqual(r.cfg.ProfitTarget) &&
		elapsed >= r.cfg.MinRecoveryPeriod
	timeExit := elapsed >= r.cfg.TimeTarget

	if profitExit || timeExit {
		r.state = RecoveryState{}
		logger.WithFields(map[string]interface{}{
			"component":          "RecoveryController",
			"pnl_since_activate": pnlSinceActivation.String(),
			"elapsed":            elapsed.String(),
		}).Info("Recovery mode deactivated")
		return r.state, true
	}

	return r.state, false
}
