package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskEvent kinds.
const (
	RiskEventBreakerTransition   = "breaker_transition"
	RiskEventManualReset         = "manual_reset"
	RiskEventForcedCloseFlag     = "forced_close_flag"
	RiskEventRecoveryActivated   = "recovery_activated"
	RiskEventRecoveryDeactivated = "recovery_deactivated"
)

// RiskEvent is a persisted record of a safety-state change: circuit breaker
// transitions, manual resets, recovery mode changes and forced-close flags.
// Kept for auditing and for the dashboard to read.
type RiskEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Kind string `gorm:"size:50;index" json:"kind"`

	// Breaker transition details (empty for recovery events)
	FromLevel string `gorm:"size:20" json:"from_level,omitempty"`
	ToLevel   string `gorm:"size:20" json:"to_level,omitempty"`

	Drawdown decimal.Decimal `gorm:"type:double precision" json:"drawdown"`
	Message  string          `gorm:"type:text" json:"message"`

	// Extra context stored as JSON (optional)
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName allows you to control the exact table name for risk events.
func (RiskEvent) TableName() string {
	return "risk_events"
}
