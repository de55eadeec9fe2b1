package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EquitySample is a monotonically-timestamped snapshot of total account
// equity. The high-water mark stored with each sample lets the equity curve be
// reconstructed across restarts.
type EquitySample struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Equity        decimal.Decimal `gorm:"type:double precision;not null" json:"equity"`
	HighWaterMark decimal.Decimal `gorm:"type:double precision;not null" json:"high_water_mark"`
	Drawdown      decimal.Decimal `gorm:"type:double precision" json:"drawdown"`
	Timestamp     time.Time       `gorm:"index" json:"timestamp"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName allows you to control the exact table name for equity samples.
func (EquitySample) TableName() string {
	return "equity_samples"
}
