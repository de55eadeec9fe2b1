package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the per-symbol book position. Quantity is signed (negative for
// short) and always equals the signed sum of all applied fills since the
// position was opened. AverageEntryPrice is recomputed on each same-direction
// fill and reset when the position flips direction.
type Position struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Symbol            string          `gorm:"size:100;uniqueIndex" json:"symbol"`
	Quantity          int64           `json:"quantity"`
	AverageEntryPrice decimal.Decimal `gorm:"type:double precision" json:"average_entry_price"`
	RealizedPnl       decimal.Decimal `gorm:"type:double precision" json:"realized_pnl"`
	UnrealizedPnl     decimal.Decimal `gorm:"type:double precision" json:"unrealized_pnl"`
	LastPrice         decimal.Decimal `gorm:"type:double precision" json:"last_price"`
	LastUpdate        time.Time       `json:"last_update"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName allows you to control the exact table name for positions.
func (Position) TableName() string {
	return "positions"
}

// Exposure returns the notional value of the position, |quantity| * last price.
func (p *Position) Exposure() decimal.Decimal {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return decimal.NewFromInt(qty).Mul(p.LastPrice)
}

// IsFlat reports whether the position quantity is zero.
func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}
