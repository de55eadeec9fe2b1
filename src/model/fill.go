package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is a single execution report for an order. Fills are append-only; the
// sum of fill quantities for one order never exceeds the order's original
// quantity (the pipeline enforces the cap).
type Fill struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   string          `gorm:"size:36;index" json:"order_id"`
	Symbol    string          `gorm:"size:100;index" json:"symbol"`
	Side      string          `gorm:"size:10;not null" json:"side"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:double precision;not null" json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName allows you to control the exact table name for fills.
func (Fill) TableName() string {
	return "fills"
}

// SignedQuantity returns +Quantity for a BUY fill and -Quantity for a SELL fill.
func (f *Fill) SignedQuantity() int64 {
	if f.Side == OrderSideSell {
		return -f.Quantity
	}
	return f.Quantity
}
