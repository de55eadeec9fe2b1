package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order lifecycle states. Pending and Submitted are the only non-terminal ones.
const (
	OrderStatusPending         = "pending"
	OrderStatusSubmitted       = "submitted"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusRejected        = "rejected"
	OrderStatusCancelled       = "cancelled"
)

// Order represents an order accepted at intake. Everything except Status,
// FilledQuantity and retry bookkeeping is immutable after creation; those
// fields are mutated only by the execution pipeline.
type Order struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	Symbol         string           `gorm:"size:100;index" json:"symbol"`
	Side           string           `gorm:"size:10;not null" json:"side"`
	OrderType      string           `gorm:"size:20;not null" json:"order_type"`
	Quantity       int64            `gorm:"not null" json:"quantity"`
	LimitPrice     *decimal.Decimal `gorm:"type:double precision" json:"limit_price,omitempty"`
	TimeInForce    string           `gorm:"size:10;default:GTC" json:"time_in_force"`
	Status         string           `gorm:"size:50;not null;default:pending" json:"status"`
	FilledQuantity int64            `json:"filled_quantity"`
	RetryCount     int              `json:"retry_count"`
	IdempotencyKey string           `gorm:"size:36;index" json:"idempotency_key"`
	RejectReason   string           `gorm:"size:100" json:"reject_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	LastUpdatedAt  time.Time        `gorm:"autoUpdateTime" json:"last_updated_at"`

	// One-to-many relation: one order can have many execution attempt logs
	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// IsTerminal reports whether the order can no longer change state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// SignedQuantity returns +Quantity for a BUY and -Quantity for a SELL.
func (o *Order) SignedQuantity() int64 {
	if o.Side == OrderSideSell {
		return -o.Quantity
	}
	return o.Quantity
}
