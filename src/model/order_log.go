package model

import "time"

// Outcomes recorded per execution attempt.
const (
	OrderLogSubmitted = "submitted"
	OrderLogRetried   = "retried"
	OrderLogExhausted = "exhausted"
	OrderLogFilled    = "filled"
	OrderLogCancelled = "cancelled"
	OrderLogRejected  = "rejected"
)

// OrderLog stores the detailed history of each interaction with the execution
// adapter and the final conclusion of the order.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Foreign key to Order
	OrderID string `gorm:"size:36;index" json:"order_id"`

	// Snapshot of the order at the moment of this log entry
	Symbol   string `gorm:"size:100" json:"symbol"`
	Side     string `gorm:"size:10" json:"side"`
	Quantity int64  `json:"quantity"`

	Attempt      int     `json:"attempt"`
	Outcome      string  `gorm:"size:50;not null" json:"outcome"`
	Reason       string  `gorm:"size:255" json:"reason"`
	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName allows you to control the exact table name for order logs.
func (OrderLog) TableName() string {
	return "order_logs"
}
