package repository

import (
	"context"

	"gorm.io/gorm"

	"riskexecutor/src/model"
)

// TradeStore bundles the order and fill repositories behind the persistence
// surface the execution pipeline expects.
type TradeStore struct {
	Orders *OrderRepository
	Fills  *FillRepository
}

// NewTradeStore creates a store backed by the main read/write database.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		Orders: NewOrderRepository(),
		Fills:  NewFillRepository(),
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (s *TradeStore) WithDB(db *gorm.DB) *TradeStore {
	return &TradeStore{
		Orders: (&OrderRepository{}).WithDB(db),
		Fills:  (&FillRepository{}).WithDB(db),
	}
}

func (s *TradeStore) SaveOrder(ctx context.Context, order *model.Order) error {
	return s.Orders.Create(ctx, order)
}

func (s *TradeStore) UpdateOrder(ctx context.Context, order *model.Order) error {
	return s.Orders.Update(ctx, order)
}

func (s *TradeStore) SaveFill(ctx context.Context, fill *model.Fill) error {
	return s.Fills.Create(ctx, fill)
}

func (s *TradeStore) SaveOrderLog(ctx context.Context, entry *model.OrderLog) error {
	return s.Orders.CreateLog(ctx, entry)
}
