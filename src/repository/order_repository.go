package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"riskexecutor/src/database"
	"riskexecutor/src/model"
)

// OrderRepository handles persistence for Order entities and their
// per-attempt execution logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Debug("Creating OrderRepository with custom DB instance")

	return &OrderRepository{db: db}
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Create",
		"id":     order.ID,
		"symbol": order.Symbol,
		"side":   order.Side,
		"qty":    order.Quantity,
	}).Debug("Creating new order")

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
			"id":   order.ID,
		}).WithError(err).Error("Failed to create order")
		return err
	}

	return nil
}

// Update persists the current state of an order.
func (r *OrderRepository) Update(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Update",
		"id":     order.ID,
		"status": order.Status,
	}).Debug("Updating order")

	if err := r.db.WithContext(ctx).Save(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Update",
			"id":   order.ID,
		}).WithError(err).Error("Failed to update order")
		return err
	}

	return nil
}

// FindByID fetches a single order by its ID. Returns (nil, nil) if not found.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Order not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")
		return nil, err
	}

	return &order, nil
}

// FindOpen returns all orders that have not reached a terminal state.
// Used on startup to reconcile in-flight work.
func (r *OrderRepository) FindOpen(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			model.OrderStatusPending,
			model.OrderStatusSubmitted,
			model.OrderStatusPartiallyFilled,
		}).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindOpen",
		}).WithError(err).Error("Failed to fetch open orders")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "FindOpen",
		"rows_return": len(orders),
	}).Info("Open orders fetched")

	return orders, nil
}

// FindLatestBySymbol returns the latest orders for a symbol, newest first.
func (r *OrderRepository) FindLatestBySymbol(ctx context.Context, symbol string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 20
	}

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "FindLatestBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch latest orders by symbol")
		return nil, err
	}

	return orders, nil
}

// CreateLog appends one execution attempt log entry.
func (r *OrderRepository) CreateLog(ctx context.Context, entry *model.OrderLog) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "OrderRepository",
		"op":      "CreateLog",
		"id":      entry.OrderID,
		"attempt": entry.Attempt,
		"outcome": entry.Outcome,
	}).Debug("Appending order log entry")

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "CreateLog",
			"id":   entry.OrderID,
		}).WithError(err).Error("Failed to append order log entry")
		return err
	}

	return nil
}
