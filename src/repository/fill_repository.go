package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"riskexecutor/src/database"
	"riskexecutor/src/model"
)

// FillRepository handles persistence for execution fills.
type FillRepository struct {
	db *gorm.DB
}

// NewFillRepository creates a new repository instance using the main read/write database.
func NewFillRepository() *FillRepository {
	return &FillRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *FillRepository) WithDB(db *gorm.DB) *FillRepository {
	return &FillRepository{db: db}
}

// Create inserts a fill. Fills are append-only.
func (r *FillRepository) Create(ctx context.Context, fill *model.Fill) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "FillRepository",
		"op":       "Create",
		"order_id": fill.OrderID,
		"symbol":   fill.Symbol,
		"qty":      fill.Quantity,
	}).Debug("Persisting fill")

	if err := r.db.WithContext(ctx).Create(fill).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "FillRepository",
			"op":       "Create",
			"order_id": fill.OrderID,
		}).WithError(err).Error("Failed to persist fill")
		return err
	}

	return nil
}

// FindByOrderID returns all fills recorded for one order, oldest first.
func (r *FillRepository) FindByOrderID(ctx context.Context, orderID string) ([]model.Fill, error) {
	var fills []model.Fill
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&fills).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "FillRepository",
			"op":       "FindByOrderID",
			"order_id": orderID,
		}).WithError(err).Error("Failed to fetch fills by order ID")
		return nil, err
	}

	return fills, nil
}
