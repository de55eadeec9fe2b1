package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"riskexecutor/src/database"
	"riskexecutor/src/model"
)

// RiskEventRepository persists safety-state changes for auditing.
type RiskEventRepository struct {
	db *gorm.DB
}

// NewRiskEventRepository creates a new repository instance using the main read/write database.
func NewRiskEventRepository() *RiskEventRepository {
	return &RiskEventRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *RiskEventRepository) WithDB(db *gorm.DB) *RiskEventRepository {
	return &RiskEventRepository{db: db}
}

// Create persists a risk event.
func (r *RiskEventRepository) Create(ctx context.Context, event *model.RiskEvent) error {
	logger.WithFields(map[string]interface{}{
		"repo":       "RiskEventRepository",
		"op":         "Create",
		"kind":       event.Kind,
		"from_level": event.FromLevel,
		"to_level":   event.ToLevel,
	}).Info("Persisting risk event")

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "RiskEventRepository",
			"op":   "Create",
			"kind": event.Kind,
		}).WithError(err).Error("Failed to persist risk event")
		return err
	}

	return nil
}

// FindLatest returns the newest risk events, newest first.
func (r *RiskEventRepository) FindLatest(ctx context.Context, limit int) ([]model.RiskEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var events []model.RiskEvent
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "RiskEventRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest risk events")
		return nil, err
	}

	return events, nil
}
