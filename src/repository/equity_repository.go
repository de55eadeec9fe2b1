package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"riskexecutor/src/database"
	"riskexecutor/src/model"
)

// EquityRepository persists equity curve samples.
type EquityRepository struct {
	db *gorm.DB
}

// NewEquityRepository creates a new repository instance using the main read/write database.
func NewEquityRepository() *EquityRepository {
	return &EquityRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *EquityRepository) WithDB(db *gorm.DB) *EquityRepository {
	return &EquityRepository{db: db}
}

// Create appends one equity sample.
func (r *EquityRepository) Create(ctx context.Context, sample *model.EquitySample) error {
	if err := r.db.WithContext(ctx).Create(sample).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "EquityRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to persist equity sample")
		return err
	}

	return nil
}

// FindLatest returns the most recent equity sample. Returns (nil, nil) when no
// samples exist yet.
func (r *EquityRepository) FindLatest(ctx context.Context) (*model.EquitySample, error) {
	var sample model.EquitySample
	err := r.db.WithContext(ctx).
		Order("timestamp DESC").
		First(&sample).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "EquityRepository",
			"op":   "FindLatest",
		}).WithError(err).Error("Failed to fetch latest equity sample")
		return nil, err
	}

	return &sample, nil
}

// FindRecent returns the newest samples, oldest first, capped at limit.
func (r *EquityRepository) FindRecent(ctx context.Context, limit int) ([]model.EquitySample, error) {
	if limit <= 0 {
		limit = 100
	}

	var samples []model.EquitySample
	err := r.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&samples).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "EquityRepository",
			"op":    "FindRecent",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch recent equity samples")
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}

	return samples, nil
}
