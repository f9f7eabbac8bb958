// Package deliveries keeps an audit trail of messages Crier has sent.
package deliveries

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/crier/internal/models"
	"gorm.io/gorm"
)

// Log records deliveries in the database.
type Log struct {
	db *gorm.DB
}

// NewLog creates a Log.
func NewLog(db *gorm.DB) (*Log, error) {
	if db == nil {
		return nil, fmt.Errorf("deliveries: db is required")
	}
	return &Log{db: db}, nil
}

// Record stores one delivery.
func (l *Log) Record(ctx context.Context, d models.Delivery) error {
	if d.InvocationID == "" {
		return fmt.Errorf("deliveries: record: invocation id is required")
	}
	if err := l.db.WithContext(ctx).Create(&d).Error; err != nil {
		return fmt.Errorf("deliveries: record %s: %w", d.InvocationID, err)
	}
	return nil
}

// Recent returns up to limit deliveries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.Delivery
	err := l.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("deliveries: recent: %w", err)
	}
	return out, nil
}

// Prune deletes deliveries older than the cutoff and returns how many were
// removed.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := l.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.Delivery{})
	if result.Error != nil {
		return 0, fmt.Errorf("deliveries: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}
