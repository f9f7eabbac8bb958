package db

import (
	"fmt"

	"github.com/zulandar/crier/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model Crier persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Contact{},
		&models.Delivery{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
