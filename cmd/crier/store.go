package main

import (
	"fmt"

	"github.com/zulandar/crier/internal/config"
	"github.com/zulandar/crier/internal/db"
	"gorm.io/gorm"
)

// openStore connects to the configured database and migrates the schema.
func openStore(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}

// connectFromConfig loads the config file and opens its database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}
