package db

import (
	"fmt"
	"log"

	"doc-collab/internal/config"
	"doc-collab/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm initializes the store database connection and migrates the schema.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Document{},
		&models.DocumentLock{},
		&models.VersionRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
