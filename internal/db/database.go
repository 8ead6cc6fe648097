package db

import (
	"fmt"
	"time"

	"emcp-client/internal/config"
	"emcp-client/internal/models"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres and migrates the credential table.
// driver "pq" routes through lib/pq; anything else uses the pgx driver bundled with gorm.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dialector := postgres.New(postgres.Config{DSN: cfg.DSN})
	if cfg.Driver == "pq" {
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: cfg.DSN})
	}

	logrus.WithField("driver", cfg.Driver).Info("🔌 [DB] Connecting to database")

	database, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := database.AutoMigrate(&models.StoredCredential{}); err != nil {
		return nil, fmt.Errorf("AutoMigrate failed: %w", err)
	}

	logrus.Info("✅ [DB] Database connected and migrated")
	return database, nil
}
