package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emcp-client/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore credential rows in the emcp_credentials table
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var row models.StoredCredential
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	row := models.StoredCredential{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.StoredCredential{}).Error; err != nil {
		return fmt.Errorf("failed to delete credential %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
