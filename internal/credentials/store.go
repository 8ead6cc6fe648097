// Package credentials persists the marketplace session between runs.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"emcp-client/internal/config"
	"emcp-client/internal/db"

	"github.com/redis/go-redis/v9"
)

// Well-known keys
const (
	KeyAccessToken = "accessToken"
	KeyUserEmail   = "userEmail"
	KeyAPIBaseURL  = "apiBaseUrl"
)

// ErrNotFound key is absent from the store
var ErrNotFound = errors.New("credential not found")

// Store key-value credential storage
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds the store selected by credentials.driver
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Credentials.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Credentials.File, cfg.Credentials.Passphrase)
	case "postgres":
		database, err := db.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(database), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed ping to redis: %w", err)
		}
		return NewRedisStore(client, cfg.Credentials.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown credentials driver %q", cfg.Credentials.Driver)
	}
}
