package domain

import (
	"context"
	"time"
)

// Cache is the boundary cache used by the API in front of the engine.
// The engine itself never caches; every detection pass hits the store.
// Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `koanf:"type" validate:"oneof=memory redis none"`

	// Local LRU cache settings
	LocalMaxSize int           `koanf:"local_max_size"`
	LocalTTL     time.Duration `koanf:"local_ttl"`

	// Redis settings
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `koanf:"enable_two_phase"` // If true, check local first, then Redis

	// TTLs for the API boundary
	AlertTTL time.Duration `koanf:"alert_ttl"`
	StatsTTL time.Duration `koanf:"stats_ttl"`
}
