// Package domain defines the core interfaces and types for LeadWatch.
package domain

import (
	"context"
	"time"
)

// ActivityStore is the read-only view of CRM activity used by the detectors
// and the statistics aggregator. Every method keeps rows with since <=
// created_at <= until (updated_at for users).
type ActivityStore interface {
	// LeadsByIP groups leads with a non-null IP.
	LeadsByIP(ctx context.Context, since, until time.Time) ([]IPLeadGroup, error)

	// LeadsByUser groups leads with a non-null linked user.
	LeadsByUser(ctx context.Context, since, until time.Time) ([]UserLeadGroup, error)

	// VPNClicks returns at most limit VPN-flagged clicks, newest first.
	VPNClicks(ctx context.Context, since, until time.Time, limit int) ([]VPNClick, error)

	// BotClicks returns at most limit bot-flagged clicks, newest first.
	BotClicks(ctx context.Context, since, until time.Time, limit int) ([]BotClick, error)

	// LeadsByCampaign groups leads with a non-null campaign.
	LeadsByCampaign(ctx context.Context, since, until time.Time) ([]CampaignLeadGroup, error)

	// Reporting aggregates
	ClickCounts(ctx context.Context, since, until time.Time) (*ClickCounts, error)
	LeadCounts(ctx context.Context, since, until time.Time) (*LeadCounts, error)
	FraudUserCount(ctx context.Context, since, until time.Time) (int64, error)
}

// Repository is the full activity store, including the write side owned
// by the CRM ingestion surface.
type Repository interface {
	ActivityStore

	SaveClick(ctx context.Context, click *Click) error
	SaveLead(ctx context.Context, lead *Lead) error
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
