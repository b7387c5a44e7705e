package domain

import (
	"time"
)

// Config holds the complete LeadWatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Tier determines feature availability
	Tier Tier `koanf:"tier" validate:"oneof=community pro"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus"`

	// Engine settings
	Detection DetectionConfig `koanf:"detection"`
	Worker    WorkerConfig    `koanf:"worker"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds

	// IngestRateLimit caps ingestion requests per second per client IP.
	// Zero disables limiting.
	IngestRateLimit float64 `koanf:"ingest_rate_limit" validate:"gte=0"`
	IngestBurst     int     `koanf:"ingest_burst" validate:"gte=0"`
}

// DetectionConfig holds the windowing policy of every detector.
// Detection thresholds are fixed and live with the detectors; only the
// windows and fetch caps are configurable.
type DetectionConfig struct {
	// IPSpamWindow bounds the IP and email spam scan. Default 60m.
	IPSpamWindow time.Duration `koanf:"ip_spam_window" validate:"gt=0"`

	// RapidFireWindow bounds the per-user submission scan. Default 5m.
	RapidFireWindow time.Duration `koanf:"rapid_fire_window" validate:"gt=0"`

	// VPNWindow and VPNFetchLimit bound the VPN click sample. Default 24h / 50.
	VPNWindow     time.Duration `koanf:"vpn_window" validate:"gt=0"`
	VPNFetchLimit int           `koanf:"vpn_fetch_limit" validate:"gt=0"`

	// BotWindow and BotFetchLimit bound the bot click sample. Default 24h / 100.
	BotWindow     time.Duration `koanf:"bot_window" validate:"gt=0"`
	BotFetchLimit int           `koanf:"bot_fetch_limit" validate:"gt=0"`

	// DuplicateWindow bounds the duplicate burst scan. Default 60m.
	DuplicateWindow time.Duration `koanf:"duplicate_window" validate:"gt=0"`

	// StatsDays is the default reporting window in days. Default 7.
	StatsDays int `koanf:"stats_days" validate:"gt=0"`
}

// WorkerConfig holds settings for the background scan worker.
type WorkerConfig struct {
	Enabled bool `koanf:"enabled"`

	// Interval triggers a scan periodically; zero disables periodic scans
	// and the worker only reacts to scan requests.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`

	// PublishFilter is an optional CEL expression; only matching alerts
	// are published to the alert topic.
	PublishFilter string `koanf:"publish_filter"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`

	// OTLPEndpoint is the gRPC collector address, host:port.
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	Insecure     bool   `koanf:"insecure"`

	// SamplingRate is the fraction of traces kept, 0 to 1.
	SamplingRate float64 `koanf:"sampling_rate" validate:"gte=0,lte=1"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultDetectionConfig returns the default detector windows.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		IPSpamWindow:    60 * time.Minute,
		RapidFireWindow: 5 * time.Minute,
		VPNWindow:       24 * time.Hour,
		VPNFetchLimit:   50,
		BotWindow:       24 * time.Hour,
		BotFetchLimit:   100,
		DuplicateWindow: 60 * time.Minute,
		StatsDays:       7,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./leadwatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			AlertTTL:     30 * time.Second,
			StatsTTL:     60 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DefaultDetectionConfig(),
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "leadwatch",
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "leadwatch",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       10 * time.Second,
		AlertTTL:       30 * time.Second,
		StatsTTL:       60 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Interval = time.Minute
	cfg.Tracing.Enabled = true
	return cfg
}
