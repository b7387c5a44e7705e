package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type" validate:"oneof=channel nats"`

	// Channel settings (Community tier)
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds
}

// Topic names for the scan pipeline.
const (
	TopicScanRequested = "leadwatch.scan.requested"
	TopicScanCompleted = "leadwatch.scan.completed"
	TopicAlert         = "leadwatch.alert"
)

// ScanRequest is the payload of TopicScanRequested.
type ScanRequest struct {
	RequestID string `json:"requestId"`
	StatsDays int    `json:"statsDays,omitempty"`
}

// ScanCompleted is the payload of TopicScanCompleted.
type ScanCompleted struct {
	RequestID       string  `json:"requestId,omitempty"`
	Trigger         string  `json:"trigger"`
	AlertsPublished int     `json:"alertsPublished"`
	Report          *Report `json:"report"`
}
