// Package bus carries scan requests, alerts and reports between the API
// and the scan worker.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/leadwatch/internal/domain"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("bus is closed")

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
