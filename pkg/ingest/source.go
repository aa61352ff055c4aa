package ingest

import (
	"context"
	"fmt"

	"github.com/bitechdev/tagstream/pkg/config"
)

// Handler receives one raw payload from a source
type Handler func(payload []byte)

// Source is a connection to an upstream broker.
//
// Connect is called by the Consumer before every consume attempt and must
// discard any previous connection. Consume blocks, passing payloads to handle,
// until ctx is cancelled (returns nil or ctx.Err()) or the connection breaks
// (returns the cause).
type Source interface {
	Name() string
	Connect(ctx context.Context) error
	Consume(ctx context.Context, handle Handler) error
	Close() error
}

// NewSource builds the source selected by cfg.Provider
func NewSource(cfg config.IngestConfig) (Source, error) {
	switch cfg.Provider {
	case "kafka":
		return NewKafkaSource(cfg.Kafka), nil
	case "nats":
		return NewNATSSource(cfg.NATS), nil
	case "mqtt":
		return NewMQTTSource(cfg.MQTT), nil
	case "memory":
		return NewMemorySource(cfg.QueueSize), nil
	default:
		return nil, fmt.Errorf("unknown ingest provider: %s", cfg.Provider)
	}
}
