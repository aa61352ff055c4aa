package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/bitechdev/tagstream/pkg/config"
	"github.com/bitechdev/tagstream/pkg/logger"
)

// KafkaSource consumes a topic through a consumer group
type KafkaSource struct {
	cfg config.KafkaConfig

	mu     sync.Mutex
	reader *kafka.Reader
}

// NewKafkaSource creates a source for cfg.Topic
func NewKafkaSource(cfg config.KafkaConfig) *KafkaSource {
	return &KafkaSource{cfg: cfg}
}

func (k *KafkaSource) Name() string { return "kafka" }

// Connect checks that a broker is reachable and the topic exists, then opens a
// fresh reader. kafka.Reader connects lazily, so without the probe a dead
// cluster would only surface as fetch errors.
func (k *KafkaSource) Connect(ctx context.Context) error {
	if len(k.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if err := k.probe(ctx); err != nil {
		return err
	}

	startOffset := kafka.LastOffset
	if k.cfg.Offset == "earliest" {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.cfg.Brokers,
		Topic:       k.cfg.Topic,
		GroupID:     k.cfg.GroupID,
		MinBytes:    k.cfg.MinBytes,
		MaxBytes:    k.cfg.MaxBytes,
		MaxWait:     k.cfg.MaxWait,
		StartOffset: startOffset,
	})

	k.mu.Lock()
	old := k.reader
	k.reader = reader
	k.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	logger.Info("[Ingest] Kafka reader ready: topic=%s group=%s", k.cfg.Topic, k.cfg.GroupID)
	return nil
}

func (k *KafkaSource) probe(ctx context.Context) error {
	var lastErr error
	for _, broker := range k.cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(k.cfg.Topic)
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if len(partitions) == 0 {
			return fmt.Errorf("topic %q has no partitions", k.cfg.Topic)
		}
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func (k *KafkaSource) Consume(ctx context.Context, handle Handler) error {
	k.mu.Lock()
	reader := k.reader
	k.mu.Unlock()
	if reader == nil {
		return errors.New("kafka reader not connected")
	}

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		handle(msg.Value)

		if k.cfg.GroupID != "" {
			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				logger.Warn("[Ingest] Kafka commit failed at offset %d: %v", msg.Offset, err)
			}
		}
	}
}

func (k *KafkaSource) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.reader == nil {
		return nil
	}
	err := k.reader.Close()
	k.reader = nil
	return err
}
