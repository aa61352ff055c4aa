package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/bitechdev/tagstream/pkg/config"
	"github.com/bitechdev/tagstream/pkg/logger"
)

// NATSSource subscribes to a core NATS subject, optionally in a queue group so
// several instances can share the feed. Reconnection is left to the Consumer.
type NATSSource struct {
	cfg config.NATSConfig

	mu     sync.Mutex
	nc     *nats.Conn
	closed chan error
}

// NewNATSSource creates a source for cfg.Subject
func NewNATSSource(cfg config.NATSConfig) *NATSSource {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	return &NATSSource{cfg: cfg}
}

func (n *NATSSource) Name() string { return "nats" }

func (n *NATSSource) Connect(ctx context.Context) error {
	n.closeConn()

	closed := make(chan error, 1)
	opts := []nats.Option{
		nats.Name("tagstream-ingest"),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errors.New("disconnected")
			}
			select {
			case closed <- err:
			default:
			}
		}),
	}
	if n.cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(n.cfg.Timeout))
	}

	nc, err := nats.Connect(n.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", n.cfg.URL, err)
	}

	n.mu.Lock()
	n.nc = nc
	n.closed = closed
	n.mu.Unlock()

	logger.Info("[Ingest] Connected to NATS: %s", nc.ConnectedUrl())
	return nil
}

func (n *NATSSource) Consume(ctx context.Context, handle Handler) error {
	n.mu.Lock()
	nc, closed := n.nc, n.closed
	n.mu.Unlock()
	if nc == nil {
		return errors.New("nats not connected")
	}

	ch := make(chan *nats.Msg, 256)
	var sub *nats.Subscription
	var err error
	if n.cfg.QueueGroup != "" {
		sub, err = nc.ChanQueueSubscribe(n.cfg.Subject, n.cfg.QueueGroup, ch)
	} else {
		sub, err = nc.ChanSubscribe(n.cfg.Subject, ch)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.cfg.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	logger.Info("[Ingest] Subscribed to NATS subject %s", n.cfg.Subject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			return fmt.Errorf("nats connection lost: %w", err)
		case msg := <-ch:
			handle(msg.Data)
		}
	}
}

func (n *NATSSource) closeConn() {
	n.mu.Lock()
	nc := n.nc
	n.nc = nil
	n.mu.Unlock()
	if nc != nil {
		nc.Close()
	}
}

func (n *NATSSource) Close() error {
	n.closeConn()
	return nil
}
