package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/bitechdev/tagstream/pkg/config"
	"github.com/bitechdev/tagstream/pkg/logger"
)

const inlineSubscriptionID = 1

// MQTTSource reads tag updates from an MQTT topic filter. In embedded mode it
// runs its own broker so devices can publish straight into the process and
// subscribes through the broker's inline client; otherwise it connects to an
// external broker with paho.
type MQTTSource struct {
	cfg config.MQTTConfig

	mu       sync.Mutex
	client   pahomqtt.Client
	server   *mqtt.Server
	lost     chan error
	payloads chan []byte
}

// NewMQTTSource creates a source for cfg.Topic
func NewMQTTSource(cfg config.MQTTConfig) *MQTTSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MQTTSource{cfg: cfg}
}

func (m *MQTTSource) Name() string {
	if m.cfg.Embedded {
		return "mqtt-embedded"
	}
	return "mqtt"
}

func (m *MQTTSource) Connect(ctx context.Context) error {
	if m.cfg.Embedded {
		return m.startEmbedded()
	}
	return m.connectExternal()
}

// startEmbedded starts the broker once; later calls only reset the feed
func (m *MQTTSource) startEmbedded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lost = make(chan error, 1)
	m.payloads = make(chan []byte, 256)
	if m.server != nil {
		return nil
	}

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("failed to add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port),
	})
	if err := server.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to add TCP listener: %w", err)
	}
	if err := server.Serve(); err != nil {
		return fmt.Errorf("failed to start embedded broker: %w", err)
	}

	m.server = server
	logger.Info("[Ingest] Embedded MQTT broker listening on %s:%d", m.cfg.Host, m.cfg.Port)
	return nil
}

func (m *MQTTSource) connectExternal() error {
	m.mu.Lock()
	old := m.client
	m.client = nil
	m.mu.Unlock()
	if old != nil && old.IsConnected() {
		old.Disconnect(250)
	}

	lost := make(chan error, 1)
	payloads := make(chan []byte, 256)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(m.cfg.BrokerURL)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetUsername(m.cfg.Username)
	opts.SetPassword(m.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(m.cfg.Timeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("[Ingest] MQTT connection lost: %v", err)
		select {
		case lost <- err:
		default:
		}
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("timed out connecting to %s", m.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.cfg.BrokerURL, err)
	}

	m.mu.Lock()
	m.client = client
	m.lost = lost
	m.payloads = payloads
	m.mu.Unlock()

	logger.Info("[Ingest] Connected to MQTT broker: %s", m.cfg.BrokerURL)
	return nil
}

func (m *MQTTSource) Consume(ctx context.Context, handle Handler) error {
	m.mu.Lock()
	client, server := m.client, m.server
	lost, payloads := m.lost, m.payloads
	m.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)

	push := func(p []byte) {
		// Copy: both brokers may reuse packet buffers
		buf := make([]byte, len(p))
		copy(buf, p)
		select {
		case payloads <- buf:
		case <-stop:
		}
	}

	switch {
	case m.cfg.Embedded && server != nil:
		err := server.Subscribe(m.cfg.Topic, inlineSubscriptionID, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
			push(pk.Payload)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.Topic, err)
		}
		defer func() { _ = server.Unsubscribe(m.cfg.Topic, inlineSubscriptionID) }()
	case client != nil:
		token := client.Subscribe(m.cfg.Topic, m.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			push(msg.Payload())
		})
		if !token.WaitTimeout(m.cfg.Timeout) {
			return fmt.Errorf("timed out subscribing to %s", m.cfg.Topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.Topic, err)
		}
		defer client.Unsubscribe(m.cfg.Topic)
	default:
		return errors.New("mqtt not connected")
	}

	logger.Info("[Ingest] Subscribed to MQTT topic filter %s", m.cfg.Topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			return fmt.Errorf("mqtt connection lost: %w", err)
		case p := <-payloads:
			handle(p)
		}
	}
}

// Publish injects a payload through the embedded broker's inline client
func (m *MQTTSource) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server == nil {
		return errors.New("embedded broker not started")
	}
	return server.Publish(topic, payload, false, m.cfg.QoS)
}

func (m *MQTTSource) Close() error {
	m.mu.Lock()
	client, server := m.client, m.server
	m.client, m.server = nil, nil
	m.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(uint(m.cfg.Timeout.Milliseconds()))
	}
	if server != nil {
		if err := server.Close(); err != nil {
			return fmt.Errorf("failed to close embedded broker: %w", err)
		}
		logger.Info("[Ingest] Embedded MQTT broker stopped")
	}
	return nil
}
