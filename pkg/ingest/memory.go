package ingest

import (
	"context"
	"errors"
	"sync"
)

// MemorySource is an in-process source. Payloads handed to Publish are
// consumed in order. FailConnects and Disconnect let callers simulate an
// unreliable broker.
type MemorySource struct {
	payloads chan []byte

	mu           sync.Mutex
	failConnects int
	connectErr   error
	connects     int
	lost         chan error
	closed       bool
}

// NewMemorySource creates a source buffering up to size payloads
func NewMemorySource(size int) *MemorySource {
	if size <= 0 {
		size = 1000
	}
	return &MemorySource{
		payloads: make(chan []byte, size),
		lost:     make(chan error, 1),
	}
}

func (m *MemorySource) Name() string { return "memory" }

// FailConnects makes the next n calls to Connect return err
func (m *MemorySource) FailConnects(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = errors.New("connection refused")
	}
	m.failConnects = n
	m.connectErr = err
}

// Connects returns how many times Connect has been called
func (m *MemorySource) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *MemorySource) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.closed {
		return ErrSourceClosed
	}
	if m.failConnects > 0 {
		m.failConnects--
		return m.connectErr
	}
	return nil
}

// Publish queues a raw payload
func (m *MemorySource) Publish(ctx context.Context, payload []byte) error {
	select {
	case m.payloads <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect breaks the current Consume call with err
func (m *MemorySource) Disconnect(err error) {
	if err == nil {
		err = errors.New("connection reset")
	}
	select {
	case m.lost <- err:
	default:
	}
}

func (m *MemorySource) Consume(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-m.lost:
			return err
		case p := <-m.payloads:
			handle(p)
		}
	}
}

func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
