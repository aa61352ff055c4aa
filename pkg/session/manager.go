package session

import (
	"errors"
	"sync"
	"time"

	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/metrics"
)

type entry struct {
	transport   Transport
	connectedAt time.Time
}

// Info describes an active session
type Info struct {
	Key         string    `json:"key"`
	TransportID string    `json:"transport_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Manager tracks at most one active transport per session key
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager creates an empty session manager
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*entry)}
}

// Connect installs t as the active transport for key. A transport already
// registered under key is closed first.
func (m *Manager) Connect(key string, t Transport) {
	m.mu.Lock()
	prev := m.sessions[key]
	m.sessions[key] = &entry{transport: t, connectedAt: time.Now()}
	count := len(m.sessions)
	m.mu.Unlock()

	if prev != nil && prev.transport != t {
		logger.Info("[Session] Evicting previous connection %s for %s", prev.transport.ID(), key)
		closeQuietly(prev.transport, CloseNormal, "Session replaced")
	}

	metrics.GetProvider().SetSessions(count)
	logger.Info("[Session] %s connected via %s (total: %d)", key, t.ID(), count)
}

// Disconnect closes and removes the session for key. It reports whether a
// session was removed.
func (m *Manager) Disconnect(key string) bool {
	m.mu.Lock()
	e, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	closeQuietly(e.transport, CloseNormal, "Session ended")

	metrics.GetProvider().SetSessions(count)
	logger.Info("[Session] %s disconnected (total: %d)", key, count)
	return true
}

// DisconnectTransport is Disconnect restricted to t: when key has since been
// taken over by a newer connection only t is closed and the new session stays.
func (m *Manager) DisconnectTransport(key string, t Transport) bool {
	m.mu.Lock()
	e, ok := m.sessions[key]
	owned := ok && e.transport == t
	if owned {
		delete(m.sessions, key)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	closeQuietly(t, CloseNormal, "Session ended")
	if !owned {
		return false
	}

	metrics.GetProvider().SetSessions(count)
	logger.Info("[Session] %s disconnected (total: %d)", key, count)
	return true
}

// Send pushes v to the session for key. It returns false when the key is
// unknown, when its transport is no longer connected, and when the write
// fails. A transport found closing is disconnected.
func (m *Manager) Send(key string, v interface{}) bool {
	t, ok := m.transport(key)
	if !ok {
		logger.Debug("[Session] Send to unknown session %s", key)
		metrics.GetProvider().RecordSessionSend(false)
		return false
	}

	if t.State() != StateConnected {
		logger.Info("[Session] %s transport is %s, disconnecting", key, t.State())
		m.DisconnectTransport(key, t)
		metrics.GetProvider().RecordSessionSend(false)
		return false
	}

	if err := t.SendJSON(v); err != nil {
		metrics.GetProvider().RecordSessionSend(false)
		if errors.Is(err, ErrTransportClosed) {
			logger.Info("[Session] %s closed during send, disconnecting", key)
			m.DisconnectTransport(key, t)
			return false
		}
		logger.Warn("[Session] Send to %s failed: %v", key, err)
		return false
	}

	metrics.GetProvider().RecordSessionSend(true)
	return true
}

// IsConnected reports whether key has a transport in StateConnected
func (m *Manager) IsConnected(key string) bool {
	t, ok := m.transport(key)
	return ok && t.State() == StateConnected
}

// ConnectionCount returns the number of registered sessions
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Transport returns the active transport for key
func (m *Manager) Transport(key string) (Transport, error) {
	t, ok := m.transport(key)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return t, nil
}

// Sessions lists the active sessions
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for key, e := range m.sessions {
		out = append(out, Info{Key: key, TransportID: e.transport.ID(), ConnectedAt: e.connectedAt})
	}
	return out
}

// CloseAll closes every session with code, used on shutdown
func (m *Manager) CloseAll(code int, reason string) int {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range all {
		closeQuietly(e.transport, code, reason)
	}
	metrics.GetProvider().SetSessions(0)
	if len(all) > 0 {
		logger.Info("[Session] Closed %d sessions: %s", len(all), reason)
	}
	return len(all)
}

func (m *Manager) transport(key string) (Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[key]
	if !ok {
		return nil, false
	}
	return e.transport, true
}

func closeQuietly(t Transport, code int, reason string) {
	if err := t.Close(code, reason); err != nil && !errors.Is(err, ErrTransportClosed) {
		logger.Debug("[Session] Closing %s: %v", t.ID(), err)
	}
}
