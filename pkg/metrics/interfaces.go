package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Provider defines the interface for metric collection
type Provider interface {
	// RecordIngested counts a message decoded from the upstream broker
	RecordIngested()

	// RecordDecodeError counts a payload dropped because it could not be decoded
	RecordDecodeError()

	// RecordDispatched records one dispatched message and how many subscriber queues received it
	RecordDispatched(delivered int)

	// RecordDropped counts a message discarded by backpressure or shutdown
	RecordDropped(reason string)

	// SetSubscribers updates the active subscriber gauge
	SetSubscribers(n int)

	// SetSessions updates the live session gauge
	SetSessions(n int)

	// SetBrokerState records the consumer state machine position
	SetBrokerState(state string)

	// RecordBrokerRetry counts a failed broker connection attempt
	RecordBrokerRetry()

	// RecordSessionSend counts a push to a client
	RecordSessionSend(ok bool)

	// RecordCacheHit records a cache hit
	RecordCacheHit(provider string)

	// RecordCacheMiss records a cache miss
	RecordCacheMiss(provider string)

	// RecordPanic counts a recovered panic
	RecordPanic(location string)

	// RecordHTTPRequest records metrics for an HTTP request
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// Handler returns an HTTP handler for exposing metrics (e.g., /metrics endpoint)
	Handler() http.Handler
}

var (
	providerMu     sync.RWMutex
	globalProvider Provider
)

// SetProvider sets the global metrics provider
func SetProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	globalProvider = p
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if globalProvider == nil {
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordIngested()                  {}
func (n *NoOpProvider) RecordDecodeError()               {}
func (n *NoOpProvider) RecordDispatched(delivered int)   {}
func (n *NoOpProvider) RecordDropped(reason string)      {}
func (n *NoOpProvider) SetSubscribers(count int)         {}
func (n *NoOpProvider) SetSessions(count int)            {}
func (n *NoOpProvider) SetBrokerState(state string)      {}
func (n *NoOpProvider) RecordBrokerRetry()               {}
func (n *NoOpProvider) RecordSessionSend(ok bool)        {}
func (n *NoOpProvider) RecordCacheHit(provider string)   {}
func (n *NoOpProvider) RecordCacheMiss(provider string)  {}
func (n *NoOpProvider) RecordPanic(location string)      {}
func (n *NoOpProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
}
func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Metrics provider not configured"))
	})
}
