package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Broker states reported by SetBrokerState
var brokerStates = []string{"stopped", "connecting", "consuming", "failed"}

// PrometheusProvider implements the Provider interface using Prometheus.
// Each provider owns its registry so several can coexist in tests.
type PrometheusProvider struct {
	registry *prometheus.Registry

	ingested      prometheus.Counter
	decodeErrors  prometheus.Counter
	dispatched    prometheus.Counter
	unrouted      prometheus.Counter
	fanoutWidth   prometheus.Histogram
	dropped       *prometheus.CounterVec
	subscribers   prometheus.Gauge
	sessions      prometheus.Gauge
	brokerState   *prometheus.GaugeVec
	brokerRetries prometheus.Counter
	sessionSends  *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	panics        *prometheus.CounterVec

	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	requestsInFlight prometheus.Gauge
}

// NewPrometheusProvider creates a new Prometheus metrics provider. A nil config uses defaults.
func NewPrometheusProvider(cfg *Config) *PrometheusProvider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	ns := cfg.Namespace

	return &PrometheusProvider{
		registry: reg,
		ingested: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_ingested_total",
			Help:      "Messages decoded from the upstream broker",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "decode_errors_total",
			Help:      "Broker payloads dropped because they could not be decoded",
		}),
		dispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_dispatched_total",
			Help:      "Messages processed by the dispatcher",
		}),
		unrouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_unrouted_total",
			Help:      "Messages that reached no subscriber queue",
		}),
		fanoutWidth: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "dispatch_fanout_subscribers",
			Help:      "Subscriber queues reached per dispatched message",
			Buckets:   cfg.FanoutBuckets,
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_dropped_total",
			Help:      "Messages discarded before reaching a subscriber",
		}, []string{"reason"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "subscribers",
			Help:      "Registered subscribers",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "sessions",
			Help:      "Connected push sessions",
		}),
		brokerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "broker_state",
			Help:      "Current broker consumer state (1 for the active state)",
		}, []string{"state"}),
		brokerRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "broker_retries_total",
			Help:      "Failed broker connection attempts",
		}),
		sessionSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "session_sends_total",
			Help:      "Pushes to connected clients",
		}, []string{"result"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"provider"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"provider"}),
		panics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "panics_recovered_total",
			Help:      "Recovered panics by location",
		}, []string{"location"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   cfg.HTTPRequestBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		}),
	}
}

// Registry exposes the underlying registry
func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusProvider) RecordIngested() {
	p.ingested.Inc()
}

func (p *PrometheusProvider) RecordDecodeError() {
	p.decodeErrors.Inc()
}

func (p *PrometheusProvider) RecordDispatched(delivered int) {
	p.dispatched.Inc()
	if delivered == 0 {
		p.unrouted.Inc()
	}
	p.fanoutWidth.Observe(float64(delivered))
}

func (p *PrometheusProvider) RecordDropped(reason string) {
	p.dropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusProvider) SetSubscribers(n int) {
	p.subscribers.Set(float64(n))
}

func (p *PrometheusProvider) SetSessions(n int) {
	p.sessions.Set(float64(n))
}

func (p *PrometheusProvider) SetBrokerState(state string) {
	for _, s := range brokerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.brokerState.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusProvider) RecordBrokerRetry() {
	p.brokerRetries.Inc()
}

func (p *PrometheusProvider) RecordSessionSend(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	p.sessionSends.WithLabelValues(result).Inc()
}

func (p *PrometheusProvider) RecordCacheHit(provider string) {
	p.cacheHits.WithLabelValues(provider).Inc()
}

func (p *PrometheusProvider) RecordCacheMiss(provider string) {
	p.cacheMisses.WithLabelValues(provider).Inc()
}

func (p *PrometheusProvider) RecordPanic(location string) {
	p.panics.WithLabelValues(location).Inc()
}

func (p *PrometheusProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	p.requestTotal.WithLabelValues(method, path, status).Inc()
}

// Handler implements Provider interface
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// ResponseWriter wraps http.ResponseWriter to capture status code
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware returns an HTTP middleware that collects request metrics.
// pathLabel maps a request to a low cardinality label; nil uses the URL path.
func (p *PrometheusProvider) Middleware(pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			p.requestsInFlight.Inc()
			defer p.requestsInFlight.Dec()

			rw := NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			p.RecordHTTPRequest(r.Method, path, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
