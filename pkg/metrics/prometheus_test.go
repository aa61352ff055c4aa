package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProviderDefaultsToNoOp(t *testing.T) {
	SetProvider(nil)
	assert.IsType(t, &NoOpProvider{}, GetProvider())

	p := NewPrometheusProvider(nil)
	SetProvider(p)
	t.Cleanup(func() { SetProvider(nil) })
	assert.Same(t, p, GetProvider())
}

func TestPrometheusProviderCounters(t *testing.T) {
	p := NewPrometheusProvider(&Config{Namespace: "test"})

	p.RecordIngested()
	p.RecordIngested()
	p.RecordDecodeError()
	p.RecordDispatched(3)
	p.RecordDispatched(0)
	p.RecordDropped("queue_full")
	p.RecordBrokerRetry()
	p.RecordSessionSend(true)
	p.RecordSessionSend(false)
	p.RecordPanic("dispatcher")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.ingested))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.decodeErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.dispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.unrouted))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.dropped.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.brokerRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessionSends.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.panics.WithLabelValues("dispatcher")))
}

func TestPrometheusProviderGauges(t *testing.T) {
	p := NewPrometheusProvider(nil)

	p.SetSubscribers(4)
	p.SetSessions(2)
	p.SetBrokerState("consuming")
	p.SetBrokerState("failed")

	assert.Equal(t, 4.0, testutil.ToFloat64(p.subscribers))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.sessions))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.brokerState.WithLabelValues("consuming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.brokerState.WithLabelValues("failed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	p := NewPrometheusProvider(&Config{Namespace: "tagstream"})
	p.RecordIngested()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tagstream_messages_ingested_total 1"))
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	p := NewPrometheusProvider(nil)
	h := p.Middleware(func(*http.Request) string { return "/api/v1/stats" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats?x=1", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requestTotal.WithLabelValues("GET", "/api/v1/stats", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.requestsInFlight))
}

func TestNoOpProvider(t *testing.T) {
	n := &NoOpProvider{}
	n.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
	n.RecordDispatched(1)

	rec := httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
