package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecorders(t *testing.T) {
	_, m := NewRegistry()

	m.RecordRequest("GET", "/api/snippets", 200, 15*time.Millisecond)
	m.RecordSubscribe()
	m.RecordSubscribe()
	m.RecordUnsubscribe()
	m.RecordEvent("added")
	m.RecordRelay("out")
	m.RecordMutation("create", nil)
	m.RecordMutation("create", errors.New("boom"))

	body := scrape(t, m)
	for _, line := range []string{
		`snippetvault_http_requests_total{method="GET",route="/api/snippets",status="200"} 1`,
		`snippetvault_feed_subscribers 1`,
		`snippetvault_feed_events_published_total{kind="added"} 1`,
		`snippetvault_relay_messages_total{direction="out"} 1`,
		`snippetvault_snippet_mutations_total{op="create",result="ok"} 1`,
		`snippetvault_snippet_mutations_total{op="create",result="error"} 1`,
		`go_goroutines`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("GET", "/", 200, time.Second)
		m.RecordSubscribe()
		m.RecordEvent("removed")
		m.RecordMutation("delete", nil)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
