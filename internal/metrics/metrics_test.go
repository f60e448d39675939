package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err, "read metrics")
	return string(body)
}

func TestObserveUpdate(t *testing.T) {
	m := New()
	m.ObserveUpdate("accepted", time.Now())
	m.ObserveUpdate("rejected", time.Now())
	m.ObserveUpdate("rejected", time.Now())

	out := scrape(t, m)
	require.Contains(t, out, `trendoracle_updates_total{outcome="rejected"} 2`)
	require.Contains(t, out, "trendoracle_update_duration_seconds_count 3")
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.LastUpdate.Set(1700000000)

	out := scrape(t, m)
	require.Contains(t, out, "trendoracle_last_update_timestamp_seconds 1.7e+09")
	require.Contains(t, out, "go_goroutines", "runtime collectors should be registered")
}
