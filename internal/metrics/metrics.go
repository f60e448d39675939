// Package metrics holds the Prometheus collectors of the oracle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all oracle collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	UpdatesTotal    *prometheus.CounterVec // labels: outcome=accepted|rejected|error
	RejectionsTotal *prometheus.CounterVec // labels: reason
	UpdateDuration  prometheus.Histogram
	CurrentValue    prometheus.Gauge
	LastUpdate      prometheus.Gauge
	ReferencePrice  prometheus.Gauge
	SampleAge       prometheus.Gauge
	DatapointsTotal prometheus.Counter
	RelayTicksTotal *prometheus.CounterVec // labels: result
	HTTPRequests    *prometheus.CounterVec // labels: route, code
	HTTPRateLimited prometheus.Counter
}

// New registers and returns all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendoracle_updates_total",
			Help: "Trend update attempts by outcome",
		}, []string{"outcome"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendoracle_rejections_total",
			Help: "Rejected trend updates by reason",
		}, []string{"reason"}),
		UpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendoracle_update_duration_seconds",
			Help:    "Latency of a trend update including the price fetch",
			Buckets: prometheus.DefBuckets,
		}),
		CurrentValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendoracle_current_value",
			Help: "Accepted trend value in fixed-point units",
		}),
		LastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendoracle_last_update_timestamp_seconds",
			Help: "Time of the last accepted update",
		}),
		ReferencePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendoracle_reference_price",
			Help: "Last reference price read from the price feed",
		}),
		SampleAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendoracle_sample_age_seconds",
			Help: "Age of the last price sample when it was read",
		}),
		DatapointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendoracle_datapoints_appended_total",
			Help: "Datapoints appended to the ledger",
		}),
		RelayTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendoracle_relay_ticks_total",
			Help: "Relay job ticks by result",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendoracle_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendoracle_http_rate_limited_total",
			Help: "HTTP requests refused by the rate limiter",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UpdatesTotal,
		m.RejectionsTotal,
		m.UpdateDuration,
		m.CurrentValue,
		m.LastUpdate,
		m.ReferencePrice,
		m.SampleAge,
		m.DatapointsTotal,
		m.RelayTicksTotal,
		m.HTTPRequests,
		m.HTTPRateLimited,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpdate records the outcome and latency of one update attempt.
func (m *Metrics) ObserveUpdate(outcome string, started time.Time) {
	m.UpdatesTotal.WithLabelValues(outcome).Inc()
	m.UpdateDuration.Observe(time.Since(started).Seconds())
}
