// Package metrics holds the Prometheus collectors of the server.
//
// Collectors are registered on the Registerer passed to New rather than the
// global default, so tests can build as many servers as they like. Every
// Record method is safe on a nil *Metrics, which is how components run
// without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snippetvault"

// Metrics holds every collector the server exports.
//
// NIL-SAFE RECORDERS:
// All Record* methods accept a nil *Metrics and do nothing, so packages take
// metrics as an optional dependency and tests simply leave it out.
type Metrics struct {
	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Change feed
	FeedSubscribers prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	RelayMessages   *prometheus.CounterVec

	// Snippet mutations handled by the service layer
	Mutations *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. gather is what Handler serves; pass
// the same registry for both.
func New(reg prometheus.Registerer, gather prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		FeedSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Live change feed subscriptions on this instance",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_published_total",
			Help:      "Change events fanned out to local subscribers, by kind",
		}, []string{"kind"}),

		RelayMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Change events exchanged with other instances over Redis",
		}, []string{"direction"}), // "out" or "in"

		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snippet_mutations_total",
			Help:      "Snippet creates, updates and deletes by result",
		}, []string{"op", "result"}),

		gatherer: gather,
	}
}

// NewRegistry returns a registry with the Go and process collectors, plus the
// Metrics registered on it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg, reg)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest counts one HTTP request under its route pattern.
func (m *Metrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordSubscribe counts a new feed subscriber.
func (m *Metrics) RecordSubscribe() {
	if m == nil {
		return
	}
	m.FeedSubscribers.Inc()
}

// RecordUnsubscribe counts a feed subscriber going away.
func (m *Metrics) RecordUnsubscribe() {
	if m == nil {
		return
	}
	m.FeedSubscribers.Dec()
}

// RecordEvent counts one published change event by kind.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
}

// RecordRelay counts one Redis relay message, "out" or "in".
func (m *Metrics) RecordRelay(direction string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(direction).Inc()
}

// RecordMutation counts one mutation; err decides the result label.
func (m *Metrics) RecordMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Mutations.WithLabelValues(op, result).Inc()
}
