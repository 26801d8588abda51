// Package metrics exposes Prometheus counters for the bot and the linking flow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by services and the dispatcher.
type Recorder interface {
	RecordUpdate(kind string)
	RecordLinkOutcome(outcome string)
	RecordSessionEvictions(n int)
	RecordUpstreamRequest(statusCode int, duration time.Duration)
	RecordDroppedEvent(reason string)
}

// Collector implements Recorder with Prometheus metrics.
type Collector struct {
	updates          *prometheus.CounterVec
	linkOutcomes     *prometheus.CounterVec
	sessionEvictions prometheus.Counter
	upstreamStatus   *prometheus.CounterVec
	upstreamLatency  prometheus.Histogram
	droppedEvents    *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapp_bot_updates_total",
			Help: "Telegram updates dispatched, by kind.",
		}, []string{"kind"}),
		linkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapp_bot_link_outcomes_total",
			Help: "Account linking dialog outcomes.",
		}, []string{"outcome"}),
		sessionEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventapp_bot_session_evictions_total",
			Help: "Conversation sessions evicted by idle timeout or capacity.",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapp_bot_upstream_requests_total",
			Help: "EventApp API responses, by status code (0 for transport errors).",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventapp_bot_upstream_latency_seconds",
			Help:    "EventApp API request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventapp_bot_dropped_events_total",
			Help: "Events dropped after an unexpected failure.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.updates,
		c.linkOutcomes,
		c.sessionEvictions,
		c.upstreamStatus,
		c.upstreamLatency,
		c.droppedEvents,
	)
	return c
}

func (c *Collector) RecordUpdate(kind string) {
	c.updates.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordLinkOutcome(outcome string) {
	c.linkOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSessionEvictions(n int) {
	c.sessionEvictions.Add(float64(n))
}

func (c *Collector) RecordUpstreamRequest(statusCode int, duration time.Duration) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.upstreamLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordDroppedEvent(reason string) {
	c.droppedEvents.WithLabelValues(reason).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordUpdate(string)                      {}
func (Nop) RecordLinkOutcome(string)                 {}
func (Nop) RecordSessionEvictions(int)               {}
func (Nop) RecordUpstreamRequest(int, time.Duration) {}
func (Nop) RecordDroppedEvent(string)                {}
