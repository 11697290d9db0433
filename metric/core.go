package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all streaming-host-level metrics: subscription
// lifecycle transitions, action queue depth, transport calls, and
// connection/orphan bookkeeping.
type Metrics struct {
	// Subscription metrics
	SubscriptionState   *prometheus.GaugeVec
	SubscriptionsActive prometheus.Gauge
	ActionsEnqueued     *prometheus.CounterVec
	ActionsCoalesced    *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	StaleResponses      *prometheus.CounterVec

	// Streaming data metrics
	UpdatesReceived    *prometheus.CounterVec
	UpdatesBuffered     *prometheus.GaugeVec
	SnapshotsApplied    *prometheus.CounterVec
	OrphanedUpdates     prometheus.Counter

	// Transport metrics
	TransportRequests *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
	TransportErrors   *prometheus.CounterVec

	// Connection metrics
	ConnectionAvailable prometheus.Gauge
	Reconnects          prometheus.Counter
	InactivityResets    prometheus.Counter

	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all streaming host metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SubscriptionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamkit",
				Subsystem: "subscription",
				Name:      "state",
				Help:      "Current subscription state, one gauge per reference id (0=unsubscribed .. 5=ready_for_unsubscribe_by_tag)",
			},
			[]string{"reference_id", "service_group"},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamkit",
				Subsystem: "subscription",
				Name:      "active",
				Help:      "Number of subscriptions not in the unsubscribed state",
			},
		),

		ActionsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "queue",
				Name:      "actions_enqueued_total",
				Help:      "Total number of actions pushed onto a subscription's action queue",
			},
			[]string{"action"},
		),

		ActionsCoalesced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "queue",
				Name:      "actions_coalesced_total",
				Help:      "Total number of actions dropped because a newer action coalesced them",
			},
			[]string{"action"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamkit",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current depth of a subscription's action queue",
			},
			[]string{"reference_id"},
		),

		StaleResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "subscription",
				Name:      "stale_responses_total",
				Help:      "Total number of transport responses discarded because their reference id no longer matched",
			},
			[]string{"action"},
		),

		UpdatesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "streaming",
				Name:      "updates_received_total",
				Help:      "Total number of delta/snapshot frames received from the streaming host",
			},
			[]string{"kind"},
		),

		UpdatesBuffered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamkit",
				Subsystem: "streaming",
				Name:      "updates_buffered",
				Help:      "Number of updates held before a subscription reached the subscribed state",
			},
			[]string{"reference_id"},
		),

		SnapshotsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "streaming",
				Name:      "snapshots_applied_total",
				Help:      "Total number of subscribe-response snapshots applied",
			},
			[]string{"service_group"},
		),

		OrphanedUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "streaming",
				Name:      "orphaned_updates_total",
				Help:      "Total number of frames received for a reference id with no known subscription",
			},
		),

		TransportRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "transport",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests issued by the transport",
			},
			[]string{"method", "status"},
		),

		TransportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streamkit",
				Subsystem: "transport",
				Name:      "duration_seconds",
				Help:      "Transport request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "transport",
				Name:      "errors_total",
				Help:      "Total number of transport errors by classification",
			},
			[]string{"method", "class"},
		),

		ConnectionAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamkit",
				Subsystem: "connection",
				Name:      "available",
				Help:      "Streaming host connection availability (0=unavailable, 1=available)",
			},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Total number of streaming host reconnections",
			},
		),

		InactivityResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "connection",
				Name:      "inactivity_resets_total",
				Help:      "Total number of resets triggered by inactivity timeout",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamkit",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of classified errors",
			},
			[]string{"component", "type"},
		),
	}
}

// RecordSubscriptionState updates a subscription's state gauge.
func (c *Metrics) RecordSubscriptionState(referenceID, serviceGroup string, state int) {
	c.SubscriptionState.WithLabelValues(referenceID, serviceGroup).Set(float64(state))
}

// RecordActionEnqueued increments the enqueued-action counter.
func (c *Metrics) RecordActionEnqueued(action string) {
	c.ActionsEnqueued.WithLabelValues(action).Inc()
}

// RecordActionCoalesced increments the coalesced-action counter.
func (c *Metrics) RecordActionCoalesced(action string) {
	c.ActionsCoalesced.WithLabelValues(action).Inc()
}

// RecordQueueDepth sets the current queue depth for a subscription.
func (c *Metrics) RecordQueueDepth(referenceID string, depth int) {
	c.QueueDepth.WithLabelValues(referenceID).Set(float64(depth))
}

// RecordStaleResponse increments the stale-response counter.
func (c *Metrics) RecordStaleResponse(action string) {
	c.StaleResponses.WithLabelValues(action).Inc()
}

// RecordUpdateReceived increments the received-update counter.
func (c *Metrics) RecordUpdateReceived(kind string) {
	c.UpdatesReceived.WithLabelValues(kind).Inc()
}

// RecordUpdatesBuffered sets the number of updates buffered pre-subscribe.
func (c *Metrics) RecordUpdatesBuffered(referenceID string, count int) {
	c.UpdatesBuffered.WithLabelValues(referenceID).Set(float64(count))
}

// RecordSnapshotApplied increments the applied-snapshot counter.
func (c *Metrics) RecordSnapshotApplied(serviceGroup string) {
	c.SnapshotsApplied.WithLabelValues(serviceGroup).Inc()
}

// RecordOrphanedUpdate increments the orphaned-update counter.
func (c *Metrics) RecordOrphanedUpdate() {
	c.OrphanedUpdates.Inc()
}

// RecordTransportRequest records a completed transport call.
func (c *Metrics) RecordTransportRequest(method, status string, duration time.Duration) {
	c.TransportRequests.WithLabelValues(method, status).Inc()
	c.TransportDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTransportError increments the transport error counter.
func (c *Metrics) RecordTransportError(method, class string) {
	c.TransportErrors.WithLabelValues(method, class).Inc()
}

// RecordConnectionAvailable updates the connection availability gauge.
func (c *Metrics) RecordConnectionAvailable(available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	c.ConnectionAvailable.Set(value)
}

// RecordReconnect increments the reconnection counter.
func (c *Metrics) RecordReconnect() {
	c.Reconnects.Inc()
}

// RecordInactivityReset increments the inactivity-reset counter.
func (c *Metrics) RecordInactivityReset() {
	c.InactivityResets.Inc()
}

// RecordError increments the classified error counter.
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
