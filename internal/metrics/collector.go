package topometrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gotopo"
	subsystem = "engine"
)

// Label names for engine metrics.
const (
	labelController = "controller"
	labelRegion     = "region"
	labelFromState  = "from_state"
	labelToState    = "to_state"
	labelKind       = "kind"
)

// -------------------------------------------------------------------------
// Collector - Prometheus Engine Metrics
// -------------------------------------------------------------------------

// Collector holds all topology engine Prometheus metrics. It satisfies
// engine.MetricsReporter.
type Collector struct {
	// Transitions counts controller state changes, labeled with the
	// controller type and the old and new state.
	Transitions *prometheus.CounterVec

	// SyncTransitions counts sync state machine changes per region.
	SyncTransitions *prometheus.CounterVec

	// RegionsAlive is 1 for a region answering alive requests, 0 otherwise.
	RegionsAlive *prometheus.GaugeVec

	// RequestsExpired counts tracked requests that went idle too long.
	RequestsExpired prometheus.Counter

	// RepliesRejected counts replies to unknown, expired or blacklisted
	// requests.
	RepliesRejected prometheus.Counter

	// ProbesSent counts discovery probes handed to the router.
	ProbesSent prometheus.Counter

	// ProbeFailures counts probes that went unconfirmed.
	ProbeFailures prometheus.Counter

	// OrphanEvents counts events dropped because their target is unknown.
	OrphanEvents *prometheus.CounterVec

	// PersistDropped counts repository writes dropped on a full queue.
	PersistDropped prometheus.Counter

	// TaskPanics counts recovered panics in dispatched tasks.
	TaskPanics prometheus.Counter
}

// NewCollector creates a Collector with all engine metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Transitions,
		c.SyncTransitions,
		c.RegionsAlive,
		c.RequestsExpired,
		c.RepliesRejected,
		c.ProbesSent,
		c.ProbeFailures,
		c.OrphanEvents,
		c.PersistDropped,
		c.TaskPanics,
	)

	return c
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "controller_transitions_total",
			Help:      "Total controller FSM state transitions.",
		}, []string{labelController, labelFromState, labelToState}),

		SyncTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_transitions_total",
			Help:      "Total regional sync state machine transitions.",
		}, []string{labelRegion, labelFromState, labelToState}),

		RegionsAlive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "regions_alive",
			Help:      "Whether a regional controller answers alive requests (1) or not (0).",
		}, []string{labelRegion}),

		RequestsExpired: counter("requests_expired_total", "Total correlated requests expired without a final reply."),
		RepliesRejected: counter("replies_rejected_total", "Total replies dropped for unknown, expired or blacklisted requests."),
		ProbesSent:      counter("probes_sent_total", "Total discovery probes sent."),
		ProbeFailures:   counter("probe_failures_total", "Total discovery probes that timed out."),

		OrphanEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orphan_events_total",
			Help:      "Total events dropped because their target does not exist.",
		}, []string{labelKind}),

		PersistDropped: counter("persist_dropped_total", "Total repository writes dropped on a full queue."),
		TaskPanics:     counter("task_panics_total", "Total panics recovered in dispatched tasks."),
	}
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordTransition counts a controller state change.
func (c *Collector) RecordTransition(controller, from, to string) {
	c.Transitions.WithLabelValues(controller, from, to).Inc()
}

// RecordSyncTransition counts a sync state change of region.
func (c *Collector) RecordSyncTransition(region, from, to string) {
	c.SyncTransitions.WithLabelValues(region, from, to).Inc()
}

// -------------------------------------------------------------------------
// Regions and Requests
// -------------------------------------------------------------------------

// SetRegionAlive records the liveness of region.
func (c *Collector) SetRegionAlive(region string, alive bool) {
	v := 0.0
	if alive {
		v = 1
	}
	c.RegionsAlive.WithLabelValues(region).Set(v)
}

// RecordRequestsExpired adds n expired requests.
func (c *Collector) RecordRequestsExpired(n int) {
	c.RequestsExpired.Add(float64(n))
}

// RecordReplyRejected counts one rejected reply.
func (c *Collector) RecordReplyRejected() {
	c.RepliesRejected.Inc()
}

// -------------------------------------------------------------------------
// Probes, Orphans and Workers
// -------------------------------------------------------------------------

// RecordProbeSent counts one discovery probe.
func (c *Collector) RecordProbeSent() {
	c.ProbesSent.Inc()
}

// RecordProbeFailure counts one unconfirmed probe.
func (c *Collector) RecordProbeFailure() {
	c.ProbeFailures.Inc()
}

// RecordOrphan counts one dropped orphan event of the given kind
// ("switch", "isl", "bfd_port", "region", ...).
func (c *Collector) RecordOrphan(kind string) {
	c.OrphanEvents.WithLabelValues(kind).Inc()
}

// RecordPersistDropped counts one dropped repository write.
func (c *Collector) RecordPersistDropped() {
	c.PersistDropped.Inc()
}

// RecordTaskPanic counts one recovered task panic.
func (c *Collector) RecordTaskPanic() {
	c.TaskPanics.Inc()
}
