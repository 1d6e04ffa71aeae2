// Package speaker tracks the connection to each regional controller and
// keeps the engine's view of the region synchronized with it.
//
// Delivery from a regional controller is at-most-once, so any silence longer
// than the outage timeout may have swallowed state changes. After such a gap
// the Monitor marks the region's switches unmanaged and rebuilds the view from
// a full network dump before live events are applied again.
package speaker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dantte-lp/gotopo/internal/message"
)

// Carrier receives the output of a Monitor.
type Carrier interface {
	// RequestDump asks the region for a full network dump tagged with
	// correlationID.
	RequestDump(region, correlationID string)
	// ShareSync publishes a completed dump for reconciliation.
	ShareSync(region string, switches []message.SwitchView)
	// Forward passes a live event on to the controllers.
	Forward(msg message.Inbound)
	// Unmanaged marks every switch of region as unmanaged.
	Unmanaged(region string)
}

// MetricsReporter receives sync transitions. It is satisfied by
// *metrics.Collector.
type MetricsReporter interface {
	RecordSyncTransition(region, from, to string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSyncTransition(string, string, string) {}

// Timeouts are the time limits of a Monitor.
type Timeouts struct {
	// Outage is the silence after which the connection is considered lost.
	Outage time.Duration
	// Dump is how long a requested dump may take before it is re-requested.
	Dump time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the Monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the sync transition reporter.
func WithMetrics(r MetricsReporter) Option {
	return func(m *Monitor) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Monitor) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// Monitor runs the sync FSM of one region. It is owned by a single worker
// and does not lock.
type Monitor struct {
	region   string
	timeouts Timeouts

	state         State
	correlationID string
	dumpStarted   time.Time
	lastMessage   time.Time
	buffer        []message.SwitchView

	newID   func() string
	metrics MetricsReporter
	logger  *slog.Logger
}

// NewMonitor creates a Monitor for region in NEED_SYNC.
func NewMonitor(region string, timeouts Timeouts, opts ...Option) *Monitor {
	m := &Monitor{
		region:   region,
		timeouts: timeouts,
		state:    StateNeedSync,
		newID:    uuid.NewString,
		metrics:  noopMetrics{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(
		slog.String("component", "speaker.monitor"),
		slog.String("region", region),
	)
	return m
}

// Region returns the monitored region.
func (m *Monitor) Region() string { return m.region }

// State returns the current sync state.
func (m *Monitor) State() State { return m.state }

// Handle processes one inbound message from the region. Every message resets
// the outage watchdog.
func (m *Monitor) Handle(out Carrier, msg message.Inbound, now time.Time) {
	m.lastMessage = now
	m.apply(out, m.classify(msg), msg, now)
}

// Tick advances the Monitor's timers.
func (m *Monitor) Tick(out Carrier, now time.Time) {
	var ev Event
	switch m.state {
	case StateNeedSync:
		ev = EventTick
	case StateWaitSync:
		if now.Sub(m.dumpStarted) <= m.timeouts.Dump {
			return
		}
		m.logger.Warn("network dump stale, requesting again",
			slog.String("correlation_id", m.correlationID),
			slog.Int("buffered", len(m.buffer)),
		)
		ev = EventDumpStale
	case StateMain:
		if now.Sub(m.lastMessage) <= m.timeouts.Outage {
			return
		}
		m.logger.Warn("regional controller silent",
			slog.Duration("silence", now.Sub(m.lastMessage)),
		)
		ev = EventOutage
	default:
		return
	}
	m.apply(out, ev, message.Inbound{Region: m.region}, now)
}

// Resync forces a new network dump regardless of the current state.
func (m *Monitor) Resync(out Carrier, now time.Time) {
	m.apply(out, EventResync, message.Inbound{Region: m.region}, now)
}

// Status is a read-only copy of a Monitor's state.
type Status struct {
	Region        string
	State         State
	CorrelationID string
	LastMessage   time.Time
}

// Status returns a copy of the Monitor's state.
func (m *Monitor) Status() Status {
	return Status{
		Region:        m.region,
		State:         m.state,
		CorrelationID: m.correlationID,
		LastMessage:   m.lastMessage,
	}
}

func (m *Monitor) classify(msg message.Inbound) Event {
	switch e := msg.Event.(type) {
	case message.Heartbeat, message.AliveResponse:
		return EventHeartbeat
	case message.NetworkDumpChunk:
		if m.correlationID == "" || msg.CorrelationID != m.correlationID {
			return EventStaleChunk
		}
		if e.Last {
			return EventDumpComplete
		}
		return EventDumpChunk
	default:
		return EventMessage
	}
}

func (m *Monitor) apply(out Carrier, ev Event, msg message.Inbound, now time.Time) {
	res := ApplyEvent(m.state, ev)

	for _, action := range res.Actions {
		switch action {
		case ActionRequestDump:
			m.correlationID = m.newID()
			m.dumpStarted = now
			m.buffer = nil
			out.RequestDump(m.region, m.correlationID)
		case ActionBufferChunk:
			if chunk, ok := msg.Event.(message.NetworkDumpChunk); ok && chunk.Switch != nil {
				m.buffer = append(m.buffer, *chunk.Switch)
			}
		case ActionShareSync:
			switches := m.buffer
			m.buffer = nil
			m.logger.Info("network dump complete", slog.Int("switches", len(switches)))
			out.ShareSync(m.region, switches)
		case ActionForward:
			out.Forward(msg)
		case ActionDrop:
			m.logger.Debug("event dropped",
				slog.String("state", m.state.String()),
				slog.String("event", ev.String()),
			)
		case ActionUnmanaged:
			out.Unmanaged(m.region)
		}
	}

	if !res.Changed {
		return
	}
	m.state = res.NewState
	m.metrics.RecordSyncTransition(m.region, res.OldState.String(), res.NewState.String())
	m.logger.Info("sync state changed",
		slog.String("old_state", res.OldState.String()),
		slog.String("new_state", res.NewState.String()),
		slog.String("event", ev.String()),
	)
}
