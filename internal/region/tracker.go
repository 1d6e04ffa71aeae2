// Package region routes commands to the regional controller owning a switch
// and tracks the liveness of every region and the replies to requests sent
// to them.
package region

import (
	"cmp"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dantte-lp/gotopo/internal/model"
)

// Routing errors.
var (
	// ErrNoRegion indicates the switch has no known owning region. The
	// command is dropped; the next sync restores the mapping.
	ErrNoRegion = errors.New("switch has no region")

	// ErrRegionDead indicates the owning region is not answering alive
	// requests. The command is dropped.
	ErrRegionDead = errors.New("region is dead")

	// ErrUnknownRegion indicates a region that is not configured.
	ErrUnknownRegion = errors.New("unknown region")

	// ErrReplyRejected indicates a reply that does not match an open
	// request: unknown, expired, or blacklisted.
	ErrReplyRejected = errors.New("reply rejected")
)

// MetricsReporter receives region liveness and request tracking events. It
// is satisfied by *metrics.Collector.
type MetricsReporter interface {
	SetRegionAlive(region string, alive bool)
	RecordRequestsExpired(n int)
	RecordReplyRejected()
}

type noopMetrics struct{}

func (noopMetrics) SetRegionAlive(string, bool) {}
func (noopMetrics) RecordRequestsExpired(int)   {}
func (noopMetrics) RecordReplyRejected()        {}

// Option configures a Tracker or Router.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics MetricsReporter
	newID   func() string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithIDGenerator overrides correlation id generation for router-issued
// requests.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// -------------------------------------------------------------------------
// Tracker
// -------------------------------------------------------------------------

type regionState struct {
	alive     bool
	lastAlive time.Time
}

// Status is a read-only copy of one region's liveness.
type Status struct {
	Name      string
	Alive     bool
	LastAlive time.Time
	Switches  int
}

// Tracker holds the switch -> region map and the liveness of every region.
// It is read on every routed command and written from any worker, so it
// locks.
type Tracker struct {
	mu           sync.RWMutex
	aliveTimeout time.Duration
	regions      map[string]*regionState
	switches     map[model.SwitchID]string

	metrics MetricsReporter
	logger  *slog.Logger
}

// NewTracker creates a Tracker for the configured regions. Regions start
// dead until their first alive response.
func NewTracker(regions []string, aliveTimeout time.Duration, opts ...Option) *Tracker {
	o := buildOptions(opts)
	t := &Tracker{
		aliveTimeout: aliveTimeout,
		regions:      make(map[string]*regionState, len(regions)),
		switches:     make(map[model.SwitchID]string),
		metrics:      o.metrics,
		logger:       o.logger.With(slog.String("component", "region.tracker")),
	}
	for _, name := range regions {
		t.regions[name] = &regionState{}
		t.metrics.SetRegionAlive(name, false)
	}
	return t
}

// Names returns the configured regions in order.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Sorted(maps.Keys(t.regions))
}

// ActiveRegions returns the alive regions in order.
func (t *Tracker) ActiveRegions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for name, r := range t.regions {
		if r.alive {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// UpdateSwitchRegion records that region owns sw.
func (t *Tracker) UpdateSwitchRegion(sw model.SwitchID, region string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.regions[region]; !ok {
		return ErrUnknownRegion
	}
	if prev, ok := t.switches[sw]; ok && prev != region {
		t.logger.Info("switch changed region",
			slog.String("switch", sw.String()),
			slog.String("old_region", prev),
			slog.String("new_region", region),
		)
	}
	t.switches[sw] = region
	return nil
}

// LookupRegion returns the region owning sw.
func (t *Tracker) LookupRegion(sw model.SwitchID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	region, ok := t.switches[sw]
	return region, ok
}

// SwitchesIn returns the switches owned by region in ascending order.
func (t *Tracker) SwitchesIn(region string) []model.SwitchID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []model.SwitchID
	for sw, r := range t.switches {
		if r == region {
			out = append(out, sw)
		}
	}
	slices.Sort(out)
	return out
}

// IsAlive reports whether region is alive.
func (t *Tracker) IsAlive(region string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.regions[region]
	return ok && r.alive
}

// HandleAliveResponse records an alive response from region. It reports
// whether the region came back from dead, in which case its state must be
// re-synchronized.
func (t *Tracker) HandleAliveResponse(region string, now time.Time) (needSync bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.regions[region]
	if !ok {
		return false, ErrUnknownRegion
	}
	r.lastAlive = now
	if r.alive {
		return false, nil
	}

	r.alive = true
	t.metrics.SetRegionAlive(region, true)
	t.logger.Info("region alive", slog.String("region", region))
	return true, nil
}

// Tick marks dead every alive region whose last alive response is older
// than the alive timeout. It returns the regions that died.
func (t *Tracker) Tick(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var died []string
	for name, r := range t.regions {
		if !r.alive || now.Sub(r.lastAlive) <= t.aliveTimeout {
			continue
		}
		r.alive = false
		died = append(died, name)
		t.metrics.SetRegionAlive(name, false)
		t.logger.Warn("region dead",
			slog.String("region", name),
			slog.Duration("silence", now.Sub(r.lastAlive)),
		)
	}
	slices.Sort(died)
	return died
}

// Regions returns the status of every configured region.
func (t *Tracker) Regions() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int, len(t.regions))
	for _, r := range t.switches {
		counts[r]++
	}

	out := make([]Status, 0, len(t.regions))
	for name, r := range t.regions {
		out = append(out, Status{
			Name:      name,
			Alive:     r.alive,
			LastAlive: r.lastAlive,
			Switches:  counts[name],
		})
	}
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
