// Package engine wires the topology controllers, the liveness protocol, the
// region sync machines and the region router into a running service.
//
// Controller state is partitioned across the workers of a keyed pool. Every
// output a controller emits is turned into a task for the worker owning the
// receiving entity: switches by switch id, ports and their uni-ISL, BFD and
// probe state by endpoint, links by reference, sync machines by region.
// Entities therefore never share state and no controller locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gotopo/internal/dispatch"
	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/region"
	"github.com/dantte-lp/gotopo/internal/speaker"
	"github.com/dantte-lp/gotopo/internal/store"
	"github.com/dantte-lp/gotopo/internal/topology"
)

// Engine errors.
var (
	// ErrInvalidConfig indicates an engine configuration that cannot run.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrNotRunning indicates a request that needs the workers before Run
	// was called or after it returned.
	ErrNotRunning = errors.New("engine not running")

	// ErrAlreadyRunning indicates a second call to Run.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrInvalidMessage indicates an inbound message without an event.
	ErrInvalidMessage = errors.New("invalid inbound message")

	// ErrInvalidCommand indicates a routed command without a payload.
	ErrInvalidCommand = errors.New("invalid command")
)

// -------------------------------------------------------------------------
// Configuration
// -------------------------------------------------------------------------

// Config holds the engine's parameters.
type Config struct {
	// Workers is the number of dispatch workers.
	Workers int
	// TickInterval drives the logical clock from a wall-clock ticker. Zero
	// leaves ticking to the caller.
	TickInterval time.Duration
	// PersistQueue bounds the number of queued repository writes.
	PersistQueue int
	// Regions are the configured regional controllers.
	Regions []string

	// ProbeInterval is the discovery poll period of an up port.
	ProbeInterval time.Duration
	// ProbeTimeout is how long a probe may stay unconfirmed.
	ProbeTimeout time.Duration
	// FailWindow is how long probes must keep failing before a link is
	// declared failed.
	FailWindow time.Duration

	// OutageTimeout is the silence after which a region connection is lost.
	OutageTimeout time.Duration
	// DumpTimeout is how long a network dump may take.
	DumpTimeout time.Duration
	// AliveInterval is the period of alive requests.
	AliveInterval time.Duration
	// AliveTimeout is how long a region may go without an alive response.
	AliveTimeout time.Duration

	// RequestTimeout is the idle time after which a request expires.
	RequestTimeout time.Duration
	// BlacklistTTL is how long an expired request id is remembered.
	BlacklistTTL time.Duration
	// BlacklistSize bounds the expired request ids remembered.
	BlacklistSize int

	// DiscriminatorMin and DiscriminatorMax bound the BFD discriminator
	// pool.
	DiscriminatorMin uint32
	DiscriminatorMax uint32
	// LogicalPortOffset maps physical port N to BFD logical port N+offset.
	LogicalPortOffset uint32
	// Bfd holds the BFD session parameters.
	Bfd topology.BfdSettings
}

func (c Config) validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("workers %d: %w", c.Workers, ErrInvalidConfig)
	case len(c.Regions) == 0:
		return fmt.Errorf("no regions: %w", ErrInvalidConfig)
	case c.PersistQueue < 1:
		return fmt.Errorf("persist queue %d: %w", c.PersistQueue, ErrInvalidConfig)
	case c.ProbeInterval <= 0 || c.ProbeTimeout <= 0:
		return fmt.Errorf("probe interval and timeout must be positive: %w", ErrInvalidConfig)
	case c.DumpTimeout > c.RequestTimeout:
		return fmt.Errorf("dump timeout %s exceeds request timeout %s: %w", c.DumpTimeout, c.RequestTimeout, ErrInvalidConfig)
	}
	return nil
}

// -------------------------------------------------------------------------
// Metrics
// -------------------------------------------------------------------------

// MetricsReporter receives every metric the engine and its components
// produce. It is satisfied by *metrics.Collector.
type MetricsReporter interface {
	topology.MetricsReporter
	speaker.MetricsReporter
	region.MetricsReporter
	dispatch.MetricsReporter

	RecordProbeSent()
	RecordProbeFailure()
	RecordOrphan(kind string)
	RecordPersistDropped()
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(string, string, string)     {}
func (noopMetrics) RecordSyncTransition(string, string, string) {}
func (noopMetrics) SetRegionAlive(string, bool)                 {}
func (noopMetrics) RecordRequestsExpired(int)                   {}
func (noopMetrics) RecordReplyRejected()                        {}
func (noopMetrics) RecordTaskPanic()                            {}
func (noopMetrics) RecordProbeSent()                            {}
func (noopMetrics) RecordProbeFailure()                         {}
func (noopMetrics) RecordOrphan(string)                         {}
func (noopMetrics) RecordPersistDropped()                       {}

// -------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger  *slog.Logger
	metrics MetricsReporter
	newID   func() string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(o *engineOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithIDGenerator overrides correlation id generation. The generator is
// called from several goroutines.
func WithIDGenerator(gen func() string) Option {
	return func(o *engineOptions) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// -------------------------------------------------------------------------
// Engine
// -------------------------------------------------------------------------

// Engine is the running topology service.
type Engine struct {
	cfg    Config
	pool   *dispatch.Pool[*shard]
	router *region.Router
	repo   store.Repository
	alloc  *topology.DiscriminatorAllocator

	writer *persistWriter
	events *islEventHub

	// clock is the last tick time in Unix nanoseconds.
	clock   atomic.Int64
	running atomic.Bool

	// ctx outlives inbound requests; emitted commands are published with it.
	ctx    context.Context
	cancel context.CancelFunc

	metrics MetricsReporter
	logger  *slog.Logger
}

// New creates an Engine. Outbound commands are handed to pub.
func New(cfg Config, repo store.Repository, pub region.Publisher, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := engineOptions{logger: slog.Default(), metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	alloc, err := topology.NewDiscriminatorAllocator(cfg.DiscriminatorMin, cfg.DiscriminatorMax)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	regionOpts := []region.Option{
		region.WithLogger(o.logger),
		region.WithMetrics(o.metrics),
		region.WithIDGenerator(o.newID),
	}
	tracker := region.NewTracker(cfg.Regions, cfg.AliveTimeout, regionOpts...)
	requests, err := region.NewRequestTracker(cfg.RequestTimeout, cfg.BlacklistTTL, cfg.BlacklistSize)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	router := region.NewRouter(tracker, requests, pub,
		region.RouterConfig{AliveInterval: cfg.AliveInterval}, regionOpts...)

	topoOpts := []topology.Option{topology.WithLogger(o.logger), topology.WithMetrics(o.metrics)}
	shards := make([]*shard, cfg.Workers)
	for i := range shards {
		shards[i] = newShard(cfg, alloc, topoOpts)
	}

	pool, err := dispatch.New(shards, dispatch.WithLogger(o.logger), dispatch.WithMetrics(o.metrics))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	// Each sync machine lives on the worker its region key hashes to.
	timeouts := speaker.Timeouts{Outage: cfg.OutageTimeout, Dump: cfg.DumpTimeout}
	for _, name := range tracker.Names() {
		s := shards[pool.Index(regionKey(name))]
		s.monitors[name] = speaker.NewMonitor(name, timeouts,
			speaker.WithLogger(o.logger),
			speaker.WithMetrics(o.metrics),
			speaker.WithIDGenerator(o.newID),
		)
	}

	logger := o.logger.With(slog.String("component", "engine"))
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:     cfg,
		pool:    pool,
		router:  router,
		repo:    repo,
		alloc:   alloc,
		writer:  newPersistWriter(repo, cfg.PersistQueue, o.metrics, logger),
		events:  newIslEventHub(logger),
		ctx:     ctx,
		cancel:  cancel,
		metrics: o.metrics,
		logger:  logger,
	}, nil
}

// Run starts the workers, the persistence writer and, when configured, the
// tick loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)
	defer e.cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pool.Run(gctx) })
	g.Go(func() error { return e.writer.run(gctx) })
	if e.cfg.TickInterval > 0 {
		g.Go(func() error {
			e.tickLoop(gctx)
			return nil
		})
	}

	e.logger.Info("engine started",
		slog.Int("workers", e.pool.Size()),
		slog.Int("regions", len(e.cfg.Regions)),
	)

	err := g.Wait()
	e.events.close()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			e.Tick(t)
		}
	}
}

// Now returns the logical clock: the time of the last tick.
func (e *Engine) Now() time.Time {
	n := e.clock.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Tick advances the logical clock to now and runs every timer: request
// expiry, region liveness and alive requests, probe polls and deadlines,
// BFD request timeouts and the sync machines. A tick older than the clock
// is ignored.
func (e *Engine) Tick(now time.Time) {
	for {
		prev := e.clock.Load()
		if prev >= now.UnixNano() {
			return
		}
		if e.clock.CompareAndSwap(prev, now.UnixNano()) {
			break
		}
	}

	e.router.Tick(e.ctx, now)

	em := e.emitter(now)
	e.pool.Broadcast(func(s *shard) { s.tick(em, now) })
}

// Handle accepts one inbound message. Replies are validated against their
// request, alive responses update region liveness, and everything else goes
// through the region's sync machine. A switch activation must carry the
// switch's port view. Handle does not block on processing.
func (e *Engine) Handle(msg message.Inbound) error {
	if msg.Event == nil {
		return fmt.Errorf("message from %s: %w", msg.Region, ErrInvalidMessage)
	}
	if !slices.Contains(e.cfg.Regions, msg.Region) {
		e.metrics.RecordOrphan("region")
		return fmt.Errorf("%s message from %s: %w", msg.Event.Kind(), msg.Region, region.ErrUnknownRegion)
	}
	now := e.Now()

	if err := e.checkReply(msg, now); err != nil {
		e.logger.Debug("reply dropped",
			slog.String("region", msg.Region),
			slog.String("correlation_id", msg.CorrelationID),
			slog.String("error", err.Error()),
		)
		return err
	}

	em := e.emitter(now)
	tracker := e.router.Tracker()

	switch ev := msg.Event.(type) {
	case message.AliveResponse:
		needSync, err := tracker.HandleAliveResponse(msg.Region, now)
		if err != nil {
			return fmt.Errorf("alive response from %s: %w", msg.Region, err)
		}
		if needSync {
			e.pool.Submit(regionKey(msg.Region), func(s *shard) {
				s.monitors[msg.Region].Resync(em, now)
			})
		}
	case message.SwitchEvent:
		if ev.State == message.SwitchActivated {
			if ev.View == nil {
				return fmt.Errorf("activation of %s from %s without view: %w", ev.Switch, msg.Region, ErrInvalidMessage)
			}
			if err := tracker.UpdateSwitchRegion(ev.Switch, msg.Region); err != nil {
				return fmt.Errorf("switch %s from %s: %w", ev.Switch, msg.Region, err)
			}
		}
	}

	e.pool.Submit(regionKey(msg.Region), func(s *shard) {
		s.monitors[msg.Region].Handle(em, msg, now)
	})
	return nil
}

func (e *Engine) checkReply(msg message.Inbound, now time.Time) error {
	if msg.CorrelationID == "" {
		return nil
	}
	switch ev := msg.Event.(type) {
	case message.NetworkDumpChunk:
		return e.router.CheckReply(msg.CorrelationID, ev.Last, now)
	case message.AliveResponse:
		return e.router.CheckReply(msg.CorrelationID, true, now)
	default:
		return nil
	}
}

// LoadHistory seeds switch controllers from the repository. It must be
// called before the first message is handled.
func (e *Engine) LoadHistory(ctx context.Context) error {
	switches, err := e.repo.LoadAllSwitches(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	isls, err := e.repo.LoadAllIsls(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	sessions, err := e.repo.LoadBfdSessions(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	histories, orphans := model.BuildHistory(switches, isls, sessions)
	for _, o := range orphans {
		e.metrics.RecordOrphan("history")
		e.logger.Debug("history link without switch",
			slog.String("source", o.Source.String()),
			slog.String("dest", o.Dest.String()),
		)
	}

	em := e.emitter(e.Now())
	for _, h := range histories {
		e.pool.Submit(switchKey(h.Switch), func(s *shard) {
			if err := s.switches.AddWithHistory(em, h); err != nil {
				em.fail("add switch history", err, slog.String("switch", h.Switch.String()))
			}
		})
	}

	e.logger.Info("history loaded",
		slog.Int("switches", len(histories)),
		slog.Int("links", len(isls)-len(orphans)),
		slog.Int("bfd_sessions", len(sessions)),
		slog.Int("orphans", len(orphans)),
	)
	return nil
}

// Route sends a command from outside the engine to the regions and tracks
// its replies. A switch command goes to the region owning the switch; any
// other command is copied to every alive region. Dead regions are skipped.
func (e *Engine) Route(ctx context.Context, cmd message.Command) (region.Routed, error) {
	if !e.running.Load() {
		return region.Routed{}, ErrNotRunning
	}
	if cmd == nil {
		return region.Routed{}, fmt.Errorf("route: %w", ErrInvalidCommand)
	}

	routed, err := e.router.Route(ctx, cmd, e.Now())
	if err != nil {
		return routed, fmt.Errorf("route %s: %w", cmd.Kind(), err)
	}
	e.logger.Debug("command routed",
		slog.String("command", cmd.Kind()),
		slog.String("correlation_id", routed.CorrelationID),
		slog.Any("regions", routed.Regions),
	)
	return routed, nil
}

// Router returns the region router.
func (e *Engine) Router() *region.Router { return e.router }

// SubscribeIslEvents returns a channel of ISL state changes and a function
// that ends the subscription. Events are dropped for a subscriber that does
// not keep up.
func (e *Engine) SubscribeIslEvents(buffer int) (<-chan IslEvent, func()) {
	return e.events.subscribe(buffer)
}

func (e *Engine) emitter(now time.Time) *emitter {
	return &emitter{e: e, now: now}
}
