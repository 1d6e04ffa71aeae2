package topology

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dantte-lp/gotopo/internal/model"
)

// IslState is the state of a bidirectional link.
type IslState uint8

const (
	// IslDown means the link is not confirmed from both sides.
	IslDown IslState = iota
	// IslUpAttempt is the transient state that checks both sides.
	IslUpAttempt
	// IslUp means both sides confirmed the link.
	IslUp
	// IslMovedState means one side discovered a different remote.
	IslMovedState
)

// String returns the human-readable name of the ISL state.
func (s IslState) String() string {
	switch s {
	case IslDown:
		return "Down"
	case IslUpAttempt:
		return "UpAttempt"
	case IslUp:
		return "Up"
	case IslMovedState:
		return "Moved"
	default:
		return "Invalid"
	}
}

type islEvent uint8

const (
	islUp islEvent = iota
	islDown
	islMove
	islAttemptSuccess
	islAttemptFail
)

type islContext struct {
	out     IslCarrier
	ep      model.Endpoint
	latency time.Duration
}

type islTable = table[*IslController, IslState, islEvent, *islContext]

//nolint:gochecknoglobals // immutable transition table.
var islTransitions = newIslTable()

func newIslTable() *islTable {
	t := newTable[*IslController, IslState, islEvent, *islContext]()

	markUp := (*IslController).markUp
	markDown := (*IslController).markDown

	t.onEntry(IslDown, (*IslController).downEnter)
	t.external(IslDown, islUp, IslUpAttempt, markUp)
	t.internal(IslDown, islDown, markDown)
	t.external(IslDown, islMove, IslMovedState, (*IslController).clearSides)

	t.onEntry(IslUpAttempt, (*IslController).attemptEnter)
	t.external(IslUpAttempt, islAttemptSuccess, IslUp, nil)
	t.external(IslUpAttempt, islAttemptFail, IslDown, nil)
	t.external(IslUpAttempt, islMove, IslMovedState, (*IslController).clearSides)

	t.onEntry(IslUp, (*IslController).upEnter)
	t.internal(IslUp, islUp, markUp)
	t.external(IslUp, islDown, IslDown, (*IslController).clearSides)
	t.external(IslUp, islMove, IslMovedState, (*IslController).clearSides)

	t.onEntry(IslMovedState, (*IslController).movedEnter)
	t.external(IslMovedState, islUp, IslUpAttempt, markUp)
	t.internal(IslMovedState, islDown, markDown)
	t.internal(IslMovedState, islMove, nil)

	return t
}

// IslController merges both directions of a link. The link is UP only while
// both sides have reported up since the last DOWN or MOVED entry.
type IslController struct {
	ref       model.IslReference
	fsm       machine[*IslController, IslState, islEvent, *islContext]
	sourceUp  bool
	destUp    bool
	latency   time.Duration
	status    model.IslStatus
	changes   []IslStateChange
	createdAt time.Time
	logger    *slog.Logger
}

func newIslController(ref model.IslReference, cfg serviceConfig) *IslController {
	c := &IslController{
		ref:    ref,
		fsm:    newMachine(islTransitions, IslDown),
		logger: cfg.logger.With(slog.String("isl", ref.String())),
	}
	c.fsm.observe = func(from, to IslState, _ islEvent) {
		cfg.metrics.RecordTransition(controllerIsl, from.String(), to.String())
		c.logger.Info("isl state changed",
			slog.String("old_state", from.String()),
			slog.String("new_state", to.String()),
		)
		c.changes = append(c.changes, IslStateChange{
			Reference: c.ref,
			OldState:  from,
			NewState:  to,
			Latency:   c.latency,
		})
	}
	return c
}

// State returns the current state of the controller.
func (c *IslController) State() IslState {
	return c.fsm.current()
}

func (c *IslController) setSide(ep model.Endpoint, up bool) {
	if ep == c.ref.Source {
		c.sourceUp = up
	}
	if ep == c.ref.Dest {
		c.destUp = up
	}
}

func (c *IslController) markUp(_, _ IslState, _ islEvent, ctx *islContext) {
	c.setSide(ctx.ep, true)
	if ctx.latency > 0 {
		c.latency = ctx.latency
	}
}

func (c *IslController) markDown(_, _ IslState, _ islEvent, ctx *islContext) {
	c.setSide(ctx.ep, false)
}

func (c *IslController) clearSides(_, _ IslState, _ islEvent, _ *islContext) {
	c.sourceUp = false
	c.destUp = false
}

func (c *IslController) attemptEnter(_, _ IslState, _ islEvent, ctx *islContext) {
	if c.sourceUp && c.destUp {
		c.fsm.fire(c, islAttemptSuccess, ctx)
		return
	}
	c.fsm.fire(c, islAttemptFail, ctx)
}

func (c *IslController) upEnter(_, _ IslState, _ islEvent, ctx *islContext) {
	c.persist(ctx.out, model.IslActive)
	for _, ep := range c.ref.Endpoints() {
		ctx.out.NotifyBiIslUp(ep, c.ref)
	}
}

func (c *IslController) downEnter(_, _ IslState, _ islEvent, ctx *islContext) {
	if c.status != model.IslInactive {
		c.persist(ctx.out, model.IslInactive)
	}
}

func (c *IslController) movedEnter(_, _ IslState, _ islEvent, ctx *islContext) {
	c.persist(ctx.out, model.IslMoved)
	for _, ep := range c.ref.Endpoints() {
		ctx.out.NotifyBiIslMove(ep, c.ref)
	}
}

func (c *IslController) persist(out IslCarrier, status model.IslStatus) {
	c.status = status
	out.PersistIslStatus(c.ref, status)
}

// -------------------------------------------------------------------------
// IslService - registry of ISL controllers
// -------------------------------------------------------------------------

// IslSnapshot is a read-only copy of an ISL controller's state.
type IslSnapshot struct {
	Reference model.IslReference
	State     IslState
	SourceUp  bool
	DestUp    bool
	Status    model.IslStatus
	Latency   time.Duration
	Since     time.Time
}

// IslService owns the ISL controllers of one worker. Controllers are created
// lazily on the first ISL_UP from either side.
type IslService struct {
	controllers map[model.IslReference]*IslController
	cfg         serviceConfig
}

// NewIslService creates an empty registry.
func NewIslService(opts ...Option) *IslService {
	return &IslService{
		controllers: make(map[model.IslReference]*IslController),
		cfg:         newServiceConfig("topology.isl", opts),
	}
}

// IslUp records that ep discovered the remote named in facts.
func (s *IslService) IslUp(out IslCarrier, ep model.Endpoint, facts model.DiscoveryFacts, now time.Time) error {
	ref := facts.Reference
	if ref.IsDegenerate() || !ref.Contains(ep) {
		return fmt.Errorf("isl up from %s for %s: %w", ep, ref, model.ErrEndpointNotInReference)
	}

	c, ok := s.controllers[ref]
	if !ok {
		c = newIslController(ref, s.cfg)
		c.createdAt = now
		s.controllers[ref] = c
	}
	return s.fire(out, c, islUp, ep, facts.Latency)
}

// IslDown records that ep lost the link. Events for links that were never
// seen up are orphans.
func (s *IslService) IslDown(out IslCarrier, ep model.Endpoint, ref model.IslReference) error {
	c, err := s.lookup(ep, ref)
	if err != nil {
		return err
	}
	return s.fire(out, c, islDown, ep, 0)
}

// IslMove records that ep now sees a different remote than ref names.
func (s *IslService) IslMove(out IslCarrier, ep model.Endpoint, ref model.IslReference) error {
	c, err := s.lookup(ep, ref)
	if err != nil {
		return err
	}
	return s.fire(out, c, islMove, ep, 0)
}

// State returns the state of the controller for ref.
func (s *IslService) State(ref model.IslReference) (IslState, bool) {
	c, ok := s.controllers[ref]
	if !ok {
		return 0, false
	}
	return c.State(), true
}

// Snapshot returns a copy of every controller's state.
func (s *IslService) Snapshot() []IslSnapshot {
	out := make([]IslSnapshot, 0, len(s.controllers))
	for ref, c := range s.controllers {
		out = append(out, IslSnapshot{
			Reference: ref,
			State:     c.State(),
			SourceUp:  c.sourceUp,
			DestUp:    c.destUp,
			Status:    c.status,
			Latency:   c.latency,
			Since:     c.createdAt,
		})
	}
	return out
}

func (s *IslService) lookup(ep model.Endpoint, ref model.IslReference) (*IslController, error) {
	if !ref.Contains(ep) {
		return nil, fmt.Errorf("isl event from %s for %s: %w", ep, ref, model.ErrEndpointNotInReference)
	}
	c, ok := s.controllers[ref]
	if !ok {
		return nil, fmt.Errorf("isl %s: %w", ref, ErrUnknownIsl)
	}
	return c, nil
}

func (s *IslService) fire(out IslCarrier, c *IslController, ev islEvent, ep model.Endpoint, latency time.Duration) error {
	handled := c.fsm.fire(c, ev, &islContext{out: out, ep: ep, latency: latency})

	changes := c.changes
	c.changes = nil
	for _, ch := range changes {
		out.IslStateChanged(ch)
	}

	if !handled {
		return fmt.Errorf("isl %s in %s: %w", c.ref, c.State(), ErrUnhandledEvent)
	}
	return nil
}
