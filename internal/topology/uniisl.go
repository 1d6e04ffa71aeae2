package topology

import (
	"fmt"
	"log/slog"

	"github.com/dantte-lp/gotopo/internal/model"
)

// UniIslState is the state of one direction of a link.
type UniIslState uint8

const (
	// UniIslUnknown means no discovery outcome has been observed yet.
	UniIslUnknown UniIslState = iota
	// UniIslActive means the last discovery from this side succeeded.
	UniIslActive
	// UniIslInactive means discovery failed or the port went down.
	UniIslInactive
	// UniIslBfd means the link is governed by a live BFD session.
	UniIslBfd
)

// String returns the human-readable name of the uni-ISL state.
func (s UniIslState) String() string {
	switch s {
	case UniIslUnknown:
		return "Unknown"
	case UniIslActive:
		return "Active"
	case UniIslInactive:
		return "Inactive"
	case UniIslBfd:
		return "Bfd"
	default:
		return "Invalid"
	}
}

type uniIslEvent uint8

const (
	uniIslDiscovery uniIslEvent = iota
	uniIslFail
	uniIslPhysicalDown
	uniIslBfdUp
	uniIslBfdDown
)

type uniIslContext struct {
	out   UniIslCarrier
	facts model.DiscoveryFacts
}

type uniIslTable = table[*UniIslController, UniIslState, uniIslEvent, *uniIslContext]

//nolint:gochecknoglobals // immutable transition table.
var uniIslTransitions = newUniIslTable()

func newUniIslTable() *uniIslTable {
	t := newTable[*UniIslController, UniIslState, uniIslEvent, *uniIslContext]()

	discovered := (*UniIslController).discovered
	lost := (*UniIslController).lost

	t.external(UniIslUnknown, uniIslDiscovery, UniIslActive, discovered)
	t.external(UniIslUnknown, uniIslFail, UniIslInactive, lost)
	t.external(UniIslUnknown, uniIslPhysicalDown, UniIslInactive, lost)
	t.external(UniIslUnknown, uniIslBfdUp, UniIslBfd, nil)

	t.internal(UniIslActive, uniIslDiscovery, discovered)
	t.external(UniIslActive, uniIslFail, UniIslInactive, lost)
	t.external(UniIslActive, uniIslPhysicalDown, UniIslInactive, lost)
	t.external(UniIslActive, uniIslBfdUp, UniIslBfd, nil)

	t.external(UniIslInactive, uniIslDiscovery, UniIslActive, discovered)
	t.internal(UniIslInactive, uniIslFail, nil)
	t.internal(UniIslInactive, uniIslPhysicalDown, nil)
	t.external(UniIslInactive, uniIslBfdUp, UniIslBfd, nil)

	// A live BFD session overrides probe failures.
	t.onEntry(UniIslBfd, (*UniIslController).bfdEnter)
	t.internal(UniIslBfd, uniIslDiscovery, discovered)
	t.internal(UniIslBfd, uniIslFail, nil)
	t.internal(UniIslBfd, uniIslBfdUp, nil)
	t.external(UniIslBfd, uniIslBfdDown, UniIslInactive, lost)
	t.external(UniIslBfd, uniIslPhysicalDown, UniIslInactive, lost)

	return t
}

// UniIslController holds one side's view of a link: the remote endpoint it
// last discovered and whether that discovery is still valid.
type UniIslController struct {
	ep     model.Endpoint
	fsm    machine[*UniIslController, UniIslState, uniIslEvent, *uniIslContext]
	remote *model.Endpoint
	facts  model.DiscoveryFacts
	logger *slog.Logger
}

func newUniIslController(ep model.Endpoint, cfg serviceConfig) *UniIslController {
	c := &UniIslController{
		ep:     ep,
		fsm:    newMachine(uniIslTransitions, UniIslUnknown),
		logger: cfg.logger.With(slog.String("endpoint", ep.String())),
	}
	c.fsm.observe = func(from, to UniIslState, _ uniIslEvent) {
		cfg.metrics.RecordTransition(controllerUniIsl, from.String(), to.String())
		c.logger.Debug("uni-isl state changed",
			slog.String("old_state", from.String()),
			slog.String("new_state", to.String()),
		)
	}
	return c
}

// State returns the current state of the controller.
func (c *UniIslController) State() UniIslState {
	return c.fsm.current()
}

// Remote returns the last discovered remote endpoint.
func (c *UniIslController) Remote() (model.Endpoint, bool) {
	if c.remote == nil {
		return model.Endpoint{}, false
	}
	return *c.remote, true
}

func (c *UniIslController) reference() model.IslReference {
	return model.NewIslReference(c.ep, *c.remote)
}

func (c *UniIslController) discovered(_, _ UniIslState, _ uniIslEvent, ctx *uniIslContext) {
	remote, err := ctx.facts.Reference.Opposite(c.ep)
	if err != nil {
		c.logger.Warn("discovery does not name this endpoint",
			slog.String("reference", ctx.facts.Reference.String()),
		)
		return
	}

	if c.remote != nil && *c.remote != remote {
		ctx.out.NotifyIslMove(c.ep, c.reference())
	}
	c.remote = &remote
	c.facts = ctx.facts
	ctx.out.NotifyIslUp(c.ep, ctx.facts)
}

func (c *UniIslController) lost(_, _ UniIslState, _ uniIslEvent, ctx *uniIslContext) {
	if c.remote == nil {
		return
	}
	ctx.out.NotifyIslDown(c.ep, c.reference())
}

func (c *UniIslController) bfdEnter(_, _ UniIslState, _ uniIslEvent, ctx *uniIslContext) {
	if c.remote == nil {
		return
	}
	facts := c.facts
	facts.Reference = c.reference()
	ctx.out.NotifyIslUp(c.ep, facts)
}

// -------------------------------------------------------------------------
// UniIslService - registry of uni-ISL controllers
// -------------------------------------------------------------------------

// UniIslSnapshot is a read-only copy of a uni-ISL controller's state.
type UniIslSnapshot struct {
	Endpoint model.Endpoint
	State    UniIslState
	Remote   *model.Endpoint
}

// UniIslService owns the uni-ISL controllers of one worker.
type UniIslService struct {
	controllers map[model.Endpoint]*UniIslController
	cfg         serviceConfig
}

// NewUniIslService creates an empty registry.
func NewUniIslService(opts ...Option) *UniIslService {
	return &UniIslService{
		controllers: make(map[model.Endpoint]*UniIslController),
		cfg:         newServiceConfig("topology.uniisl", opts),
	}
}

// Setup creates the controller for ep, seeding its remote from history when
// given. Setting up an existing endpoint is a no-op.
func (s *UniIslService) Setup(ep model.Endpoint, history *model.Isl) {
	if _, ok := s.controllers[ep]; ok {
		return
	}
	c := newUniIslController(ep, s.cfg)
	if history != nil && history.Source == ep {
		remote := history.Dest
		c.remote = &remote
		c.facts = model.DiscoveryFacts{Reference: history.Reference()}
	}
	s.controllers[ep] = c
}

// Remove destroys the controller for ep. A link still considered alive from
// this side is reported down first.
func (s *UniIslService) Remove(out UniIslCarrier, ep model.Endpoint) error {
	c, ok := s.controllers[ep]
	if !ok {
		return fmt.Errorf("remove %s: %w", ep, ErrUnknownUniIsl)
	}
	if st := c.State(); (st == UniIslActive || st == UniIslBfd) && c.remote != nil {
		out.NotifyIslDown(ep, c.reference())
	}
	delete(s.controllers, ep)
	return nil
}

// Discovery records a successful discovery from ep.
func (s *UniIslService) Discovery(out UniIslCarrier, ep model.Endpoint, facts model.DiscoveryFacts) error {
	return s.fire(out, ep, uniIslDiscovery, facts)
}

// Fail records a confirmed discovery failure from ep.
func (s *UniIslService) Fail(out UniIslCarrier, ep model.Endpoint) error {
	return s.fire(out, ep, uniIslFail, model.DiscoveryFacts{})
}

// PhysicalDown records loss of carrier on ep.
func (s *UniIslService) PhysicalDown(out UniIslCarrier, ep model.Endpoint) error {
	return s.fire(out, ep, uniIslPhysicalDown, model.DiscoveryFacts{})
}

// BfdUp records that the BFD session on ep came up.
func (s *UniIslService) BfdUp(out UniIslCarrier, ep model.Endpoint) error {
	return s.fire(out, ep, uniIslBfdUp, model.DiscoveryFacts{})
}

// BfdDown records that the BFD session on ep went down.
func (s *UniIslService) BfdDown(out UniIslCarrier, ep model.Endpoint) error {
	return s.fire(out, ep, uniIslBfdDown, model.DiscoveryFacts{})
}

// State returns the state of the controller for ep.
func (s *UniIslService) State(ep model.Endpoint) (UniIslState, bool) {
	c, ok := s.controllers[ep]
	if !ok {
		return 0, false
	}
	return c.State(), true
}

// Snapshot returns a copy of every controller's state.
func (s *UniIslService) Snapshot() []UniIslSnapshot {
	out := make([]UniIslSnapshot, 0, len(s.controllers))
	for ep, c := range s.controllers {
		snap := UniIslSnapshot{Endpoint: ep, State: c.State()}
		if remote, ok := c.Remote(); ok {
			snap.Remote = &remote
		}
		out = append(out, snap)
	}
	return out
}

func (s *UniIslService) fire(out UniIslCarrier, ep model.Endpoint, ev uniIslEvent, facts model.DiscoveryFacts) error {
	c, ok := s.controllers[ep]
	if !ok {
		return fmt.Errorf("uni-isl %s: %w", ep, ErrUnknownUniIsl)
	}
	if !c.fsm.fire(c, ev, &uniIslContext{out: out, facts: facts}) {
		return fmt.Errorf("uni-isl %s in %s: %w", ep, c.State(), ErrUnhandledEvent)
	}
	return nil
}
