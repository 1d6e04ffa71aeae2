package topology

import (
	"fmt"
	"log/slog"

	"github.com/dantte-lp/gotopo/internal/model"
)

// PortState is the state of a port controller.
type PortState uint8

const (
	// PortInit is the state of a freshly created port controller.
	PortInit PortState = iota
	// PortUnknown means the port is online with no known link status.
	PortUnknown
	// PortUp means the port is online with carrier.
	PortUp
	// PortDown means the port is online without carrier.
	PortDown
	// PortUnoperational means the owning switch is offline.
	PortUnoperational
	// PortFinish is the terminal state after removal.
	PortFinish
)

// String returns the human-readable name of the port state.
func (s PortState) String() string {
	switch s {
	case PortInit:
		return "Init"
	case PortUnknown:
		return "Unknown"
	case PortUp:
		return "Up"
	case PortDown:
		return "Down"
	case PortUnoperational:
		return "Unoperational"
	case PortFinish:
		return "Finish"
	default:
		return "Invalid"
	}
}

type portEvent uint8

const (
	portOnline portEvent = iota
	portOffline
	portLinkUp
	portLinkDown
	portRemove
)

type portContext struct {
	out PortCarrier
}

type portTable = table[*PortController, PortState, portEvent, *portContext]

//nolint:gochecknoglobals // immutable transition table.
var portTransitions = newPortTable()

func newPortTable() *portTable {
	t := newTable[*PortController, PortState, portEvent, *portContext]()

	t.external(PortInit, portOnline, PortUnknown, nil)
	t.external(PortInit, portOffline, PortUnoperational, nil)
	t.internal(PortInit, portLinkUp, nil)
	t.internal(PortInit, portLinkDown, nil)

	// Unknown resolves itself from the remembered link status.
	t.onEntry(PortUnknown, (*PortController).unknownEnter)
	t.external(PortUnknown, portLinkUp, PortUp, nil)
	t.external(PortUnknown, portLinkDown, PortDown, nil)
	t.external(PortUnknown, portOffline, PortUnoperational, nil)

	t.onEntry(PortUp, (*PortController).upEnter)
	t.onExit(PortUp, (*PortController).upExit)
	t.external(PortUp, portLinkDown, PortDown, nil)
	t.external(PortUp, portOffline, PortUnoperational, nil)
	t.internal(PortUp, portOnline, nil)
	t.internal(PortUp, portLinkUp, nil)

	t.onEntry(PortDown, (*PortController).downEnter)
	t.external(PortDown, portLinkUp, PortUp, nil)
	t.external(PortDown, portOffline, PortUnoperational, nil)
	t.internal(PortDown, portOnline, nil)
	t.internal(PortDown, portLinkDown, nil)

	t.external(PortUnoperational, portOnline, PortUnknown, nil)
	t.internal(PortUnoperational, portOffline, nil)
	t.internal(PortUnoperational, portLinkUp, nil)
	t.internal(PortUnoperational, portLinkDown, nil)

	for _, s := range []PortState{PortInit, PortUnknown, PortUp, PortDown, PortUnoperational} {
		t.external(s, portRemove, PortFinish, nil)
	}
	t.onEntry(PortFinish, (*PortController).finishEnter)

	return t
}

// PortController tracks the online mode and link status of one port.
// Online mode and link status are independent: a port of an offline switch
// keeps its last link status for the next reconnection.
type PortController struct {
	ep     model.Endpoint
	fsm    machine[*PortController, PortState, portEvent, *portContext]
	status model.LinkStatus
	logger *slog.Logger
}

func newPortController(ep model.Endpoint, cfg serviceConfig) *PortController {
	c := &PortController{
		ep:     ep,
		fsm:    newMachine(portTransitions, PortInit),
		logger: cfg.logger.With(slog.String("endpoint", ep.String())),
	}
	c.fsm.observe = func(from, to PortState, _ portEvent) {
		cfg.metrics.RecordTransition(controllerPort, from.String(), to.String())
		c.logger.Debug("port state changed",
			slog.String("old_state", from.String()),
			slog.String("new_state", to.String()),
		)
	}
	return c
}

// State returns the current state of the controller.
func (c *PortController) State() PortState {
	return c.fsm.current()
}

func (c *PortController) unknownEnter(_, _ PortState, _ portEvent, ctx *portContext) {
	switch c.status {
	case model.LinkUp:
		c.fsm.fire(c, portLinkUp, ctx)
	case model.LinkDown:
		c.fsm.fire(c, portLinkDown, ctx)
	case model.LinkUnknown:
	}
}

func (c *PortController) upEnter(_, _ PortState, _ portEvent, ctx *portContext) {
	ctx.out.EnableDiscoveryPoll(c.ep)
}

func (c *PortController) upExit(_, _ PortState, _ portEvent, ctx *portContext) {
	ctx.out.DisableDiscoveryPoll(c.ep)
}

func (c *PortController) downEnter(_, _ PortState, _ portEvent, ctx *portContext) {
	ctx.out.NotifyPortPhysicalDown(c.ep)
}

func (c *PortController) finishEnter(_, _ PortState, _ portEvent, ctx *portContext) {
	ctx.out.RemoveUniIslHandler(c.ep)
}

// -------------------------------------------------------------------------
// PortService - registry of port controllers
// -------------------------------------------------------------------------

// PortSnapshot is a read-only copy of a port controller's state.
type PortSnapshot struct {
	Endpoint   model.Endpoint
	State      PortState
	LinkStatus model.LinkStatus
}

// PortService owns the port controllers of one worker. Port controllers are
// created and removed only on behalf of their switch controller, so a
// missing controller is reported as ErrIllegalState.
type PortService struct {
	controllers map[model.Endpoint]*PortController
	cfg         serviceConfig
}

// NewPortService creates an empty registry.
func NewPortService(opts ...Option) *PortService {
	return &PortService{
		controllers: make(map[model.Endpoint]*PortController),
		cfg:         newServiceConfig("topology.port", opts),
	}
}

// Setup creates the controller for facts.Endpoint and its uni-ISL handler.
// Setting up an existing port is a no-op.
func (s *PortService) Setup(out PortCarrier, facts model.PortFacts, history *model.Isl) {
	if _, ok := s.controllers[facts.Endpoint]; ok {
		s.cfg.logger.Debug("port already set up", slog.String("endpoint", facts.Endpoint.String()))
		return
	}

	c := newPortController(facts.Endpoint, s.cfg)
	c.status = facts.LinkStatus
	s.controllers[facts.Endpoint] = c
	out.SetupUniIslHandler(facts.Endpoint, history)
}

// Remove destroys the controller for ep.
func (s *PortService) Remove(out PortCarrier, ep model.Endpoint) error {
	c, err := s.lookup(ep)
	if err != nil {
		return err
	}
	c.fsm.fire(c, portRemove, &portContext{out: out})
	delete(s.controllers, ep)
	return nil
}

// SetOnlineMode reflects the online mode of the owning switch.
func (s *PortService) SetOnlineMode(out PortCarrier, ep model.Endpoint, online bool) error {
	c, err := s.lookup(ep)
	if err != nil {
		return err
	}
	ev := portOffline
	if online {
		ev = portOnline
	}
	c.fsm.fire(c, ev, &portContext{out: out})
	return nil
}

// SetLinkStatus records a link status change. Unknown status is ignored.
func (s *PortService) SetLinkStatus(out PortCarrier, ep model.Endpoint, status model.LinkStatus) error {
	c, err := s.lookup(ep)
	if err != nil {
		return err
	}

	var ev portEvent
	switch status {
	case model.LinkUp:
		ev = portLinkUp
	case model.LinkDown:
		ev = portLinkDown
	default:
		return nil
	}
	c.status = status
	c.fsm.fire(c, ev, &portContext{out: out})
	return nil
}

// State returns the state of the controller for ep.
func (s *PortService) State(ep model.Endpoint) (PortState, bool) {
	c, ok := s.controllers[ep]
	if !ok {
		return 0, false
	}
	return c.State(), true
}

// Snapshot returns a copy of every controller's state.
func (s *PortService) Snapshot() []PortSnapshot {
	out := make([]PortSnapshot, 0, len(s.controllers))
	for ep, c := range s.controllers {
		out = append(out, PortSnapshot{Endpoint: ep, State: c.State(), LinkStatus: c.status})
	}
	return out
}

func (s *PortService) lookup(ep model.Endpoint) (*PortController, error) {
	c, ok := s.controllers[ep]
	if !ok {
		return nil, fmt.Errorf("port controller %s: %w", ep, ErrIllegalState)
	}
	return c, nil
}
