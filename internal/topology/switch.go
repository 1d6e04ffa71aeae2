package topology

import (
	"fmt"
	"log/slog"

	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
)

// SwitchState is the lifecycle state of a switch controller.
type SwitchState uint8

const (
	// SwitchInit is the state of a freshly created controller.
	SwitchInit SwitchState = iota
	// SwitchOffline means the switch is known but not connected.
	SwitchOffline
	// SwitchSetup is the transient reconciliation state after activation.
	SwitchSetup
	// SwitchOnline means the switch is connected and its ports are managed.
	SwitchOnline
)

// String returns the human-readable name of the switch state.
func (s SwitchState) String() string {
	switch s {
	case SwitchInit:
		return "Init"
	case SwitchOffline:
		return "Offline"
	case SwitchSetup:
		return "Setup"
	case SwitchOnline:
		return "Online"
	default:
		return "Unknown"
	}
}

type switchEvent uint8

const (
	switchHistory switchEvent = iota
	switchOnline
	switchOffline
	switchPortAdd
	switchPortDel
	switchPortUp
	switchPortDown
	switchNext
)

type switchContext struct {
	out     SwitchCarrier
	history *model.SwitchHistory
	view    *message.SwitchView
	port    uint32
}

type switchTable = table[*SwitchController, SwitchState, switchEvent, *switchContext]

// switchTransitions is built once and shared by every switch controller.
//
//nolint:gochecknoglobals // immutable transition table.
var switchTransitions = newSwitchTable()

func newSwitchTable() *switchTable {
	t := newTable[*SwitchController, SwitchState, switchEvent, *switchContext]()

	t.external(SwitchInit, switchHistory, SwitchOffline, (*SwitchController).applyHistory)
	t.external(SwitchInit, switchOnline, SwitchSetup, nil)

	t.onEntry(SwitchSetup, (*SwitchController).setupEnter)
	t.external(SwitchSetup, switchNext, SwitchOnline, nil)

	t.external(SwitchOnline, switchOffline, SwitchOffline, nil)
	t.external(SwitchOnline, switchOnline, SwitchSetup, nil)
	t.internal(SwitchOnline, switchPortAdd, (*SwitchController).portAdd)
	t.internal(SwitchOnline, switchPortDel, (*SwitchController).portDel)
	t.internal(SwitchOnline, switchPortUp, (*SwitchController).portUp)
	t.internal(SwitchOnline, switchPortDown, (*SwitchController).portDown)

	t.onEntry(SwitchOffline, (*SwitchController).offlineEnter)
	t.external(SwitchOffline, switchOnline, SwitchSetup, nil)

	return t
}

// SwitchController tracks one switch and the inventory of its ports.
//
// Ports numbered at or above the logical port offset are BFD logical ports.
// They never get port controllers; their link state is forwarded to the
// BFD-port controller of the physical port they shadow.
type SwitchController struct {
	id  model.SwitchID
	fsm machine[*SwitchController, SwitchState, switchEvent, *switchContext]

	logicalOffset uint32
	ports         map[uint32]model.LinkStatus
	logical       map[uint32]model.LinkStatus
	bfdPorts      map[uint32]struct{}
	bfdCapable    bool

	logger *slog.Logger
}

func newSwitchController(id model.SwitchID, logicalOffset uint32, cfg serviceConfig) *SwitchController {
	c := &SwitchController{
		id:            id,
		fsm:           newMachine(switchTransitions, SwitchInit),
		logicalOffset: logicalOffset,
		ports:         make(map[uint32]model.LinkStatus),
		logical:       make(map[uint32]model.LinkStatus),
		bfdPorts:      make(map[uint32]struct{}),
		logger:        cfg.logger.With(slog.String("switch", id.String())),
	}
	c.fsm.observe = func(from, to SwitchState, _ switchEvent) {
		cfg.metrics.RecordTransition(controllerSwitch, from.String(), to.String())
		c.logger.Info("switch state changed",
			slog.String("old_state", from.String()),
			slog.String("new_state", to.String()),
		)
	}
	return c
}

// State returns the current state of the controller.
func (c *SwitchController) State() SwitchState {
	return c.fsm.current()
}

func (c *SwitchController) endpoint(port uint32) model.Endpoint {
	return model.NewEndpoint(c.id, port)
}

func (c *SwitchController) isLogical(port uint32) bool {
	return c.logicalOffset > 0 && port >= c.logicalOffset
}

// -------------------------------------------------------------------------
// Actions
// -------------------------------------------------------------------------

func (c *SwitchController) applyHistory(_, _ SwitchState, _ switchEvent, ctx *switchContext) {
	h := ctx.history
	for i := range h.OutgoingLinks {
		link := h.OutgoingLinks[i]
		port := link.Source.Port
		if _, seen := c.ports[port]; seen || c.isLogical(port) {
			continue
		}
		c.ports[port] = model.LinkUnknown
		ctx.out.SetupPortHandler(model.PortFacts{Endpoint: link.Source}, &link)
	}

	for _, port := range sortedKeys(h.Discriminators) {
		c.bfdCapable = true
		c.ensureBfdPort(ctx.out, port, h.Discriminators[port])
	}
}

// setupEnter reconciles the known port set with the freshly reported one.
// Removals go first, then additions, then every port is set online, then
// link changes: all DOWN before all UP.
func (c *SwitchController) setupEnter(_, _ SwitchState, _ switchEvent, ctx *switchContext) {
	out := ctx.out
	view := ctx.view

	reported := make(map[uint32]model.LinkStatus, len(view.Ports))
	reportedLogical := make(map[uint32]model.LinkStatus)
	for _, p := range view.Ports {
		if c.isLogical(p.Port) {
			reportedLogical[p.Port] = p.Status
			continue
		}
		reported[p.Port] = p.Status
	}
	c.bfdCapable = c.bfdCapable || view.HasFeature(message.FeatureBFD)

	for _, port := range sortedKeys(c.ports) {
		if _, ok := reported[port]; !ok {
			c.removePort(out, port)
		}
	}
	for _, port := range sortedKeys(reported) {
		if _, ok := c.ports[port]; !ok {
			c.ports[port] = model.LinkUnknown
			out.SetupPortHandler(model.PortFacts{Endpoint: c.endpoint(port)}, nil)
		}
	}

	for _, port := range sortedKeys(c.ports) {
		out.SetOnlineMode(c.endpoint(port), true)
		if c.bfdCapable {
			c.ensureBfdPort(out, port, 0)
		}
	}

	var becomeDown, becomeUp, bfdDown, bfdUp []uint32
	for _, port := range sortedKeys(reported) {
		status := reported[port]
		if status == model.LinkUnknown || c.ports[port] == status {
			continue
		}
		c.ports[port] = status
		if status == model.LinkDown {
			becomeDown = append(becomeDown, port)
		} else {
			becomeUp = append(becomeUp, port)
		}
	}
	for _, port := range sortedKeys(reportedLogical) {
		status := reportedLogical[port]
		if status == model.LinkUnknown || c.logical[port] == status {
			continue
		}
		if status == model.LinkDown {
			bfdDown = append(bfdDown, port)
		} else {
			bfdUp = append(bfdUp, port)
		}
	}
	c.logical = reportedLogical

	for _, port := range becomeDown {
		out.SetPortLinkMode(c.endpoint(port), model.LinkDown)
	}
	for _, port := range bfdDown {
		out.SetBfdPortLinkMode(c.endpoint(port-c.logicalOffset), model.LinkDown)
	}
	for _, port := range becomeUp {
		out.SetPortLinkMode(c.endpoint(port), model.LinkUp)
	}
	for _, port := range bfdUp {
		out.SetBfdPortLinkMode(c.endpoint(port-c.logicalOffset), model.LinkUp)
	}

	c.fsm.fire(c, switchNext, ctx)
}

func (c *SwitchController) offlineEnter(_, _ SwitchState, _ switchEvent, ctx *switchContext) {
	for _, port := range sortedKeys(c.ports) {
		ctx.out.SetOnlineMode(c.endpoint(port), false)
	}
}

func (c *SwitchController) portAdd(_, _ SwitchState, _ switchEvent, ctx *switchContext) {
	port := ctx.port
	if c.isLogical(port) {
		if _, ok := c.logical[port]; !ok {
			c.logical[port] = model.LinkUnknown
		}
		return
	}
	if _, ok := c.ports[port]; ok {
		c.logger.Debug("port already known", slog.Uint64("port", uint64(port)))
		return
	}

	c.ports[port] = model.LinkUnknown
	ctx.out.SetupPortHandler(model.PortFacts{Endpoint: c.endpoint(port)}, nil)
	ctx.out.SetOnlineMode(c.endpoint(port), true)
	if c.bfdCapable {
		c.ensureBfdPort(ctx.out, port, 0)
	}
}

func (c *SwitchController) portDel(_, _ SwitchState, _ switchEvent, ctx *switchContext) {
	port := ctx.port
	if c.isLogical(port) {
		delete(c.logical, port)
		return
	}
	if _, ok := c.ports[port]; !ok {
		c.logger.Debug("delete of unknown port", slog.Uint64("port", uint64(port)))
		return
	}
	c.removePort(ctx.out, port)
}

func (c *SwitchController) portUp(_, _ SwitchState, _ switchEvent, ctx *switchContext) {
	c.linkChange(ctx, model.LinkUp)
}

func (c *SwitchController) portDown(_, _ SwitchState, _ switchEvent, ctx *switchContext) {
	c.linkChange(ctx, model.LinkDown)
}

func (c *SwitchController) linkChange(ctx *switchContext, status model.LinkStatus) {
	port := ctx.port
	if c.isLogical(port) {
		c.logical[port] = status
		ctx.out.SetBfdPortLinkMode(c.endpoint(port-c.logicalOffset), status)
		return
	}
	if _, ok := c.ports[port]; !ok {
		c.logger.Warn("link state change for unknown port",
			slog.Uint64("port", uint64(port)),
			slog.String("status", status.String()),
		)
		return
	}
	c.ports[port] = status
	ctx.out.SetPortLinkMode(c.endpoint(port), status)
}

func (c *SwitchController) removePort(out SwitchCarrier, port uint32) {
	delete(c.ports, port)
	if _, ok := c.bfdPorts[port]; ok {
		delete(c.bfdPorts, port)
		out.RemoveBfdPortHandler(c.endpoint(port))
	}
	out.RemovePortHandler(c.endpoint(port))
}

func (c *SwitchController) ensureBfdPort(out SwitchCarrier, port, discriminator uint32) {
	if c.logicalOffset == 0 || c.isLogical(port) {
		return
	}
	if _, ok := c.bfdPorts[port]; ok {
		return
	}
	c.bfdPorts[port] = struct{}{}
	out.SetupBfdPortHandler(c.endpoint(port), port+c.logicalOffset, discriminator)
}

// -------------------------------------------------------------------------
// SwitchService - registry of switch controllers
// -------------------------------------------------------------------------

// SwitchSnapshot is a read-only copy of a switch controller's state.
type SwitchSnapshot struct {
	Switch model.SwitchID
	State  SwitchState
	Ports  []model.PortFacts
}

// SwitchService owns the switch controllers of one worker.
type SwitchService struct {
	controllers   map[model.SwitchID]*SwitchController
	logicalOffset uint32
	cfg           serviceConfig
}

// NewSwitchService creates an empty registry. Ports numbered at or above
// logicalOffset are treated as BFD logical ports; zero disables BFD.
func NewSwitchService(logicalOffset uint32, opts ...Option) *SwitchService {
	return &SwitchService{
		controllers:   make(map[model.SwitchID]*SwitchController),
		logicalOffset: logicalOffset,
		cfg:           newServiceConfig("topology.switch", opts),
	}
}

// AddWithHistory creates a controller pre-seeded from warm-start history.
// The switch starts offline.
func (s *SwitchService) AddWithHistory(out SwitchCarrier, history model.SwitchHistory) error {
	if _, ok := s.controllers[history.Switch]; ok {
		return fmt.Errorf("history for existing switch %s: %w", history.Switch, ErrIllegalState)
	}

	c := newSwitchController(history.Switch, s.logicalOffset, s.cfg)
	s.controllers[history.Switch] = c
	c.fsm.fire(c, switchHistory, &switchContext{out: out, history: &history})

	return nil
}

// Activated handles a switch (re)connection with its full port report. The
// controller is created when needed.
func (s *SwitchService) Activated(out SwitchCarrier, view message.SwitchView) {
	c, ok := s.controllers[view.Switch]
	if !ok {
		c = newSwitchController(view.Switch, s.logicalOffset, s.cfg)
		s.controllers[view.Switch] = c
	}
	c.fsm.fire(c, switchOnline, &switchContext{out: out, view: &view})
}

// Deactivated handles a switch disconnection.
func (s *SwitchService) Deactivated(out SwitchCarrier, id model.SwitchID) error {
	c, ok := s.controllers[id]
	if !ok {
		return fmt.Errorf("deactivate %s: %w", id, ErrUnknownSwitch)
	}
	if !c.fsm.fire(c, switchOffline, &switchContext{out: out}) {
		return fmt.Errorf("deactivate %s in %s: %w", id, c.State(), ErrUnhandledEvent)
	}
	return nil
}

// PortEvent handles a port add/delete/up/down on a managed switch.
func (s *SwitchService) PortEvent(out SwitchCarrier, ep model.Endpoint, state message.PortState) error {
	c, ok := s.controllers[ep.Datapath]
	if !ok {
		return fmt.Errorf("port event %s on %s: %w", state, ep, ErrUnknownSwitch)
	}

	var ev switchEvent
	switch state {
	case message.PortAdd:
		ev = switchPortAdd
	case message.PortDelete:
		ev = switchPortDel
	case message.PortUp:
		ev = switchPortUp
	case message.PortDown:
		ev = switchPortDown
	default:
		return fmt.Errorf("port event %d on %s: %w", state, ep, ErrUnhandledEvent)
	}

	if !c.fsm.fire(c, ev, &switchContext{out: out, port: ep.Port}) {
		return fmt.Errorf("port event %s on %s in %s: %w", state, ep, c.State(), ErrUnhandledEvent)
	}
	return nil
}

// Unmanaged moves the given switches offline after their regional
// controller connection was lost. Unknown and already offline switches are
// skipped.
func (s *SwitchService) Unmanaged(out SwitchCarrier, ids []model.SwitchID) {
	for _, id := range ids {
		if c, ok := s.controllers[id]; ok && c.State() == SwitchOnline {
			c.fsm.fire(c, switchOffline, &switchContext{out: out})
		}
	}
}

// State returns the state of the switch controller for id.
func (s *SwitchService) State(id model.SwitchID) (SwitchState, bool) {
	c, ok := s.controllers[id]
	if !ok {
		return 0, false
	}
	return c.State(), true
}

// Snapshot returns a copy of every controller's state.
func (s *SwitchService) Snapshot() []SwitchSnapshot {
	out := make([]SwitchSnapshot, 0, len(s.controllers))
	for id, c := range s.controllers {
		snap := SwitchSnapshot{Switch: id, State: c.State()}
		for _, port := range sortedKeys(c.ports) {
			snap.Ports = append(snap.Ports, model.PortFacts{
				Endpoint:   c.endpoint(port),
				LinkStatus: c.ports[port],
			})
		}
		out = append(out, snap)
	}
	return out
}

// Len returns the number of switch controllers.
func (s *SwitchService) Len() int {
	return len(s.controllers)
}
