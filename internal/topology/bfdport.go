package topology

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dantte-lp/gotopo/internal/deadline"
	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
)

// BfdPortState is the state of a BFD-port controller.
type BfdPortState uint8

const (
	// BfdInit is the state of a freshly created controller.
	BfdInit BfdPortState = iota
	// BfdInitChoice routes a new controller by its warm-start history.
	BfdInitChoice
	// BfdIdle means no session is installed or held.
	BfdIdle
	// BfdInstalling means a session create request is in flight.
	BfdInstalling
	// BfdUp means the session is installed and its logical port is up.
	BfdUp
	// BfdDown means the session is installed and its logical port is down.
	BfdDown
	// BfdFail means provisioning failed; the port must go down to recover.
	BfdFail
	// BfdCleaning means a session remove request is in flight.
	BfdCleaning
	// BfdCleaningChoice routes a finished removal by the logical port status.
	BfdCleaningChoice
	// BfdWaitRelease holds a removed session until its logical port goes down.
	BfdWaitRelease
)

// String returns the human-readable name of the BFD-port state.
func (s BfdPortState) String() string {
	switch s {
	case BfdInit:
		return "Init"
	case BfdInitChoice:
		return "InitChoice"
	case BfdIdle:
		return "Idle"
	case BfdInstalling:
		return "Installing"
	case BfdUp:
		return "Up"
	case BfdDown:
		return "Down"
	case BfdFail:
		return "Fail"
	case BfdCleaning:
		return "Cleaning"
	case BfdCleaningChoice:
		return "CleaningChoice"
	case BfdWaitRelease:
		return "WaitRelease"
	default:
		return "Invalid"
	}
}

type bfdEvent uint8

const (
	bfdHistory bfdEvent = iota
	bfdToIdle
	bfdToCleaning
	bfdToWaitRelease
	bfdBiIslUp
	bfdBiIslMove
	bfdPortUp
	bfdPortDown
	bfdAllocFail
	bfdCreateOk
	bfdCreateFail
	bfdRemoveOk
	bfdRemoveFail
	bfdTimeout
)

type bfdContext struct {
	out    BfdPortCarrier
	now    time.Time
	timers *deadline.Schedule[model.Endpoint]
	ref    model.IslReference
}

type bfdTable = table[*BfdPortController, BfdPortState, bfdEvent, *bfdContext]

//nolint:gochecknoglobals // immutable transition table.
var bfdTransitions = newBfdTable()

func newBfdTable() *bfdTable {
	t := newTable[*BfdPortController, BfdPortState, bfdEvent, *bfdContext]()

	t.external(BfdInit, bfdHistory, BfdInitChoice, nil)
	t.onEntry(BfdInitChoice, (*BfdPortController).initChoiceEnter)
	t.external(BfdInitChoice, bfdToIdle, BfdIdle, nil)
	t.external(BfdInitChoice, bfdToCleaning, BfdCleaning, nil)

	t.external(BfdIdle, bfdBiIslUp, BfdInstalling, (*BfdPortController).recordRemote)
	t.internal(BfdIdle, bfdBiIslMove, nil)
	t.internal(BfdIdle, bfdPortUp, nil)
	t.internal(BfdIdle, bfdPortDown, nil)

	t.onEntry(BfdInstalling, (*BfdPortController).installingEnter)
	t.onExit(BfdInstalling, (*BfdPortController).disarm)
	t.external(BfdInstalling, bfdAllocFail, BfdFail, nil)
	// The deadline stays armed after a create ack until the logical port
	// comes up.
	t.internal(BfdInstalling, bfdCreateOk, nil)
	t.external(BfdInstalling, bfdPortUp, BfdUp, nil)
	t.internal(BfdInstalling, bfdPortDown, nil)
	t.external(BfdInstalling, bfdCreateFail, BfdCleaning, nil)
	t.external(BfdInstalling, bfdTimeout, BfdCleaning, nil)
	t.external(BfdInstalling, bfdBiIslMove, BfdCleaning, nil)
	t.internal(BfdInstalling, bfdBiIslUp, nil)

	t.onEntry(BfdUp, (*BfdPortController).upEnter)
	t.external(BfdUp, bfdPortDown, BfdDown, nil)
	t.external(BfdUp, bfdBiIslMove, BfdCleaning, (*BfdPortController).notifyDown)
	t.internal(BfdUp, bfdPortUp, nil)
	t.internal(BfdUp, bfdBiIslUp, nil)
	t.internal(BfdUp, bfdCreateOk, nil)

	t.onEntry(BfdDown, (*BfdPortController).downEnter)
	t.external(BfdDown, bfdPortUp, BfdUp, nil)
	t.external(BfdDown, bfdBiIslMove, BfdCleaning, nil)
	t.internal(BfdDown, bfdPortDown, nil)
	t.internal(BfdDown, bfdBiIslUp, nil)
	t.internal(BfdDown, bfdCreateOk, nil)

	t.onEntry(BfdCleaning, (*BfdPortController).cleaningEnter)
	t.onExit(BfdCleaning, (*BfdPortController).disarm)
	t.external(BfdCleaning, bfdRemoveOk, BfdCleaningChoice, (*BfdPortController).release)
	t.external(BfdCleaning, bfdRemoveFail, BfdFail, nil)
	t.external(BfdCleaning, bfdTimeout, BfdFail, nil)
	t.internal(BfdCleaning, bfdPortUp, nil)
	t.internal(BfdCleaning, bfdPortDown, nil)
	t.internal(BfdCleaning, bfdBiIslUp, nil)
	t.internal(BfdCleaning, bfdBiIslMove, nil)

	t.onEntry(BfdCleaningChoice, (*BfdPortController).cleaningChoiceEnter)
	t.external(BfdCleaningChoice, bfdToIdle, BfdIdle, nil)
	t.external(BfdCleaningChoice, bfdToWaitRelease, BfdWaitRelease, nil)

	t.external(BfdWaitRelease, bfdPortDown, BfdIdle, nil)
	t.internal(BfdWaitRelease, bfdPortUp, nil)
	t.internal(BfdWaitRelease, bfdBiIslUp, nil)
	t.internal(BfdWaitRelease, bfdBiIslMove, nil)

	t.onEntry(BfdFail, (*BfdPortController).failEnter)
	t.external(BfdFail, bfdPortDown, BfdIdle, (*BfdPortController).release)
	t.internal(BfdFail, bfdPortUp, nil)
	t.internal(BfdFail, bfdBiIslUp, nil)
	t.internal(BfdFail, bfdBiIslMove, nil)

	return t
}

// BfdSettings are the session parameters shared by every BFD-port
// controller.
type BfdSettings struct {
	// Interval is the session transmit interval.
	Interval time.Duration
	// Multiplier is the session detection multiplier.
	Multiplier uint8
	// SpeakerTimeout bounds how long a create or remove request may stay
	// unanswered.
	SpeakerTimeout time.Duration
}

// BfdPortController drives the hardware BFD session of one physical port.
//
// The discriminator is held from allocation (or warm-start reservation)
// until a confirmed removal or recovery from FAIL returns it to the pool.
type BfdPortController struct {
	ep            model.Endpoint
	logicalPort   uint32
	fsm           machine[*BfdPortController, BfdPortState, bfdEvent, *bfdContext]
	discriminator uint32
	remote        model.Endpoint
	upStatus      bool

	alloc    *DiscriminatorAllocator
	settings BfdSettings
	logger   *slog.Logger
}

// State returns the current state of the controller.
func (c *BfdPortController) State() BfdPortState {
	return c.fsm.current()
}

// Discriminator returns the held discriminator, zero when none.
func (c *BfdPortController) Discriminator() uint32 {
	return c.discriminator
}

func (c *BfdPortController) initChoiceEnter(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	if c.discriminator != 0 {
		c.fsm.fire(c, bfdToCleaning, ctx)
		return
	}
	c.fsm.fire(c, bfdToIdle, ctx)
}

func (c *BfdPortController) recordRemote(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	remote, err := ctx.ref.Opposite(c.ep)
	if err != nil {
		return
	}
	c.remote = remote
}

func (c *BfdPortController) installingEnter(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	discr, err := c.alloc.Allocate()
	if err != nil {
		c.logger.Error("allocate bfd discriminator", slog.String("error", err.Error()))
		c.fsm.fire(c, bfdAllocFail, ctx)
		return
	}
	c.discriminator = discr

	ctx.out.SaveDiscriminator(c.ep, discr)
	ctx.out.CreateBfdSession(message.CreateBfdSession{
		Endpoint:      c.ep,
		LogicalPort:   c.logicalPort,
		Remote:        c.remote,
		Discriminator: discr,
		Interval:      c.settings.Interval,
		Multiplier:    c.settings.Multiplier,
	})
	c.arm(ctx)
}

func (c *BfdPortController) upEnter(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	ctx.out.NotifyBfdUp(c.ep)
}

func (c *BfdPortController) downEnter(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	ctx.out.NotifyBfdDown(c.ep)
}

func (c *BfdPortController) notifyDown(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	ctx.out.NotifyBfdDown(c.ep)
}

func (c *BfdPortController) cleaningEnter(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	if c.discriminator == 0 {
		c.fsm.fire(c, bfdRemoveOk, ctx)
		return
	}
	ctx.out.RemoveBfdSession(message.RemoveBfdSession{
		Endpoint:      c.ep,
		LogicalPort:   c.logicalPort,
		Discriminator: c.discriminator,
	})
	c.arm(ctx)
}

func (c *BfdPortController) cleaningChoiceEnter(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	if c.upStatus {
		c.fsm.fire(c, bfdToWaitRelease, ctx)
		return
	}
	c.fsm.fire(c, bfdToIdle, ctx)
}

func (c *BfdPortController) failEnter(from, _ BfdPortState, _ bfdEvent, _ *bfdContext) {
	c.logger.Warn("bfd session provisioning failed",
		slog.String("from_state", from.String()),
		slog.Uint64("discriminator", uint64(c.discriminator)),
	)
}

func (c *BfdPortController) release(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	if c.discriminator == 0 {
		return
	}
	c.alloc.Release(c.discriminator)
	c.discriminator = 0
	ctx.out.ClearDiscriminator(c.ep)
}

func (c *BfdPortController) arm(ctx *bfdContext) {
	ctx.timers.Add(c.ep, ctx.now.Add(c.settings.SpeakerTimeout))
}

func (c *BfdPortController) disarm(_, _ BfdPortState, _ bfdEvent, ctx *bfdContext) {
	ctx.timers.Remove(c.ep)
}

// -------------------------------------------------------------------------
// BfdPortService - registry of BFD-port controllers
// -------------------------------------------------------------------------

// BfdPortSnapshot is a read-only copy of a BFD-port controller's state.
type BfdPortSnapshot struct {
	Endpoint      model.Endpoint
	LogicalPort   uint32
	State         BfdPortState
	Discriminator uint32
	Remote        model.Endpoint
	LinkUp        bool
}

// BfdPortService owns the BFD-port controllers of one worker together with
// their speaker request timeouts.
type BfdPortService struct {
	controllers map[model.Endpoint]*BfdPortController
	timers      *deadline.Schedule[model.Endpoint]
	alloc       *DiscriminatorAllocator
	settings    BfdSettings
	cfg         serviceConfig
}

// NewBfdPortService creates an empty registry. The allocator may be shared
// with other services.
func NewBfdPortService(alloc *DiscriminatorAllocator, settings BfdSettings, opts ...Option) *BfdPortService {
	return &BfdPortService{
		controllers: make(map[model.Endpoint]*BfdPortController),
		timers:      deadline.New[model.Endpoint](),
		alloc:       alloc,
		settings:    settings,
		cfg:         newServiceConfig("topology.bfd", opts),
	}
}

// Setup creates the controller for the physical endpoint ep whose session
// lives on logicalPort. A nonzero discriminator restored from history is
// reserved and its stale session removed first. A restored value that is
// already held elsewhere or lies outside the pool is not taken: its session
// is removed without tracking and the controller starts idle. Setting up an
// existing endpoint is a no-op.
func (s *BfdPortService) Setup(out BfdPortCarrier, ep model.Endpoint, logicalPort, discriminator uint32, now time.Time) {
	if _, ok := s.controllers[ep]; ok {
		return
	}

	logger := s.cfg.logger.With(slog.String("endpoint", ep.String()))
	c := &BfdPortController{
		ep:          ep,
		logicalPort: logicalPort,
		fsm:         newMachine(bfdTransitions, BfdInit),
		alloc:       s.alloc,
		settings:    s.settings,
		logger:      logger,
	}
	c.fsm.observe = func(from, to BfdPortState, _ bfdEvent) {
		s.cfg.metrics.RecordTransition(controllerBfd, from.String(), to.String())
		logger.Info("bfd port state changed",
			slog.String("old_state", from.String()),
			slog.String("new_state", to.String()),
		)
	}

	if discriminator != 0 {
		if err := s.alloc.Reserve(discriminator); err != nil {
			// The value cannot become ours: drop the stale session and start
			// without one.
			logger.Warn("restored discriminator not reserved, removing its session",
				slog.Uint64("discriminator", uint64(discriminator)),
				slog.String("error", err.Error()),
			)
			out.RemoveBfdSession(message.RemoveBfdSession{
				Endpoint:      ep,
				LogicalPort:   logicalPort,
				Discriminator: discriminator,
			})
			out.ClearDiscriminator(ep)
		} else {
			c.discriminator = discriminator
		}
	}

	s.controllers[ep] = c
	c.fsm.fire(c, bfdHistory, s.context(out, now))
}

// Remove destroys the controller for ep. A held discriminator is released
// and its session removed without waiting for confirmation.
func (s *BfdPortService) Remove(out BfdPortCarrier, ep model.Endpoint) error {
	c, ok := s.controllers[ep]
	if !ok {
		return fmt.Errorf("remove %s: %w", ep, ErrUnknownBfdPort)
	}

	s.timers.Remove(ep)
	if c.discriminator != 0 {
		out.RemoveBfdSession(message.RemoveBfdSession{
			Endpoint:      ep,
			LogicalPort:   c.logicalPort,
			Discriminator: c.discriminator,
		})
		s.alloc.Release(c.discriminator)
		out.ClearDiscriminator(ep)
	}
	delete(s.controllers, ep)
	return nil
}

// BiIslUp reports that ep became part of a live bidirectional link.
func (s *BfdPortService) BiIslUp(out BfdPortCarrier, ep model.Endpoint, ref model.IslReference, now time.Time) error {
	ctx := s.context(out, now)
	ctx.ref = ref
	return s.fire(ep, bfdBiIslUp, ctx)
}

// BiIslMove reports that the link through ep was re-cabled.
func (s *BfdPortService) BiIslMove(out BfdPortCarrier, ep model.Endpoint, ref model.IslReference, now time.Time) error {
	ctx := s.context(out, now)
	ctx.ref = ref
	return s.fire(ep, bfdBiIslMove, ctx)
}

// PortStatus reports the link status of the logical BFD port shadowing ep.
func (s *BfdPortService) PortStatus(out BfdPortCarrier, ep model.Endpoint, status model.LinkStatus, now time.Time) error {
	c, ok := s.controllers[ep]
	if !ok {
		return fmt.Errorf("bfd port %s: %w", ep, ErrUnknownBfdPort)
	}

	var ev bfdEvent
	switch status {
	case model.LinkUp:
		ev = bfdPortUp
	case model.LinkDown:
		ev = bfdPortDown
	default:
		return nil
	}
	c.upStatus = status == model.LinkUp
	return s.fire(ep, ev, s.context(out, now))
}

// SpeakerResponse applies the regional controller's answer to a create or
// remove request. Answers for a discriminator the controller does not hold
// are stale and dropped.
func (s *BfdPortService) SpeakerResponse(out BfdPortCarrier, resp message.BfdSessionResponse, now time.Time) error {
	c, ok := s.controllers[resp.Endpoint]
	if !ok {
		return fmt.Errorf("bfd response for %s: %w", resp.Endpoint, ErrUnknownBfdPort)
	}
	if c.discriminator == 0 || resp.Discriminator != c.discriminator {
		c.logger.Debug("stale bfd speaker response",
			slog.Uint64("discriminator", uint64(resp.Discriminator)),
			slog.String("operation", resp.Operation.String()),
		)
		return nil
	}

	var ev bfdEvent
	switch {
	case resp.Operation == message.BfdCreate && resp.Success:
		ev = bfdCreateOk
	case resp.Operation == message.BfdCreate:
		ev = bfdCreateFail
	case resp.Operation == message.BfdRemove && resp.Success:
		ev = bfdRemoveOk
	case resp.Operation == message.BfdRemove:
		ev = bfdRemoveFail
	default:
		return fmt.Errorf("bfd response operation %d: %w", resp.Operation, ErrUnhandledEvent)
	}
	return s.fire(resp.Endpoint, ev, s.context(out, now))
}

// Tick expires speaker requests whose deadline passed.
func (s *BfdPortService) Tick(out BfdPortCarrier, now time.Time) {
	for _, ep := range s.timers.Expire(now) {
		c, ok := s.controllers[ep]
		if !ok {
			continue
		}
		c.logger.Warn("bfd speaker request timed out", slog.String("state", c.State().String()))
		c.fsm.fire(c, bfdTimeout, s.context(out, now))
	}
}

// State returns the state of the controller for ep.
func (s *BfdPortService) State(ep model.Endpoint) (BfdPortState, bool) {
	c, ok := s.controllers[ep]
	if !ok {
		return 0, false
	}
	return c.State(), true
}

// Snapshot returns a copy of every controller's state.
func (s *BfdPortService) Snapshot() []BfdPortSnapshot {
	out := make([]BfdPortSnapshot, 0, len(s.controllers))
	for ep, c := range s.controllers {
		out = append(out, BfdPortSnapshot{
			Endpoint:      ep,
			LogicalPort:   c.logicalPort,
			State:         c.State(),
			Discriminator: c.discriminator,
			Remote:        c.remote,
			LinkUp:        c.upStatus,
		})
	}
	return out
}

// PendingRequests returns the number of speaker requests awaiting an answer.
func (s *BfdPortService) PendingRequests() int {
	return s.timers.Len()
}

func (s *BfdPortService) context(out BfdPortCarrier, now time.Time) *bfdContext {
	return &bfdContext{out: out, now: now, timers: s.timers}
}

func (s *BfdPortService) fire(ep model.Endpoint, ev bfdEvent, ctx *bfdContext) error {
	c, ok := s.controllers[ep]
	if !ok {
		return fmt.Errorf("bfd port %s: %w", ep, ErrUnknownBfdPort)
	}
	if !c.fsm.fire(c, ev, ctx) {
		return fmt.Errorf("bfd port %s in %s: %w", ep, c.State(), ErrUnhandledEvent)
	}
	return nil
}
