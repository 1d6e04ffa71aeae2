package topology

import (
	"errors"
	"time"

	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
)

// Controller errors.
var (
	// ErrIllegalState indicates the controller population diverged from the
	// bookkeeping of its owner, e.g. a port controller is missing for a port
	// its switch controller manages.
	ErrIllegalState = errors.New("illegal controller state")

	// ErrUnknownSwitch indicates an event for a switch without a controller.
	ErrUnknownSwitch = errors.New("unknown switch")

	// ErrUnknownUniIsl indicates an event for an endpoint without a uni-ISL
	// controller.
	ErrUnknownUniIsl = errors.New("unknown uni-isl endpoint")

	// ErrUnknownIsl indicates an ISL event that cannot create a controller.
	ErrUnknownIsl = errors.New("unknown isl")

	// ErrUnknownBfdPort indicates an event for an endpoint without a BFD-port
	// controller.
	ErrUnknownBfdPort = errors.New("unknown bfd port")

	// ErrUnhandledEvent indicates the event has no transition from the
	// controller's current state.
	ErrUnhandledEvent = errors.New("event not handled in current state")
)

// -------------------------------------------------------------------------
// Carriers
// -------------------------------------------------------------------------

// SwitchCarrier receives the output of switch controllers.
type SwitchCarrier interface {
	SetupPortHandler(facts model.PortFacts, history *model.Isl)
	RemovePortHandler(ep model.Endpoint)
	SetOnlineMode(ep model.Endpoint, online bool)
	SetPortLinkMode(ep model.Endpoint, status model.LinkStatus)

	SetupBfdPortHandler(ep model.Endpoint, logicalPort, discriminator uint32)
	RemoveBfdPortHandler(ep model.Endpoint)
	SetBfdPortLinkMode(ep model.Endpoint, status model.LinkStatus)
}

// PortCarrier receives the output of port controllers.
type PortCarrier interface {
	SetupUniIslHandler(ep model.Endpoint, history *model.Isl)
	RemoveUniIslHandler(ep model.Endpoint)
	EnableDiscoveryPoll(ep model.Endpoint)
	DisableDiscoveryPoll(ep model.Endpoint)
	NotifyPortPhysicalDown(ep model.Endpoint)
}

// UniIslCarrier receives the output of uni-ISL controllers.
type UniIslCarrier interface {
	NotifyIslUp(ep model.Endpoint, facts model.DiscoveryFacts)
	NotifyIslDown(ep model.Endpoint, ref model.IslReference)
	NotifyIslMove(ep model.Endpoint, ref model.IslReference)
}

// IslCarrier receives the output of ISL controllers.
type IslCarrier interface {
	PersistIslStatus(ref model.IslReference, status model.IslStatus)
	NotifyBiIslUp(ep model.Endpoint, ref model.IslReference)
	NotifyBiIslMove(ep model.Endpoint, ref model.IslReference)
	IslStateChanged(change IslStateChange)
}

// BfdPortCarrier receives the output of BFD-port controllers.
type BfdPortCarrier interface {
	CreateBfdSession(cmd message.CreateBfdSession)
	RemoveBfdSession(cmd message.RemoveBfdSession)
	NotifyBfdUp(ep model.Endpoint)
	NotifyBfdDown(ep model.Endpoint)
	SaveDiscriminator(ep model.Endpoint, discriminator uint32)
	ClearDiscriminator(ep model.Endpoint)
}

// IslStateChange describes one ISL controller transition.
type IslStateChange struct {
	Reference model.IslReference
	OldState  IslState
	NewState  IslState
	Latency   time.Duration
}

// -------------------------------------------------------------------------
// Metrics
// -------------------------------------------------------------------------

// MetricsReporter receives controller transition counts. It is satisfied by
// *metrics.Collector.
type MetricsReporter interface {
	RecordTransition(controller, from, to string)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(string, string, string) {}

// Controller names used as metric labels.
const (
	controllerSwitch = "switch"
	controllerPort   = "port"
	controllerUniIsl = "uni_isl"
	controllerIsl    = "isl"
	controllerBfd    = "bfd_port"
)
