// Package message defines the inbound events consumed by the topology engine
// and the outbound commands it emits. Only the fields the state machines
// consume are modelled; encoding is left to the transport adapters.
package message

import (
	"time"

	"github.com/dantte-lp/gotopo/internal/model"
)

// -------------------------------------------------------------------------
// Inbound
// -------------------------------------------------------------------------

// Event is the payload of an inbound message.
type Event interface {
	// Kind returns a short name used in logs and metrics labels.
	Kind() string
}

// Inbound is one message received from a regional controller.
type Inbound struct {
	Region        string
	CorrelationID string
	Timestamp     time.Time
	Event         Event
}

// SwitchState enumerates switch lifecycle notifications.
type SwitchState uint8

const (
	// SwitchActivated means the switch connected to its regional controller.
	SwitchActivated SwitchState = iota + 1
	// SwitchDeactivated means the switch disconnected.
	SwitchDeactivated
)

// String returns the name of the switch state.
func (s SwitchState) String() string {
	switch s {
	case SwitchActivated:
		return "Activated"
	case SwitchDeactivated:
		return "Deactivated"
	default:
		return "Unknown"
	}
}

// PortView is one port as reported by a regional controller.
type PortView struct {
	Port   uint32
	Status model.LinkStatus
}

// SwitchView is the full state of a switch as reported on activation and in
// network dumps.
type SwitchView struct {
	Switch   model.SwitchID
	Ports    []PortView
	Features []string
}

// HasFeature reports whether the switch advertised the named feature.
func (v SwitchView) HasFeature(name string) bool {
	for _, f := range v.Features {
		if f == name {
			return true
		}
	}
	return false
}

// FeatureBFD is the switch feature name for hardware BFD support.
const FeatureBFD = "bfd"

// SwitchEvent reports a switch activation or deactivation. View is set for
// activations.
type SwitchEvent struct {
	Switch model.SwitchID
	State  SwitchState
	View   *SwitchView
}

// PortState enumerates port notifications.
type PortState uint8

const (
	// PortAdd means a port was created on the switch.
	PortAdd PortState = iota + 1
	// PortDelete means a port was removed from the switch.
	PortDelete
	// PortUp means the port gained carrier.
	PortUp
	// PortDown means the port lost carrier.
	PortDown
)

// String returns the name of the port state.
func (s PortState) String() string {
	switch s {
	case PortAdd:
		return "Add"
	case PortDelete:
		return "Delete"
	case PortUp:
		return "Up"
	case PortDown:
		return "Down"
	default:
		return "Unknown"
	}
}

// PortEvent reports a port change on a switch.
type PortEvent struct {
	Endpoint model.Endpoint
	State    PortState
}

// DiscoveryEvent reports the result of one discovery probe sent from Source.
// Failed probes carry no Dest.
type DiscoveryEvent struct {
	Source   model.Endpoint
	Dest     model.Endpoint
	PacketNo uint64
	Latency  time.Duration
	Failed   bool
}

// BfdSessionStatus reports the state of the hardware BFD session attached to
// a physical endpoint.
type BfdSessionStatus struct {
	Endpoint model.Endpoint
	Up       bool
}

// BfdOperation is the kind of BFD session request a response refers to.
type BfdOperation uint8

const (
	// BfdCreate is a session install request.
	BfdCreate BfdOperation = iota + 1
	// BfdRemove is a session removal request.
	BfdRemove
)

// String returns the name of the operation.
func (o BfdOperation) String() string {
	switch o {
	case BfdCreate:
		return "Create"
	case BfdRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// BfdSessionResponse is the regional controller's answer to a BFD session
// create or remove request.
type BfdSessionResponse struct {
	Endpoint      model.Endpoint
	Discriminator uint32
	Operation     BfdOperation
	Success       bool
}

// Heartbeat is an explicit keepalive from a regional controller.
type Heartbeat struct{}

// AliveResponse answers an AliveRequest.
type AliveResponse struct{}

// NetworkDumpChunk carries one switch of a network dump. The chunk with Last
// set completes the dump; it may carry no switch.
type NetworkDumpChunk struct {
	Switch *SwitchView
	Last   bool
}

// Kind implements Event.
func (SwitchEvent) Kind() string { return "switch" }

// Kind implements Event.
func (PortEvent) Kind() string { return "port" }

// Kind implements Event.
func (DiscoveryEvent) Kind() string { return "discovery" }

// Kind implements Event.
func (BfdSessionStatus) Kind() string { return "bfd_status" }

// Kind implements Event.
func (BfdSessionResponse) Kind() string { return "bfd_response" }

// Kind implements Event.
func (Heartbeat) Kind() string { return "heartbeat" }

// Kind implements Event.
func (AliveResponse) Kind() string { return "alive" }

// Kind implements Event.
func (NetworkDumpChunk) Kind() string { return "dump" }

// -------------------------------------------------------------------------
// Outbound
// -------------------------------------------------------------------------

// Command is the payload of an outbound message.
type Command interface {
	// Kind returns a short name used in logs and metrics labels.
	Kind() string
}

// SwitchCommand is implemented by commands addressed to one switch. They are
// routed to the switch's owning region.
type SwitchCommand interface {
	Command
	Target() model.SwitchID
}

// Outbound is one command addressed to a region.
type Outbound struct {
	Region        string
	CorrelationID string
	Command       Command
}

// DiscoverIsl asks the switch to emit a discovery packet from Endpoint.
type DiscoverIsl struct {
	Endpoint model.Endpoint
	PacketNo uint64
}

// CreateBfdSession installs a hardware BFD session on a logical port.
type CreateBfdSession struct {
	Endpoint      model.Endpoint
	LogicalPort   uint32
	Remote        model.Endpoint
	Discriminator uint32
	Interval      time.Duration
	Multiplier    uint8
}

// RemoveBfdSession removes a hardware BFD session.
type RemoveBfdSession struct {
	Endpoint      model.Endpoint
	LogicalPort   uint32
	Discriminator uint32
}

// NetworkDumpRequest asks a regional controller for the full switch set.
type NetworkDumpRequest struct{}

// AliveRequest asks a regional controller to prove it is alive.
type AliveRequest struct{}

// Kind implements Command.
func (DiscoverIsl) Kind() string { return "discover_isl" }

// Target implements SwitchCommand.
func (c DiscoverIsl) Target() model.SwitchID { return c.Endpoint.Datapath }

// Kind implements Command.
func (CreateBfdSession) Kind() string { return "bfd_create" }

// Target implements SwitchCommand.
func (c CreateBfdSession) Target() model.SwitchID { return c.Endpoint.Datapath }

// Kind implements Command.
func (RemoveBfdSession) Kind() string { return "bfd_remove" }

// Target implements SwitchCommand.
func (c RemoveBfdSession) Target() model.SwitchID { return c.Endpoint.Datapath }

// Kind implements Command.
func (NetworkDumpRequest) Kind() string { return "network_dump" }

// Kind implements Command.
func (AliveRequest) Kind() string { return "alive_request" }
