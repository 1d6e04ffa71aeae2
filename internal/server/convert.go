package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dantte-lp/gotopo/internal/engine"
	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/topology"
	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

// Conversion errors.
var (
	// ErrInvalidEvent indicates an ingest request that does not describe a
	// valid event.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidCommand indicates a routed command that cannot be sent.
	ErrInvalidCommand = errors.New("invalid command")
)

// -------------------------------------------------------------------------
// Inbound
// -------------------------------------------------------------------------

func toInbound(req *topoapi.IngestRequest) (message.Inbound, error) {
	ev, err := toEvent(req)
	if err != nil {
		return message.Inbound{}, fmt.Errorf("%s event from %s: %w", req.Kind, req.Region, err)
	}
	return message.Inbound{
		Region:        req.Region,
		CorrelationID: req.CorrelationID,
		Timestamp:     req.Timestamp,
		Event:         ev,
	}, nil
}

func toEvent(req *topoapi.IngestRequest) (message.Event, error) {
	switch req.Kind {
	case topoapi.KindHeartbeat:
		return message.Heartbeat{}, nil
	case topoapi.KindAlive:
		return message.AliveResponse{}, nil
	case topoapi.KindSwitch:
		if req.Switch == nil {
			return nil, fmt.Errorf("missing switch payload: %w", ErrInvalidEvent)
		}
		return toSwitchEvent(req.Switch)
	case topoapi.KindPort:
		if req.Port == nil {
			return nil, fmt.Errorf("missing port payload: %w", ErrInvalidEvent)
		}
		return toPortEvent(req.Port)
	case topoapi.KindDiscovery:
		if req.Discovery == nil {
			return nil, fmt.Errorf("missing discovery payload: %w", ErrInvalidEvent)
		}
		return toDiscovery(req.Discovery)
	case topoapi.KindBfdStatus:
		if req.BfdStatus == nil {
			return nil, fmt.Errorf("missing bfd status payload: %w", ErrInvalidEvent)
		}
		ep, err := toEndpoint(req.BfdStatus.Endpoint)
		if err != nil {
			return nil, err
		}
		return message.BfdSessionStatus{Endpoint: ep, Up: req.BfdStatus.Up}, nil
	case topoapi.KindBfdResponse:
		if req.BfdResponse == nil {
			return nil, fmt.Errorf("missing bfd response payload: %w", ErrInvalidEvent)
		}
		return toBfdResponse(req.BfdResponse)
	case topoapi.KindDump:
		if req.Dump == nil {
			return nil, fmt.Errorf("missing dump payload: %w", ErrInvalidEvent)
		}
		chunk := message.NetworkDumpChunk{Last: req.Dump.Last}
		if req.Dump.Switch != nil {
			view, err := toSwitchView(req.Dump.Switch)
			if err != nil {
				return nil, err
			}
			chunk.Switch = &view
		}
		return chunk, nil
	default:
		return nil, fmt.Errorf("unknown kind %q: %w", req.Kind, ErrInvalidEvent)
	}
}

func toEndpoint(ep topoapi.Endpoint) (model.Endpoint, error) {
	sw, err := model.ParseSwitchID(ep.Switch)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("endpoint: %w: %w", ErrInvalidEvent, err)
	}
	return model.NewEndpoint(sw, ep.Port), nil
}

func toSwitchView(v *topoapi.SwitchView) (message.SwitchView, error) {
	sw, err := model.ParseSwitchID(v.Switch)
	if err != nil {
		return message.SwitchView{}, fmt.Errorf("switch view: %w: %w", ErrInvalidEvent, err)
	}
	view := message.SwitchView{
		Switch:   sw,
		Ports:    make([]message.PortView, 0, len(v.Ports)),
		Features: v.Features,
	}
	for _, p := range v.Ports {
		status, err := parseLinkStatus(p.Status)
		if err != nil {
			return message.SwitchView{}, fmt.Errorf("switch %s port %d: %w", sw, p.Port, err)
		}
		view.Ports = append(view.Ports, message.PortView{Port: p.Port, Status: status})
	}
	return view, nil
}

func toSwitchEvent(e *topoapi.SwitchEvent) (message.Event, error) {
	sw, err := model.ParseSwitchID(e.Switch)
	if err != nil {
		return nil, fmt.Errorf("switch: %w: %w", ErrInvalidEvent, err)
	}

	switch strings.ToLower(e.State) {
	case "activated":
		if e.View == nil {
			return nil, fmt.Errorf("activation of %s without view: %w", sw, ErrInvalidEvent)
		}
		view, err := toSwitchView(e.View)
		if err != nil {
			return nil, err
		}
		view.Switch = sw
		return message.SwitchEvent{Switch: sw, State: message.SwitchActivated, View: &view}, nil
	case "deactivated":
		return message.SwitchEvent{Switch: sw, State: message.SwitchDeactivated}, nil
	default:
		return nil, fmt.Errorf("switch state %q: %w", e.State, ErrInvalidEvent)
	}
}

func toPortEvent(e *topoapi.PortEvent) (message.Event, error) {
	ep, err := toEndpoint(e.Endpoint)
	if err != nil {
		return nil, err
	}

	var state message.PortState
	switch strings.ToLower(e.State) {
	case "add":
		state = message.PortAdd
	case "delete":
		state = message.PortDelete
	case "up":
		state = message.PortUp
	case "down":
		state = message.PortDown
	default:
		return nil, fmt.Errorf("port state %q: %w", e.State, ErrInvalidEvent)
	}
	return message.PortEvent{Endpoint: ep, State: state}, nil
}

func toDiscovery(e *topoapi.DiscoveryEvent) (message.Event, error) {
	src, err := toEndpoint(e.Source)
	if err != nil {
		return nil, err
	}
	ev := message.DiscoveryEvent{
		Source:   src,
		PacketNo: e.PacketNo,
		Latency:  e.Latency,
		Failed:   e.Failed,
	}
	if e.Failed {
		return ev, nil
	}
	if e.Dest == nil {
		return nil, fmt.Errorf("discovery from %s without dest: %w", src, ErrInvalidEvent)
	}
	if ev.Dest, err = toEndpoint(*e.Dest); err != nil {
		return nil, err
	}
	return ev, nil
}

func toBfdResponse(e *topoapi.BfdSessionResponse) (message.Event, error) {
	ep, err := toEndpoint(e.Endpoint)
	if err != nil {
		return nil, err
	}

	var op message.BfdOperation
	switch strings.ToLower(e.Operation) {
	case "create":
		op = message.BfdCreate
	case "remove":
		op = message.BfdRemove
	default:
		return nil, fmt.Errorf("bfd operation %q: %w", e.Operation, ErrInvalidEvent)
	}
	return message.BfdSessionResponse{
		Endpoint:      ep,
		Discriminator: e.Discriminator,
		Operation:     op,
		Success:       e.Success,
	}, nil
}

func parseLinkStatus(s string) (model.LinkStatus, error) {
	switch strings.ToLower(s) {
	case "up":
		return model.LinkUp, nil
	case "down":
		return model.LinkDown, nil
	case "", "unknown":
		return model.LinkUnknown, nil
	default:
		return model.LinkUnknown, fmt.Errorf("link status %q: %w", s, ErrInvalidEvent)
	}
}

// toCommand converts an operator command. Switch commands need Endpoint,
// and bfd_create also needs Remote.
func toCommand(c *topoapi.Command) (message.Command, error) {
	switch c.Kind {
	case topoapi.CommandNetworkDump:
		return message.NetworkDumpRequest{}, nil
	case topoapi.CommandAliveRequest:
		return message.AliveRequest{}, nil
	case topoapi.CommandDiscoverIsl, topoapi.CommandBfdCreate, topoapi.CommandBfdRemove:
	default:
		return nil, fmt.Errorf("unknown command kind %q: %w", c.Kind, ErrInvalidCommand)
	}

	ep, err := commandEndpoint(c.Kind, "endpoint", c.Endpoint)
	if err != nil {
		return nil, err
	}

	switch c.Kind {
	case topoapi.CommandDiscoverIsl:
		return message.DiscoverIsl{Endpoint: ep, PacketNo: c.PacketNo}, nil
	case topoapi.CommandBfdRemove:
		return message.RemoveBfdSession{
			Endpoint:      ep,
			LogicalPort:   c.LogicalPort,
			Discriminator: c.Discriminator,
		}, nil
	}

	remote, err := commandEndpoint(c.Kind, "remote", c.Remote)
	if err != nil {
		return nil, err
	}
	return message.CreateBfdSession{
		Endpoint:      ep,
		LogicalPort:   c.LogicalPort,
		Remote:        remote,
		Discriminator: c.Discriminator,
		Interval:      c.Interval,
		Multiplier:    c.Multiplier,
	}, nil
}

func commandEndpoint(kind, field string, ep *topoapi.Endpoint) (model.Endpoint, error) {
	if ep == nil {
		return model.Endpoint{}, fmt.Errorf("%s without %s: %w", kind, field, ErrInvalidCommand)
	}
	sw, err := model.ParseSwitchID(ep.Switch)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("%s %s: %w: %w", kind, field, ErrInvalidCommand, err)
	}
	return model.NewEndpoint(sw, ep.Port), nil
}

// -------------------------------------------------------------------------
// Outbound
// -------------------------------------------------------------------------

func fromEndpoint(ep model.Endpoint) topoapi.Endpoint {
	return topoapi.Endpoint{Switch: ep.Datapath.String(), Port: ep.Port}
}

func endpointPtr(ep model.Endpoint) *topoapi.Endpoint {
	out := fromEndpoint(ep)
	return &out
}

func fromOutbound(msg message.Outbound) *topoapi.Command {
	cmd := &topoapi.Command{
		Region:        msg.Region,
		CorrelationID: msg.CorrelationID,
		Kind:          msg.Command.Kind(),
	}

	switch c := msg.Command.(type) {
	case message.DiscoverIsl:
		cmd.Endpoint = endpointPtr(c.Endpoint)
		cmd.PacketNo = c.PacketNo
	case message.CreateBfdSession:
		cmd.Endpoint = endpointPtr(c.Endpoint)
		cmd.LogicalPort = c.LogicalPort
		cmd.Remote = endpointPtr(c.Remote)
		cmd.Discriminator = c.Discriminator
		cmd.Interval = c.Interval
		cmd.Multiplier = c.Multiplier
	case message.RemoveBfdSession:
		cmd.Endpoint = endpointPtr(c.Endpoint)
		cmd.LogicalPort = c.LogicalPort
		cmd.Discriminator = c.Discriminator
	}

	return cmd
}

func fromIslEvent(ev engine.IslEvent) *topoapi.IslEvent {
	return &topoapi.IslEvent{
		Source:   fromEndpoint(ev.Reference.Source),
		Dest:     fromEndpoint(ev.Reference.Dest),
		OldState: ev.OldState.String(),
		NewState: ev.NewState.String(),
		Latency:  ev.Latency,
		Time:     ev.Time,
	}
}

// -------------------------------------------------------------------------
// Snapshots
// -------------------------------------------------------------------------

func fromSwitches(in []topology.SwitchSnapshot) []topoapi.Switch {
	out := make([]topoapi.Switch, 0, len(in))
	for _, s := range in {
		sw := topoapi.Switch{
			Switch: s.Switch.String(),
			State:  s.State.String(),
			Ports:  make([]topoapi.PortView, 0, len(s.Ports)),
		}
		for _, p := range s.Ports {
			sw.Ports = append(sw.Ports, topoapi.PortView{
				Port:   p.Endpoint.Port,
				Status: strings.ToLower(p.LinkStatus.String()),
			})
		}
		out = append(out, sw)
	}
	return out
}

func fromPorts(in []engine.PortStatus) []topoapi.Port {
	out := make([]topoapi.Port, 0, len(in))
	for _, p := range in {
		port := topoapi.Port{
			Endpoint:    fromEndpoint(p.Endpoint),
			State:       p.State.String(),
			LinkStatus:  strings.ToLower(p.LinkStatus.String()),
			UniIslState: p.UniIslState.String(),
			Watched:     p.Watched,
		}
		if p.Remote != nil {
			port.Remote = endpointPtr(*p.Remote)
		}
		out = append(out, port)
	}
	return out
}

func fromIsls(in []topology.IslSnapshot) []topoapi.Isl {
	out := make([]topoapi.Isl, 0, len(in))
	for _, i := range in {
		out = append(out, topoapi.Isl{
			Source:   fromEndpoint(i.Reference.Source),
			Dest:     fromEndpoint(i.Reference.Dest),
			State:    i.State.String(),
			SourceUp: i.SourceUp,
			DestUp:   i.DestUp,
			Status:   i.Status.String(),
			Latency:  i.Latency,
			Since:    i.Since,
		})
	}
	return out
}

func fromBfdPorts(in []topology.BfdPortSnapshot) []topoapi.BfdPort {
	out := make([]topoapi.BfdPort, 0, len(in))
	for _, b := range in {
		out = append(out, topoapi.BfdPort{
			Endpoint:      fromEndpoint(b.Endpoint),
			LogicalPort:   b.LogicalPort,
			State:         b.State.String(),
			Discriminator: b.Discriminator,
			Remote:        fromEndpoint(b.Remote),
			LinkUp:        b.LinkUp,
		})
	}
	return out
}

func fromRegions(in []engine.RegionStatus) []topoapi.Region {
	out := make([]topoapi.Region, 0, len(in))
	for _, r := range in {
		out = append(out, topoapi.Region{
			Name:          r.Name,
			Alive:         r.Alive,
			LastAlive:     r.LastAlive,
			Switches:      r.Switches,
			SyncState:     r.SyncState.String(),
			CorrelationID: r.CorrelationID,
			LastMessage:   r.LastMessage,
		})
	}
	return out
}
