package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/region"
	"github.com/dantte-lp/gotopo/internal/topology"
)

// emitter is the carrier handed to every controller. Each output becomes a
// task on the worker owning the receiving entity, stamped with the logical
// time of the event that produced it.
type emitter struct {
	e   *Engine
	now time.Time
}

var (
	_ topology.SwitchCarrier  = (*emitter)(nil)
	_ topology.PortCarrier    = (*emitter)(nil)
	_ topology.UniIslCarrier  = (*emitter)(nil)
	_ topology.IslCarrier     = (*emitter)(nil)
	_ topology.BfdPortCarrier = (*emitter)(nil)
)

func (em *emitter) onSwitch(id model.SwitchID, task func(*shard)) {
	em.e.pool.Submit(switchKey(id), task)
}

func (em *emitter) onEndpoint(ep model.Endpoint, task func(*shard)) {
	em.e.pool.Submit(endpointKey(ep), task)
}

func (em *emitter) onIsl(ref model.IslReference, task func(*shard)) {
	em.e.pool.Submit(islKey(ref), task)
}

// fail logs err at a level matching its class. Orphan events are expected
// after restarts and outages; anything else is a broken invariant.
func (em *emitter) fail(op string, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}
	attrs = append(attrs, slog.String("op", op), slog.String("error", err.Error()))

	if kind, ok := orphanKind(err); ok {
		em.e.metrics.RecordOrphan(kind)
		em.e.logger.LogAttrs(em.e.ctx, slog.LevelDebug, "orphan event dropped", attrs...)
		return
	}
	if errors.Is(err, topology.ErrUnhandledEvent) {
		em.e.logger.LogAttrs(em.e.ctx, slog.LevelDebug, "event not handled", attrs...)
		return
	}
	em.e.logger.LogAttrs(em.e.ctx, slog.LevelError, "event dropped", attrs...)
}

func orphanKind(err error) (string, bool) {
	switch {
	case errors.Is(err, topology.ErrUnknownSwitch):
		return "switch", true
	case errors.Is(err, topology.ErrUnknownUniIsl):
		return "uni_isl", true
	case errors.Is(err, topology.ErrUnknownIsl):
		return "isl", true
	case errors.Is(err, topology.ErrUnknownBfdPort):
		return "bfd_port", true
	case errors.Is(err, region.ErrNoRegion):
		return "no_region", true
	case errors.Is(err, region.ErrRegionDead):
		return "region_dead", true
	default:
		return "", false
	}
}

func (em *emitter) send(cmd message.SwitchCommand) {
	if err := em.e.router.SendToSwitch(em.e.ctx, cmd); err != nil {
		em.fail("send "+cmd.Kind(), err, slog.String("switch", cmd.Target().String()))
	}
}

// -------------------------------------------------------------------------
// Switch controller output
// -------------------------------------------------------------------------

// SetupPortHandler implements topology.SwitchCarrier.
func (em *emitter) SetupPortHandler(facts model.PortFacts, history *model.Isl) {
	em.onEndpoint(facts.Endpoint, func(s *shard) {
		s.ports.Setup(em, facts, history)
	})
}

// RemovePortHandler implements topology.SwitchCarrier.
func (em *emitter) RemovePortHandler(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("remove port", s.ports.Remove(em, ep), endpointAttr(ep))
	})
}

// SetOnlineMode implements topology.SwitchCarrier.
func (em *emitter) SetOnlineMode(ep model.Endpoint, online bool) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("set online mode", s.ports.SetOnlineMode(em, ep, online), endpointAttr(ep))
	})
}

// SetPortLinkMode implements topology.SwitchCarrier.
func (em *emitter) SetPortLinkMode(ep model.Endpoint, status model.LinkStatus) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("set link status", s.ports.SetLinkStatus(em, ep, status), endpointAttr(ep))
	})
}

// SetupBfdPortHandler implements topology.SwitchCarrier.
func (em *emitter) SetupBfdPortHandler(ep model.Endpoint, logicalPort, discriminator uint32) {
	em.onEndpoint(ep, func(s *shard) {
		s.bfdPorts.Setup(em, ep, logicalPort, discriminator, em.now)
	})
}

// RemoveBfdPortHandler implements topology.SwitchCarrier.
func (em *emitter) RemoveBfdPortHandler(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("remove bfd port", s.bfdPorts.Remove(em, ep), endpointAttr(ep))
	})
}

// SetBfdPortLinkMode implements topology.SwitchCarrier.
func (em *emitter) SetBfdPortLinkMode(ep model.Endpoint, status model.LinkStatus) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("set bfd link status", s.bfdPorts.PortStatus(em, ep, status, em.now), endpointAttr(ep))
	})
}

// -------------------------------------------------------------------------
// Port controller output
// -------------------------------------------------------------------------

// SetupUniIslHandler implements topology.PortCarrier.
func (em *emitter) SetupUniIslHandler(ep model.Endpoint, history *model.Isl) {
	em.onEndpoint(ep, func(s *shard) {
		s.uniIsls.Setup(ep, history)
	})
}

// RemoveUniIslHandler implements topology.PortCarrier.
func (em *emitter) RemoveUniIslHandler(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		s.forgetEndpoint(ep)
		em.fail("remove uni-isl", s.uniIsls.Remove(em, ep), endpointAttr(ep))
	})
}

// EnableDiscoveryPoll implements topology.PortCarrier.
func (em *emitter) EnableDiscoveryPoll(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		s.watchList.Add(em, ep, em.now)
	})
}

// DisableDiscoveryPoll implements topology.PortCarrier.
func (em *emitter) DisableDiscoveryPoll(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		s.watchList.Remove(ep)
		s.watcher.Remove(ep)
	})
}

// NotifyPortPhysicalDown implements topology.PortCarrier.
func (em *emitter) NotifyPortPhysicalDown(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("physical down", s.uniIsls.PhysicalDown(em, ep), endpointAttr(ep))
	})
}

// -------------------------------------------------------------------------
// Liveness output
// -------------------------------------------------------------------------

// DiscoveryRequest implements liveness.WatchListCarrier.
func (em *emitter) DiscoveryRequest(ep model.Endpoint, now time.Time) {
	em.onEndpoint(ep, func(s *shard) {
		s.watcher.Probe(em, ep, now)
	})
}

// SendDiscovery implements liveness.WatcherCarrier.
func (em *emitter) SendDiscovery(ep model.Endpoint, packetNo uint64) {
	em.e.metrics.RecordProbeSent()
	em.send(message.DiscoverIsl{Endpoint: ep, PacketNo: packetNo})
}

// Discovered implements liveness.WatcherCarrier.
func (em *emitter) Discovered(ep model.Endpoint, facts model.DiscoveryFacts, now time.Time) {
	em.onEndpoint(ep, func(s *shard) {
		s.decisions.Discovered(em, ep, facts, now)
	})
}

// Failed implements liveness.WatcherCarrier.
func (em *emitter) Failed(ep model.Endpoint, now time.Time) {
	em.e.metrics.RecordProbeFailure()
	em.onEndpoint(ep, func(s *shard) {
		s.decisions.Failed(em, ep, now)
	})
}

// LinkDiscovered implements liveness.DecisionCarrier.
func (em *emitter) LinkDiscovered(ep model.Endpoint, facts model.DiscoveryFacts) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("discovery", s.uniIsls.Discovery(em, ep, facts), endpointAttr(ep))
	})
}

// LinkFailed implements liveness.DecisionCarrier.
func (em *emitter) LinkFailed(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("discovery failed", s.uniIsls.Fail(em, ep), endpointAttr(ep))
	})
}

// -------------------------------------------------------------------------
// Uni-ISL controller output
// -------------------------------------------------------------------------

// NotifyIslUp implements topology.UniIslCarrier.
func (em *emitter) NotifyIslUp(ep model.Endpoint, facts model.DiscoveryFacts) {
	em.onIsl(facts.Reference, func(s *shard) {
		em.fail("isl up", s.isls.IslUp(em, ep, facts, em.now), endpointAttr(ep))
	})
}

// NotifyIslDown implements topology.UniIslCarrier.
func (em *emitter) NotifyIslDown(ep model.Endpoint, ref model.IslReference) {
	em.onIsl(ref, func(s *shard) {
		em.fail("isl down", s.isls.IslDown(em, ep, ref), endpointAttr(ep))
	})
}

// NotifyIslMove implements topology.UniIslCarrier.
func (em *emitter) NotifyIslMove(ep model.Endpoint, ref model.IslReference) {
	em.onIsl(ref, func(s *shard) {
		em.fail("isl move", s.isls.IslMove(em, ep, ref), endpointAttr(ep))
	})
}

// -------------------------------------------------------------------------
// ISL controller output
// -------------------------------------------------------------------------

// PersistIslStatus implements topology.IslCarrier.
func (em *emitter) PersistIslStatus(ref model.IslReference, status model.IslStatus) {
	em.e.writer.persistIsl(ref, status)
}

// NotifyBiIslUp implements topology.IslCarrier. Endpoints without BFD
// support have no BFD-port controller and ignore it.
func (em *emitter) NotifyBiIslUp(ep model.Endpoint, ref model.IslReference) {
	em.onEndpoint(ep, func(s *shard) {
		if _, ok := s.bfdPorts.State(ep); !ok {
			return
		}
		em.fail("bi-isl up", s.bfdPorts.BiIslUp(em, ep, ref, em.now), endpointAttr(ep))
	})
}

// NotifyBiIslMove implements topology.IslCarrier.
func (em *emitter) NotifyBiIslMove(ep model.Endpoint, ref model.IslReference) {
	em.onEndpoint(ep, func(s *shard) {
		if _, ok := s.bfdPorts.State(ep); !ok {
			return
		}
		em.fail("bi-isl move", s.bfdPorts.BiIslMove(em, ep, ref, em.now), endpointAttr(ep))
	})
}

// IslStateChanged implements topology.IslCarrier.
func (em *emitter) IslStateChanged(change topology.IslStateChange) {
	em.e.events.publish(IslEvent{
		Reference: change.Reference,
		OldState:  change.OldState,
		NewState:  change.NewState,
		Latency:   change.Latency,
		Time:      em.now,
	})
}

// -------------------------------------------------------------------------
// BFD-port controller output
// -------------------------------------------------------------------------

// CreateBfdSession implements topology.BfdPortCarrier.
func (em *emitter) CreateBfdSession(cmd message.CreateBfdSession) {
	em.send(cmd)
}

// RemoveBfdSession implements topology.BfdPortCarrier.
func (em *emitter) RemoveBfdSession(cmd message.RemoveBfdSession) {
	em.send(cmd)
}

// NotifyBfdUp implements topology.BfdPortCarrier.
func (em *emitter) NotifyBfdUp(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("bfd up", s.uniIsls.BfdUp(em, ep), endpointAttr(ep))
	})
}

// NotifyBfdDown implements topology.BfdPortCarrier.
func (em *emitter) NotifyBfdDown(ep model.Endpoint) {
	em.onEndpoint(ep, func(s *shard) {
		em.fail("bfd down", s.uniIsls.BfdDown(em, ep), endpointAttr(ep))
	})
}

// SaveDiscriminator implements topology.BfdPortCarrier.
func (em *emitter) SaveDiscriminator(ep model.Endpoint, discriminator uint32) {
	em.e.writer.saveBfdSession(model.BfdSession{Endpoint: ep, Discriminator: discriminator})
}

// ClearDiscriminator implements topology.BfdPortCarrier.
func (em *emitter) ClearDiscriminator(ep model.Endpoint) {
	em.e.writer.deleteBfdSession(ep)
}

// -------------------------------------------------------------------------
// Sync machine output
// -------------------------------------------------------------------------

// RequestDump implements speaker.Carrier.
func (em *emitter) RequestDump(regionName, correlationID string) {
	err := em.e.router.SendRequest(em.e.ctx, regionName, message.NetworkDumpRequest{}, correlationID, em.now)
	em.fail("request dump", err, slog.String("region", regionName))
}

// ShareSync implements speaker.Carrier. Every switch in the dump is
// (re)activated; switches the region owned that are missing from it go
// offline.
func (em *emitter) ShareSync(regionName string, switches []message.SwitchView) {
	tracker := em.e.router.Tracker()
	present := make(map[model.SwitchID]struct{}, len(switches))

	for _, view := range switches {
		present[view.Switch] = struct{}{}
		if err := tracker.UpdateSwitchRegion(view.Switch, regionName); err != nil {
			em.fail("sync switch", err, slog.String("switch", view.Switch.String()))
			continue
		}
		em.e.writer.saveSwitch(view.Switch)
		em.onSwitch(view.Switch, func(s *shard) {
			s.switches.Activated(em, view)
		})
	}

	for _, id := range tracker.SwitchesIn(regionName) {
		if _, ok := present[id]; ok {
			continue
		}
		em.onSwitch(id, func(s *shard) {
			s.switches.Unmanaged(em, []model.SwitchID{id})
		})
	}
}

// Forward implements speaker.Carrier.
func (em *emitter) Forward(msg message.Inbound) {
	switch ev := msg.Event.(type) {
	case message.SwitchEvent:
		em.forwardSwitch(ev)
	case message.PortEvent:
		em.onSwitch(ev.Endpoint.Datapath, func(s *shard) {
			em.fail("port event", s.switches.PortEvent(em, ev.Endpoint, ev.State), endpointAttr(ev.Endpoint))
		})
	case message.DiscoveryEvent:
		em.forwardDiscovery(ev)
	case message.BfdSessionStatus:
		status := model.LinkDown
		if ev.Up {
			status = model.LinkUp
		}
		em.onEndpoint(ev.Endpoint, func(s *shard) {
			em.fail("bfd status", s.bfdPorts.PortStatus(em, ev.Endpoint, status, em.now), endpointAttr(ev.Endpoint))
		})
	case message.BfdSessionResponse:
		em.onEndpoint(ev.Endpoint, func(s *shard) {
			em.fail("bfd response", s.bfdPorts.SpeakerResponse(em, ev, em.now), endpointAttr(ev.Endpoint))
		})
	default:
		em.e.logger.Debug("event not routed",
			slog.String("region", msg.Region),
			slog.String("kind", msg.Event.Kind()),
		)
	}
}

func (em *emitter) forwardSwitch(ev message.SwitchEvent) {
	switch ev.State {
	case message.SwitchActivated:
		if ev.View == nil {
			// Without a port report there is nothing to reconcile against.
			em.e.logger.Warn("switch activation without view dropped",
				slog.String("switch", ev.Switch.String()))
			return
		}
		view := *ev.View
		em.e.writer.saveSwitch(ev.Switch)
		em.onSwitch(ev.Switch, func(s *shard) {
			s.switches.Activated(em, view)
		})
	case message.SwitchDeactivated:
		em.onSwitch(ev.Switch, func(s *shard) {
			em.fail("deactivate switch", s.switches.Deactivated(em, ev.Switch),
				slog.String("switch", ev.Switch.String()))
		})
	}
}

func (em *emitter) forwardDiscovery(ev message.DiscoveryEvent) {
	if ev.Failed {
		// Misses are detected by the probe deadline.
		return
	}
	facts := model.DiscoveryFacts{
		Reference: model.NewIslReference(ev.Source, ev.Dest),
		Latency:   ev.Latency,
	}
	em.onEndpoint(ev.Source, func(s *shard) {
		if !s.watcher.Confirm(em, ev.Source, ev.PacketNo, facts, em.now) {
			em.e.logger.Debug("late or unknown discovery confirmation",
				endpointAttr(ev.Source),
				slog.Uint64("packet_no", ev.PacketNo),
			)
		}
	})
}

// Unmanaged implements speaker.Carrier.
func (em *emitter) Unmanaged(regionName string) {
	for _, id := range em.e.router.Tracker().SwitchesIn(regionName) {
		em.onSwitch(id, func(s *shard) {
			s.switches.Unmanaged(em, []model.SwitchID{id})
		})
	}
}
