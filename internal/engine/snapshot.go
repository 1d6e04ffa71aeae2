package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dantte-lp/gotopo/internal/dispatch"
	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/speaker"
	"github.com/dantte-lp/gotopo/internal/topology"
)

// PortStatus combines the port and uni-ISL controllers of one endpoint.
type PortStatus struct {
	Endpoint    model.Endpoint
	State       topology.PortState
	LinkStatus  model.LinkStatus
	UniIslState topology.UniIslState
	Remote      *model.Endpoint
	Watched     bool
}

// RegionStatus combines a region's liveness with its sync machine.
type RegionStatus struct {
	Name          string
	Alive         bool
	LastAlive     time.Time
	Switches      int
	SyncState     speaker.State
	CorrelationID string
	LastMessage   time.Time
}

// gather collects one slice from every shard.
func gather[T any](ctx context.Context, e *Engine, fn func(*shard) []T) ([]T, error) {
	if !e.running.Load() {
		return nil, ErrNotRunning
	}
	parts, err := dispatch.Gather(ctx, e.pool, fn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return slices.Concat(parts...), nil
}

// Switches returns every switch controller ordered by switch id.
func (e *Engine) Switches(ctx context.Context) ([]topology.SwitchSnapshot, error) {
	out, err := gather(ctx, e, func(s *shard) []topology.SwitchSnapshot {
		return s.switches.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b topology.SwitchSnapshot) int { return cmp.Compare(a.Switch, b.Switch) })
	return out, nil
}

// Ports returns every port controller ordered by endpoint.
func (e *Engine) Ports(ctx context.Context) ([]PortStatus, error) {
	out, err := gather(ctx, e, func(s *shard) []PortStatus {
		uni := make(map[model.Endpoint]topology.UniIslSnapshot)
		for _, u := range s.uniIsls.Snapshot() {
			uni[u.Endpoint] = u
		}

		ports := s.ports.Snapshot()
		res := make([]PortStatus, 0, len(ports))
		for _, p := range ports {
			st := PortStatus{
				Endpoint:   p.Endpoint,
				State:      p.State,
				LinkStatus: p.LinkStatus,
				Watched:    s.watchList.IsWatched(p.Endpoint),
			}
			if u, ok := uni[p.Endpoint]; ok {
				st.UniIslState = u.State
				st.Remote = u.Remote
			}
			res = append(res, st)
		}
		return res
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b PortStatus) int { return a.Endpoint.Compare(b.Endpoint) })
	return out, nil
}

// Isls returns every ISL controller ordered by reference.
func (e *Engine) Isls(ctx context.Context) ([]topology.IslSnapshot, error) {
	out, err := gather(ctx, e, func(s *shard) []topology.IslSnapshot {
		return s.isls.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b topology.IslSnapshot) int {
		return cmp.Or(a.Reference.Source.Compare(b.Reference.Source), a.Reference.Dest.Compare(b.Reference.Dest))
	})
	return out, nil
}

// BfdPorts returns every BFD-port controller ordered by endpoint.
func (e *Engine) BfdPorts(ctx context.Context) ([]topology.BfdPortSnapshot, error) {
	out, err := gather(ctx, e, func(s *shard) []topology.BfdPortSnapshot {
		return s.bfdPorts.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b topology.BfdPortSnapshot) int { return a.Endpoint.Compare(b.Endpoint) })
	return out, nil
}

// Regions returns the status of every configured region ordered by name.
func (e *Engine) Regions(ctx context.Context) ([]RegionStatus, error) {
	syncs, err := gather(ctx, e, func(s *shard) []speaker.Status {
		res := make([]speaker.Status, 0, len(s.monitors))
		for _, m := range s.monitors {
			res = append(res, m.Status())
		}
		return res
	})
	if err != nil {
		return nil, err
	}
	byName := make(map[string]speaker.Status, len(syncs))
	for _, st := range syncs {
		byName[st.Region] = st
	}

	regions := e.router.Tracker().Regions()
	out := make([]RegionStatus, 0, len(regions))
	for _, r := range regions {
		sync := byName[r.Name]
		out = append(out, RegionStatus{
			Name:          r.Name,
			Alive:         r.Alive,
			LastAlive:     r.LastAlive,
			Switches:      r.Switches,
			SyncState:     sync.State,
			CorrelationID: sync.CorrelationID,
			LastMessage:   sync.LastMessage,
		})
	}
	return out, nil
}

// Discriminators returns the number of BFD discriminators in use.
func (e *Engine) Discriminators() int {
	return e.alloc.Len()
}
