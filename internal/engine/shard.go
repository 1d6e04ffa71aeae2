package engine

import (
	"log/slog"
	"time"

	"github.com/dantte-lp/gotopo/internal/liveness"
	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/speaker"
	"github.com/dantte-lp/gotopo/internal/topology"
)

// shard is the state owned by one worker. Only tasks running on that worker
// touch it.
type shard struct {
	switches  *topology.SwitchService
	ports     *topology.PortService
	uniIsls   *topology.UniIslService
	isls      *topology.IslService
	bfdPorts  *topology.BfdPortService
	watchList *liveness.WatchList
	watcher   *liveness.Watcher
	decisions *liveness.DecisionMaker
	monitors  map[string]*speaker.Monitor
}

func newShard(cfg Config, alloc *topology.DiscriminatorAllocator, opts []topology.Option) *shard {
	return &shard{
		switches:  topology.NewSwitchService(cfg.LogicalPortOffset, opts...),
		ports:     topology.NewPortService(opts...),
		uniIsls:   topology.NewUniIslService(opts...),
		isls:      topology.NewIslService(opts...),
		bfdPorts:  topology.NewBfdPortService(alloc, cfg.Bfd, opts...),
		watchList: liveness.NewWatchList(cfg.ProbeInterval),
		watcher:   liveness.NewWatcher(cfg.ProbeTimeout),
		decisions: liveness.NewDecisionMaker(cfg.ProbeTimeout, cfg.FailWindow),
		monitors:  make(map[string]*speaker.Monitor),
	}
}

// tick runs every timer of the shard at now.
func (s *shard) tick(em *emitter, now time.Time) {
	s.watchList.Tick(em, now)
	s.watcher.Tick(em, now)
	s.bfdPorts.Tick(em, now)
	for _, m := range s.monitors {
		m.Tick(em, now)
	}
}

// forgetEndpoint drops the probe state of ep.
func (s *shard) forgetEndpoint(ep model.Endpoint) {
	s.watchList.Remove(ep)
	s.watcher.Remove(ep)
	s.decisions.Remove(ep)
}

// -------------------------------------------------------------------------
// Dispatch keys
// -------------------------------------------------------------------------

func switchKey(id model.SwitchID) string { return "sw/" + id.String() }

func endpointKey(ep model.Endpoint) string { return "ep/" + ep.String() }

func islKey(ref model.IslReference) string { return "isl/" + ref.String() }

func regionKey(name string) string { return "region/" + name }

func endpointAttr(ep model.Endpoint) slog.Attr { return slog.String("endpoint", ep.String()) }
