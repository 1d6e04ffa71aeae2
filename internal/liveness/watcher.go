package liveness

import (
	"time"

	"github.com/dantte-lp/gotopo/internal/deadline"
	"github.com/dantte-lp/gotopo/internal/model"
)

// WatcherCarrier receives the output of a Watcher.
type WatcherCarrier interface {
	// SendDiscovery asks the switch to emit probe packetNo from ep.
	SendDiscovery(ep model.Endpoint, packetNo uint64)
	// Discovered reports a confirmed probe.
	Discovered(ep model.Endpoint, facts model.DiscoveryFacts, now time.Time)
	// Failed reports a probe that was still pending at its deadline.
	Failed(ep model.Endpoint, now time.Time)
}

type probe struct {
	endpoint model.Endpoint
	packetNo uint64
}

// Watcher sends discovery probes and tracks each one until it is confirmed
// or its deadline passes.
type Watcher struct {
	timeout  time.Duration
	packetNo uint64
	pending  *deadline.Schedule[probe]
	byPort   map[model.Endpoint]map[uint64]struct{}
}

// NewWatcher creates a Watcher that waits timeout for each confirmation.
func NewWatcher(timeout time.Duration) *Watcher {
	return &Watcher{
		timeout: timeout,
		pending: deadline.New[probe](),
		byPort:  make(map[model.Endpoint]map[uint64]struct{}),
	}
}

// Probe sends one probe from ep and arms its deadline at now+timeout.
// It returns the probe sequence number.
func (w *Watcher) Probe(out WatcherCarrier, ep model.Endpoint, now time.Time) uint64 {
	w.packetNo++
	p := probe{endpoint: ep, packetNo: w.packetNo}

	w.pending.Add(p, now.Add(w.timeout))
	set, ok := w.byPort[ep]
	if !ok {
		set = make(map[uint64]struct{})
		w.byPort[ep] = set
	}
	set[p.packetNo] = struct{}{}

	out.SendDiscovery(ep, p.packetNo)

	return p.packetNo
}

// Confirm handles the echo of probe packetNo sent from ep. A probe that is
// no longer pending (swept, cancelled, or never sent) is ignored and Confirm
// returns false.
func (w *Watcher) Confirm(out WatcherCarrier, ep model.Endpoint, packetNo uint64, facts model.DiscoveryFacts, now time.Time) bool {
	p := probe{endpoint: ep, packetNo: packetNo}
	if !w.pending.Contains(p) {
		return false
	}
	w.forget(p)

	out.Discovered(ep, facts, now)
	return true
}

// Remove cancels every pending probe of ep.
func (w *Watcher) Remove(ep model.Endpoint) {
	for packetNo := range w.byPort[ep] {
		w.pending.Remove(probe{endpoint: ep, packetNo: packetNo})
	}
	delete(w.byPort, ep)
}

// Pending returns the number of outstanding probes.
func (w *Watcher) Pending() int {
	return w.pending.Len()
}

// Tick sweeps every probe whose deadline is at or before now and reports it
// as failed.
func (w *Watcher) Tick(out WatcherCarrier, now time.Time) {
	for _, p := range w.pending.Expire(now) {
		w.dropIndex(p)
		out.Failed(p.endpoint, now)
	}
}

func (w *Watcher) forget(p probe) {
	w.pending.Remove(p)
	w.dropIndex(p)
}

func (w *Watcher) dropIndex(p probe) {
	set := w.byPort[p.endpoint]
	delete(set, p.packetNo)
	if len(set) == 0 {
		delete(w.byPort, p.endpoint)
	}
}
