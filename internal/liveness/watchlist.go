// Package liveness implements active ISL probing: the poll schedule that
// decides when an endpoint is probed, the watcher that tracks outstanding
// probes against their deadlines, and the decision maker that debounces
// missed probes into link failures.
//
// All three components are driven by logical tick time and belong to a
// single worker; none of them is safe for concurrent use.
package liveness

import (
	"time"

	"github.com/dantte-lp/gotopo/internal/deadline"
	"github.com/dantte-lp/gotopo/internal/model"
)

// WatchListCarrier receives probe requests from a WatchList.
type WatchListCarrier interface {
	DiscoveryRequest(ep model.Endpoint, now time.Time)
}

// WatchList keeps the set of endpoints with discovery polling enabled and
// requests a probe for each of them once per interval.
type WatchList struct {
	interval time.Duration
	watched  map[model.Endpoint]struct{}
	due      *deadline.Schedule[model.Endpoint]
}

// NewWatchList creates a WatchList polling every interval.
func NewWatchList(interval time.Duration) *WatchList {
	return &WatchList{
		interval: interval,
		watched:  make(map[model.Endpoint]struct{}),
		due:      deadline.New[model.Endpoint](),
	}
}

// Add enables polling for ep. The first probe is requested immediately.
// Adding an already watched endpoint is a no-op.
func (w *WatchList) Add(out WatchListCarrier, ep model.Endpoint, now time.Time) {
	if _, ok := w.watched[ep]; ok {
		return
	}
	w.watched[ep] = struct{}{}

	out.DiscoveryRequest(ep, now)
	w.due.Add(ep, now.Add(w.interval))
}

// Remove disables polling for ep and drops its pending schedule entry.
func (w *WatchList) Remove(ep model.Endpoint) {
	delete(w.watched, ep)
	w.due.Remove(ep)
}

// IsWatched reports whether polling is enabled for ep.
func (w *WatchList) IsWatched(ep model.Endpoint) bool {
	_, ok := w.watched[ep]
	return ok
}

// Len returns the number of watched endpoints.
func (w *WatchList) Len() int {
	return len(w.watched)
}

// Tick requests a probe for every watched endpoint whose poll is due and
// schedules its next poll.
func (w *WatchList) Tick(out WatchListCarrier, now time.Time) {
	for _, ep := range w.due.Expire(now) {
		if _, ok := w.watched[ep]; !ok {
			continue
		}
		out.DiscoveryRequest(ep, now)
		w.due.Add(ep, now.Add(w.interval))
	}
}
