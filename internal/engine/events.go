package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/topology"
)

// IslEvent is one ISL controller transition as seen by subscribers.
type IslEvent struct {
	Reference model.IslReference
	OldState  topology.IslState
	NewState  topology.IslState
	Latency   time.Duration
	Time      time.Time
}

// islEventHub fans ISL events out to subscribers without blocking the
// publishing worker.
type islEventHub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan IslEvent
	closed bool
	logger *slog.Logger
}

func newIslEventHub(logger *slog.Logger) *islEventHub {
	return &islEventHub{
		subs:   make(map[int]chan IslEvent),
		logger: logger.With(slog.String("component", "engine.events")),
	}
}

func (h *islEventHub) subscribe(buffer int) (<-chan IslEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan IslEvent, max(buffer, 1))
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *islEventHub) publish(ev IslEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("isl event subscriber lagging, event dropped",
				slog.Int("subscriber", id),
				slog.String("isl", ev.Reference.String()),
			)
		}
	}
}

func (h *islEventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
