package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gotopo/internal/message"
)

// CommandHub is the engine's outbound transport. It hands every command to
// the WatchCommands streams subscribed to the command's region.
//
// Publish never blocks the engine worker that calls it: a subscriber whose
// buffer is full misses the command, and a command for a region nobody
// watches is dropped. The engine recovers from both through request
// timeouts and region resynchronization.
type CommandHub struct {
	mu     sync.Mutex
	next   int
	subs   map[string]map[int]chan message.Outbound
	buffer int
	logger *slog.Logger
}

// NewCommandHub creates a hub whose subscribers buffer up to buffer
// commands each.
func NewCommandHub(buffer int, logger *slog.Logger) *CommandHub {
	return &CommandHub{
		subs:   make(map[string]map[int]chan message.Outbound),
		buffer: max(buffer, 1),
		logger: logger.With(slog.String("component", "server.commands")),
	}
}

// Publish implements region.Publisher.
func (h *CommandHub) Publish(_ context.Context, msg message.Outbound) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[msg.Region]
	if len(subs) == 0 {
		h.logger.Debug("no subscriber for region, command dropped",
			slog.String("region", msg.Region),
			slog.String("command", msg.Command.Kind()),
		)
		return nil
	}

	for id, ch := range subs {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("command subscriber lagging, command dropped",
				slog.String("region", msg.Region),
				slog.Int("subscriber", id),
				slog.String("command", msg.Command.Kind()),
			)
		}
	}
	return nil
}

// Subscribe registers a subscriber for region. The returned cancel func
// unregisters it and closes the channel.
func (h *CommandHub) Subscribe(region string) (<-chan message.Outbound, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++

	ch := make(chan message.Outbound, h.buffer)
	if h.subs[region] == nil {
		h.subs[region] = make(map[int]chan message.Outbound)
	}
	h.subs[region][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs[region], id)
			if len(h.subs[region]) == 0 {
				delete(h.subs, region)
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers of region.
func (h *CommandHub) Subscribers(region string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[region])
}
