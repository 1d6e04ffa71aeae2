// Package dispatch runs tasks on a fixed set of workers, each owning one
// shard of state. Tasks submitted under the same key always run on the same
// worker, one at a time and in submission order, so the shard needs no
// locking.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// ErrNoShards indicates a pool was created without shards.
var ErrNoShards = errors.New("dispatch pool needs at least one shard")

// MetricsReporter receives worker pool events. It is satisfied by
// *metrics.Collector.
type MetricsReporter interface {
	RecordTaskPanic()
}

type noopMetrics struct{}

func (noopMetrics) RecordTaskPanic() {}

// Option configures a Pool.
type Option func(*poolOptions)

type poolOptions struct {
	logger  *slog.Logger
	metrics MetricsReporter
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *poolOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(o *poolOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// -------------------------------------------------------------------------
// Worker
// -------------------------------------------------------------------------

// worker owns one shard and an unbounded mailbox. The mailbox never blocks
// the submitter: tasks emitted by one worker for another must not be able to
// deadlock the pair.
type worker[S any] struct {
	id    int
	shard S

	mu    sync.Mutex
	queue []func(S)
	wake  chan struct{}
}

func (w *worker[S]) push(task func(S)) {
	w.mu.Lock()
	w.queue = append(w.queue, task)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker[S]) take() []func(S) {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch := w.queue
	w.queue = nil
	return batch
}

func (w *worker[S]) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.queue)
}

// -------------------------------------------------------------------------
// Pool
// -------------------------------------------------------------------------

// Pool dispatches tasks to workers by key.
type Pool[S any] struct {
	workers []*worker[S]
	metrics MetricsReporter
	logger  *slog.Logger
}

// New creates a pool with one worker per shard. Workers do not run until
// Run is called; tasks submitted before that are queued.
func New[S any](shards []S, opts ...Option) (*Pool[S], error) {
	if len(shards) == 0 {
		return nil, ErrNoShards
	}

	o := poolOptions{logger: slog.Default(), metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[S]{
		workers: make([]*worker[S], len(shards)),
		metrics: o.metrics,
		logger:  o.logger.With(slog.String("component", "dispatch.pool")),
	}
	for i, s := range shards {
		p.workers[i] = &worker[S]{id: i, shard: s, wake: make(chan struct{}, 1)}
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool[S]) Size() int { return len(p.workers) }

// Index returns the worker a key is dispatched to.
func (p *Pool[S]) Index(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.workers)))
}

// Submit queues task on the worker owning key.
func (p *Pool[S]) Submit(key string, task func(S)) {
	p.workers[p.Index(key)].push(task)
}

// Broadcast queues task on every worker.
func (p *Pool[S]) Broadcast(task func(S)) {
	for _, w := range p.workers {
		w.push(task)
	}
}

// Pending returns the number of queued tasks across all workers.
func (p *Pool[S]) Pending() int {
	n := 0
	for _, w := range p.workers {
		n += w.pending()
	}
	return n
}

// Run starts the workers and blocks until ctx is cancelled. Tasks still
// queued at that point are discarded.
func (p *Pool[S]) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			p.loop(ctx, w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatch pool: %w", err)
	}
	return nil
}

func (p *Pool[S]) loop(ctx context.Context, w *worker[S]) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		for {
			batch := w.take()
			if len(batch) == 0 {
				break
			}
			for _, task := range batch {
				if ctx.Err() != nil {
					return
				}
				p.exec(w, task)
			}
		}
	}
}

func (p *Pool[S]) exec(w *worker[S], task func(S)) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)

			p.metrics.RecordTaskPanic()
			p.logger.Error("panic recovered in dispatched task",
				slog.Int("worker", w.id),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
		}
	}()

	task(w.shard)
}

// Gather runs fn on every shard and returns the results in worker order. It
// waits for every worker or for ctx.
func Gather[S, R any](ctx context.Context, p *Pool[S], fn func(S) R) ([]R, error) {
	type result struct {
		idx int
		val R
	}

	results := make(chan result, len(p.workers))
	for i, w := range p.workers {
		w.push(func(s S) {
			var val R
			defer func() { results <- result{idx: i, val: val} }()
			val = fn(s)
		})
	}

	out := make([]R, len(p.workers))
	for range p.workers {
		select {
		case r := <-results:
			out[r.idx] = r.val
		case <-ctx.Done():
			return nil, fmt.Errorf("gather: %w", ctx.Err())
		}
	}
	return out, nil
}
