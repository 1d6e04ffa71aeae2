package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/store"
)

// drainTimeout bounds the writes flushed after shutdown.
const drainTimeout = 5 * time.Second

type persistOp struct {
	name string
	run  func(ctx context.Context, repo store.Repository) error
}

// persistWriter applies repository writes in order on one goroutine so that
// workers never block on storage. A full queue drops the write.
type persistWriter struct {
	repo    store.Repository
	queue   chan persistOp
	metrics MetricsReporter
	logger  *slog.Logger
}

func newPersistWriter(repo store.Repository, size int, metrics MetricsReporter, logger *slog.Logger) *persistWriter {
	return &persistWriter{
		repo:    repo,
		queue:   make(chan persistOp, size),
		metrics: metrics,
		logger:  logger.With(slog.String("component", "engine.persist")),
	}
}

func (w *persistWriter) enqueue(op persistOp) {
	select {
	case w.queue <- op:
	default:
		w.metrics.RecordPersistDropped()
		w.logger.Warn("persistence queue full, write dropped", slog.String("op", op.name))
	}
}

func (w *persistWriter) persistIsl(ref model.IslReference, status model.IslStatus) {
	w.enqueue(persistOp{
		name: "isl " + ref.String() + " " + status.String(),
		run: func(ctx context.Context, repo store.Repository) error {
			return repo.PersistIslStatus(ctx, ref, status)
		},
	})
}

func (w *persistWriter) saveSwitch(id model.SwitchID) {
	w.enqueue(persistOp{
		name: "switch " + id.String(),
		run: func(ctx context.Context, repo store.Repository) error {
			return repo.SaveSwitch(ctx, id)
		},
	})
}

func (w *persistWriter) saveBfdSession(s model.BfdSession) {
	w.enqueue(persistOp{
		name: "bfd session " + s.Endpoint.String(),
		run: func(ctx context.Context, repo store.Repository) error {
			return repo.SaveBfdSession(ctx, s)
		},
	})
}

func (w *persistWriter) deleteBfdSession(ep model.Endpoint) {
	w.enqueue(persistOp{
		name: "clear bfd session " + ep.String(),
		run: func(ctx context.Context, repo store.Repository) error {
			return repo.DeleteBfdSession(ctx, ep)
		},
	})
}

// run applies queued writes until ctx is cancelled, then flushes what is
// already queued within drainTimeout.
func (w *persistWriter) run(ctx context.Context) error {
	for {
		select {
		case op := <-w.queue:
			w.apply(ctx, op)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			w.drain(drainCtx)
			return nil
		}
	}
}

func (w *persistWriter) drain(ctx context.Context) {
	for {
		select {
		case op := <-w.queue:
			w.apply(ctx, op)
		default:
			return
		}
	}
}

func (w *persistWriter) apply(ctx context.Context, op persistOp) {
	if err := op.run(ctx, w.repo); err != nil {
		w.logger.Warn("persistence write failed",
			slog.String("op", op.name),
			slog.String("error", err.Error()),
		)
	}
}
