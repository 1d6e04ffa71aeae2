package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gotopo/internal/dispatch"
)

// shard records the keys of the tasks it ran, in order.
type shard struct {
	seen []string
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{}
	}
	return out
}

func startPool(t *testing.T, p *dispatch.Pool[*shard]) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}
}

func TestNewRequiresShards(t *testing.T) {
	t.Parallel()

	if _, err := dispatch.New[*shard](nil); !errors.Is(err, dispatch.ErrNoShards) {
		t.Errorf("err = %v, want ErrNoShards", err)
	}
}

func TestSubmitSameKeyInOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		shards := newShards(4)
		p, err := dispatch.New(shards)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		stop := startPool(t, p)
		defer stop()

		for i := range 100 {
			key := fmt.Sprintf("key-%d", i%5)
			p.Submit(key, func(s *shard) {
				s.seen = append(s.seen, fmt.Sprintf("%s/%d", key, i))
			})
		}
		synctest.Wait()

		for k := range 5 {
			key := fmt.Sprintf("key-%d", k)
			s := shards[p.Index(key)]

			var got, want []string
			for _, v := range s.seen {
				if len(v) > len(key) && v[:len(key)+1] == key+"/" {
					got = append(got, v)
				}
			}
			for i := k; i < 100; i += 5 {
				want = append(want, fmt.Sprintf("%s/%d", key, i))
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%s order (-want +got):\n%s", key, diff)
			}
		}
	})
}

func TestIndexStable(t *testing.T) {
	t.Parallel()

	p, err := dispatch.New(newShards(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"00:00:00:00:00:00:00:01", "00:00:00:00:00:00:00:01-7", "region/east"} {
		first := p.Index(key)
		for range 10 {
			if got := p.Index(key); got != first {
				t.Fatalf("Index(%q) = %d then %d", key, first, got)
			}
		}
		if first < 0 || first >= p.Size() {
			t.Errorf("Index(%q) = %d out of range", key, first)
		}
	}
}

// TestCrossSubmitNoDeadlock has every task on one worker submit to another
// while that worker does the same in the opposite direction.
func TestCrossSubmitNoDeadlock(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, err := dispatch.New(newShards(2))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		stop := startPool(t, p)
		defer stop()

		var a, b string
		for i := range 64 {
			k := fmt.Sprintf("k%d", i)
			if p.Index(k) == 0 && a == "" {
				a = k
			}
			if p.Index(k) == 1 && b == "" {
				b = k
			}
		}
		if a == "" || b == "" {
			t.Skip("no keys for both workers")
		}

		var ran atomic.Int64
		var bounce func(from, to string, n int) func(*shard)
		bounce = func(from, to string, n int) func(*shard) {
			return func(*shard) {
				ran.Add(1)
				if n > 0 {
					p.Submit(to, bounce(to, from, n-1))
				}
			}
		}
		for range 1000 {
			p.Submit(a, bounce(a, b, 10))
			p.Submit(b, bounce(b, a, 10))
		}
		synctest.Wait()

		if got := ran.Load(); got != 2000*11 {
			t.Errorf("ran %d tasks, want %d", got, 2000*11)
		}
	})
}

type panicCounter struct{ n atomic.Int64 }

func (c *panicCounter) RecordTaskPanic() { c.n.Add(1) }

func TestPanicDoesNotKillWorker(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		shards := newShards(1)
		counter := &panicCounter{}
		p, err := dispatch.New(shards, dispatch.WithMetrics(counter))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		stop := startPool(t, p)
		defer stop()

		p.Submit("x", func(*shard) { panic("boom") })
		p.Submit("x", func(s *shard) { s.seen = append(s.seen, "after") })
		synctest.Wait()

		if diff := cmp.Diff([]string{"after"}, shards[0].seen); diff != "" {
			t.Errorf("seen (-want +got):\n%s", diff)
		}
		if counter.n.Load() != 1 {
			t.Errorf("panics = %d, want 1", counter.n.Load())
		}
	})
}

func TestBroadcastAndGather(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		shards := newShards(3)
		p, err := dispatch.New(shards)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		stop := startPool(t, p)
		defer stop()

		p.Broadcast(func(s *shard) { s.seen = append(s.seen, "tick") })

		got, err := dispatch.Gather(context.Background(), p, func(s *shard) int { return len(s.seen) })
		if err != nil {
			t.Fatalf("Gather: %v", err)
		}
		if diff := cmp.Diff([]int{1, 1, 1}, got); diff != "" {
			t.Errorf("gathered (-want +got):\n%s", diff)
		}
	})
}

func TestGatherHonoursContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, err := dispatch.New(newShards(2))
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		// Not running: the gather tasks stay queued.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err = dispatch.Gather(ctx, p, func(*shard) int { return 0 })
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
		if p.Pending() != 2 {
			t.Errorf("pending = %d, want 2", p.Pending())
		}
	})
}
