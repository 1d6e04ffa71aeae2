package topology_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/dantte-lp/gotopo/internal/topology"
)

func TestNewDiscriminatorAllocatorBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lo, hi  uint32
		wantErr bool
	}{
		{"single", 1, 1, false},
		{"wide", 1, 0xFFFFFFFF, false},
		{"zero-low", 0, 10, true},
		{"inverted", 10, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := topology.NewDiscriminatorAllocator(tt.lo, tt.hi)
			if tt.wantErr != errors.Is(err, topology.ErrInvalidPool) {
				t.Errorf("err = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

// TestDiscriminatorExhaustion fills a small pool: every value is handed out
// exactly once, then allocation fails until something is released.
func TestDiscriminatorExhaustion(t *testing.T) {
	t.Parallel()

	alloc, err := topology.NewDiscriminatorAllocator(100, 131)
	if err != nil {
		t.Fatalf("NewDiscriminatorAllocator: %v", err)
	}

	seen := make(map[uint32]struct{})
	for i := range 32 {
		d, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
		if d < 100 || d > 131 {
			t.Fatalf("allocation %d: %d outside pool", i, d)
		}
		if _, dup := seen[d]; dup {
			t.Fatalf("allocation %d: duplicate %d", i, d)
		}
		seen[d] = struct{}{}
	}

	if _, err := alloc.Allocate(); !errors.Is(err, topology.ErrDiscriminatorExhausted) {
		t.Fatalf("full pool: err = %v, want ErrDiscriminatorExhausted", err)
	}

	alloc.Release(117)
	d, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("after release: %v", err)
	}
	if d != 117 {
		t.Errorf("after release: got %d, want 117", d)
	}
}

func TestDiscriminatorReserveRelease(t *testing.T) {
	t.Parallel()

	alloc, err := topology.NewDiscriminatorAllocator(1, 10)
	if err != nil {
		t.Fatalf("NewDiscriminatorAllocator: %v", err)
	}

	if err := alloc.Reserve(5); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := alloc.Reserve(5); !errors.Is(err, topology.ErrDiscriminatorHeld) {
		t.Fatalf("second Reserve: err = %v, want ErrDiscriminatorHeld", err)
	}
	if !alloc.IsAllocated(5) || alloc.Len() != 1 {
		t.Fatalf("after reserve: allocated=%t len=%d", alloc.IsAllocated(5), alloc.Len())
	}
	if err := alloc.Reserve(11); !errors.Is(err, topology.ErrDiscriminatorOutOfPool) {
		t.Errorf("Reserve(11): err = %v, want ErrDiscriminatorOutOfPool", err)
	}

	alloc.Release(5)
	alloc.Release(5)
	if alloc.IsAllocated(5) || alloc.Len() != 0 {
		t.Errorf("after release: allocated=%t len=%d", alloc.IsAllocated(5), alloc.Len())
	}

	// An allocated value cannot be reserved by a second holder either.
	discr, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := alloc.Reserve(discr); !errors.Is(err, topology.ErrDiscriminatorHeld) {
		t.Errorf("Reserve(%d) after Allocate: err = %v, want ErrDiscriminatorHeld", discr, err)
	}
}

func TestDiscriminatorConcurrent(t *testing.T) {
	t.Parallel()

	alloc, err := topology.NewDiscriminatorAllocator(1, 1<<16)
	if err != nil {
		t.Fatalf("NewDiscriminatorAllocator: %v", err)
	}

	const workers, each = 8, 200

	var (
		mu   sync.Mutex
		seen = make(map[uint32]struct{}, workers*each)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Go(func() {
			for range each {
				d, err := alloc.Allocate()
				if err != nil {
					t.Errorf("Allocate: %v", err)
					return
				}
				mu.Lock()
				if _, dup := seen[d]; dup {
					t.Errorf("duplicate discriminator %d", d)
				}
				seen[d] = struct{}{}
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if alloc.Len() != workers*each {
		t.Errorf("Len = %d, want %d", alloc.Len(), workers*each)
	}
}
