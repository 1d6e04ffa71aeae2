package topology

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// maxAllocAttempts bounds the random picks before Allocate falls back to a
// linear scan of the pool.
const maxAllocAttempts = 64

var (
	// ErrDiscriminatorExhausted indicates every value in the pool is held.
	ErrDiscriminatorExhausted = errors.New("discriminator pool exhausted")

	// ErrInvalidPool indicates pool bounds that cannot hold a discriminator.
	ErrInvalidPool = errors.New("invalid discriminator pool")

	// ErrDiscriminatorOutOfPool indicates a reservation outside the pool.
	ErrDiscriminatorOutOfPool = errors.New("discriminator outside pool")

	// ErrDiscriminatorHeld indicates a reservation of a value that is
	// already held.
	ErrDiscriminatorHeld = errors.New("discriminator already held")
)

// DiscriminatorAllocator hands out unique, nonzero BFD session
// discriminators from the bounded pool [min, max].
//
// One allocator is shared by every worker, so it locks. Values are picked at
// random; when random picks keep colliding the pool is scanned.
type DiscriminatorAllocator struct {
	mu        sync.Mutex
	min, max  uint32
	allocated map[uint32]struct{}
}

// NewDiscriminatorAllocator creates an allocator over [lo, hi]. Zero is never
// handed out, so lo must be at least 1.
func NewDiscriminatorAllocator(lo, hi uint32) (*DiscriminatorAllocator, error) {
	if lo == 0 || hi < lo {
		return nil, fmt.Errorf("pool [%d, %d]: %w", lo, hi, ErrInvalidPool)
	}
	return &DiscriminatorAllocator{
		min:       lo,
		max:       hi,
		allocated: make(map[uint32]struct{}),
	}, nil
}

// Allocate returns a free discriminator and marks it held.
func (d *DiscriminatorAllocator) Allocate() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := uint64(d.max-d.min) + 1
	if uint64(len(d.allocated)) >= size {
		return 0, fmt.Errorf("allocate from [%d, %d]: %w", d.min, d.max, ErrDiscriminatorExhausted)
	}

	var buf [8]byte
	for range maxAllocAttempts {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("generate random discriminator: %w", err)
		}
		discr := d.min + uint32(binary.BigEndian.Uint64(buf[:])%size)
		if _, held := d.allocated[discr]; held {
			continue
		}
		d.allocated[discr] = struct{}{}
		return discr, nil
	}

	for discr := uint64(d.min); discr <= uint64(d.max); discr++ {
		if _, held := d.allocated[uint32(discr)]; !held {
			d.allocated[uint32(discr)] = struct{}{}
			return uint32(discr), nil
		}
	}

	return 0, fmt.Errorf("allocate from [%d, %d]: %w", d.min, d.max, ErrDiscriminatorExhausted)
}

// Reserve marks a known discriminator as held, e.g. one restored from
// persisted history. A value has one holder: reserving a held value fails
// with ErrDiscriminatorHeld and leaves it with its holder.
func (d *DiscriminatorAllocator) Reserve(discr uint32) error {
	if discr < d.min || discr > d.max {
		return fmt.Errorf("reserve %d in [%d, %d]: %w", discr, d.min, d.max, ErrDiscriminatorOutOfPool)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, held := d.allocated[discr]; held {
		return fmt.Errorf("reserve %d: %w", discr, ErrDiscriminatorHeld)
	}
	d.allocated[discr] = struct{}{}
	return nil
}

// Release returns discr to the pool. Releasing a free value is a no-op.
func (d *DiscriminatorAllocator) Release(discr uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.allocated, discr)
}

// IsAllocated reports whether discr is currently held.
func (d *DiscriminatorAllocator) IsAllocated(discr uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, held := d.allocated[discr]
	return held
}

// Len returns the number of held discriminators.
func (d *DiscriminatorAllocator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.allocated)
}
