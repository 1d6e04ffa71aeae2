// Package deadline implements a time-bucketed timeout schedule.
//
// A Schedule maps deadlines to sets of keys. Buckets are kept in a B-tree
// ordered by deadline, so inserting or removing a bucket is O(log n) and a
// sweep visits only the expired prefix. A key -> deadline index makes
// membership tests and cancellation O(1) per key.
//
// Time is never read from the wall clock: callers pass the logical tick time.
package deadline

import (
	"time"

	"github.com/google/btree"
)

// btreeDegree is the branching factor of the bucket tree.
const btreeDegree = 16

// bucket holds every key that expires at the same instant.
type bucket[K comparable] struct {
	at   time.Time
	keys map[K]struct{}
}

// Schedule is a deadline -> set-of-keys map with expired-prefix sweeps.
//
// A key is scheduled at most once; scheduling it again moves it to the new
// deadline. Schedule is not safe for concurrent use: each instance belongs
// to a single worker.
type Schedule[K comparable] struct {
	tree  *btree.BTreeG[*bucket[K]]
	index map[K]time.Time
}

// New creates an empty Schedule.
func New[K comparable]() *Schedule[K] {
	return &Schedule[K]{
		tree: btree.NewG(btreeDegree, func(a, b *bucket[K]) bool {
			return a.at.Before(b.at)
		}),
		index: make(map[K]time.Time),
	}
}

// Add schedules key to expire at. A key already present is rescheduled.
func (s *Schedule[K]) Add(key K, at time.Time) {
	if _, ok := s.index[key]; ok {
		s.Remove(key)
	}

	b, ok := s.tree.Get(&bucket[K]{at: at})
	if !ok {
		b = &bucket[K]{at: at, keys: make(map[K]struct{})}
		s.tree.ReplaceOrInsert(b)
	}
	b.keys[key] = struct{}{}
	s.index[key] = at
}

// Remove cancels key. Removing an absent key is a no-op.
func (s *Schedule[K]) Remove(key K) {
	at, ok := s.index[key]
	if !ok {
		return
	}
	delete(s.index, key)

	b, ok := s.tree.Get(&bucket[K]{at: at})
	if !ok {
		return
	}
	delete(b.keys, key)
	if len(b.keys) == 0 {
		s.tree.Delete(b)
	}
}

// Contains reports whether key is scheduled.
func (s *Schedule[K]) Contains(key K) bool {
	_, ok := s.index[key]
	return ok
}

// Deadline returns the deadline of key.
func (s *Schedule[K]) Deadline(key K) (time.Time, bool) {
	at, ok := s.index[key]
	return at, ok
}

// Len returns the number of scheduled keys.
func (s *Schedule[K]) Len() int {
	return len(s.index)
}

// Expire removes and returns every key whose deadline is at or before now,
// in deadline order. Keys sharing a bucket come out in unspecified order.
func (s *Schedule[K]) Expire(now time.Time) []K {
	var (
		expired []*bucket[K]
		keys    []K
	)

	s.tree.Ascend(func(b *bucket[K]) bool {
		if b.at.After(now) {
			return false
		}
		expired = append(expired, b)
		return true
	})

	for _, b := range expired {
		s.tree.Delete(b)
		for k := range b.keys {
			delete(s.index, k)
			keys = append(keys, k)
		}
	}

	return keys
}

// Next returns the earliest scheduled deadline.
func (s *Schedule[K]) Next() (time.Time, bool) {
	b, ok := s.tree.Min()
	if !ok {
		return time.Time{}, false
	}
	return b.at, true
}
