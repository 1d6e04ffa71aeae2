package region

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type trackedRequest struct {
	created   time.Time
	lastReply time.Time
	chunked   bool
}

func (r *trackedRequest) lastActivity() time.Time {
	if r.lastReply.After(r.created) {
		return r.lastReply
	}
	return r.created
}

// RequestTracker correlates replies with outstanding requests.
//
// A request is open until its final reply or until it has seen no activity
// for the request timeout. Expired requests move to a bounded blacklist
// that remembers them for the blacklist TTL, so a late reply is recognized
// and discarded instead of being taken for an unknown one. Blacklist expiry
// is stored per entry and compared against tick time.
type RequestTracker struct {
	mu           sync.Mutex
	timeout      time.Duration
	blacklistTTL time.Duration
	pending      map[string]*trackedRequest
	blacklist    *lru.Cache[string, time.Time]
}

// NewRequestTracker creates a tracker whose blacklist holds at most size
// entries.
func NewRequestTracker(timeout, blacklistTTL time.Duration, size int) (*RequestTracker, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("create request blacklist: %w", err)
	}
	return &RequestTracker{
		timeout:      timeout,
		blacklistTTL: blacklistTTL,
		pending:      make(map[string]*trackedRequest),
		blacklist:    cache,
	}, nil
}

// Track opens a request. Chunked requests accept several replies until one
// is marked last.
func (t *RequestTracker) Track(id string, chunked bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[id] = &trackedRequest{created: now, chunked: chunked}
}

// Sweep expires open requests idle for longer than the request timeout and
// returns their ids.
func (t *RequestTracker) Sweep(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, r := range t.pending {
		if now.Sub(r.lastActivity()) > t.timeout {
			expired = append(expired, id)
			t.expireLocked(id, now)
		}
	}
	return expired
}

// CheckReply validates a reply to request id. A nil error means the reply
// belongs to an open request; last closes it. Replies to blacklisted,
// unknown, or expired requests return an error wrapping ErrReplyRejected,
// even when marked last.
func (t *RequestTracker) CheckReply(id string, last bool, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if until, ok := t.blacklist.Get(id); ok {
		if !now.After(until) {
			return fmt.Errorf("request %s blacklisted: %w", id, ErrReplyRejected)
		}
		t.blacklist.Remove(id)
	}

	r, ok := t.pending[id]
	if !ok {
		return fmt.Errorf("request %s unknown: %w", id, ErrReplyRejected)
	}
	if now.Sub(r.lastActivity()) > t.timeout {
		t.expireLocked(id, now)
		return fmt.Errorf("request %s expired: %w", id, ErrReplyRejected)
	}

	if last || !r.chunked {
		delete(t.pending, id)
		return nil
	}
	r.lastReply = now
	return nil
}

// Pending returns the number of open requests.
func (t *RequestTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}

// Blacklisted returns the number of blacklist entries, expired or not.
func (t *RequestTracker) Blacklisted() int {
	return t.blacklist.Len()
}

func (t *RequestTracker) expireLocked(id string, now time.Time) {
	delete(t.pending, id)
	t.blacklist.Add(id, now.Add(t.blacklistTTL))
}
