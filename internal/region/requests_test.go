package region_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gotopo/internal/region"
)

func newRequests(t *testing.T) *region.RequestTracker {
	t.Helper()

	rt, err := region.NewRequestTracker(10*time.Second, 30*time.Second, 16)
	if err != nil {
		t.Fatalf("NewRequestTracker: %v", err)
	}
	return rt
}

func TestRequestTrackerReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		chunked bool
		replies []struct {
			sec  int
			last bool
		}
		wantErr []bool
	}{
		{
			name: "single reply closes",
			replies: []struct {
				sec  int
				last bool
			}{{1, false}, {2, false}},
			wantErr: []bool{false, true},
		},
		{
			name:    "chunks refresh until last",
			chunked: true,
			replies: []struct {
				sec  int
				last bool
			}{{8, false}, {16, false}, {24, true}, {25, true}},
			wantErr: []bool{false, false, false, true},
		},
		{
			name: "expired last reply rejected",
			replies: []struct {
				sec  int
				last bool
			}{{11, true}},
			wantErr: []bool{true},
		},
		{
			name:    "chunk gap expires request",
			chunked: true,
			replies: []struct {
				sec  int
				last bool
			}{{5, false}, {16, true}},
			wantErr: []bool{false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rt := newRequests(t)
			rt.Track("req", tt.chunked, at(0))

			for i, r := range tt.replies {
				err := rt.CheckReply("req", r.last, at(r.sec))
				if gotErr := err != nil; gotErr != tt.wantErr[i] {
					t.Fatalf("reply %d at %ds: err = %v, wantErr %t", i, r.sec, err, tt.wantErr[i])
				}
				if err != nil && !errors.Is(err, region.ErrReplyRejected) {
					t.Fatalf("reply %d: err = %v, want ErrReplyRejected", i, err)
				}
			}
		})
	}
}

// TestRequestTrackerBlacklist checks that a request expired by a sweep is
// rejected for the blacklist TTL, even with last set, and forgotten after.
func TestRequestTrackerBlacklist(t *testing.T) {
	t.Parallel()

	rt := newRequests(t)
	rt.Track("a", false, at(0))
	rt.Track("b", false, at(5))

	expired := rt.Sweep(at(11))
	if diff := cmp.Diff([]string{"a"}, expired); diff != "" {
		t.Fatalf("expired (-want +got):\n%s", diff)
	}
	if rt.Pending() != 1 || rt.Blacklisted() != 1 {
		t.Fatalf("pending=%d blacklisted=%d, want 1/1", rt.Pending(), rt.Blacklisted())
	}

	if err := rt.CheckReply("a", true, at(12)); !errors.Is(err, region.ErrReplyRejected) {
		t.Errorf("late reply: err = %v, want ErrReplyRejected", err)
	}
	if err := rt.CheckReply("b", true, at(12)); err != nil {
		t.Errorf("reply b: %v", err)
	}

	// Re-tracking the id after the blacklist entry lapsed works again.
	rt.Track("a", false, at(50))
	if err := rt.CheckReply("a", true, at(51)); err != nil {
		t.Errorf("reply after blacklist expiry: %v", err)
	}
}

func TestRequestTrackerUnknown(t *testing.T) {
	t.Parallel()

	rt := newRequests(t)
	if err := rt.CheckReply("nope", true, at(0)); !errors.Is(err, region.ErrReplyRejected) {
		t.Errorf("err = %v, want ErrReplyRejected", err)
	}
}

func TestRequestTrackerBlacklistBounded(t *testing.T) {
	t.Parallel()

	rt := newRequests(t)
	for i := range 40 {
		rt.Track(string(rune('A'+i)), false, at(0))
	}
	rt.Sweep(at(11))
	if rt.Blacklisted() != 16 {
		t.Errorf("blacklisted = %d, want 16", rt.Blacklisted())
	}
}
