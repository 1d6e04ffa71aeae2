package liveness_test

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gotopo/internal/liveness"
	"github.com/dantte-lp/gotopo/internal/model"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func ep(sw uint64, port uint32) model.Endpoint {
	return model.NewEndpoint(model.SwitchID(sw), port)
}

// recorder implements every liveness carrier and records calls as strings.
type recorder struct {
	calls []string
	sent  []uint64
}

func (r *recorder) DiscoveryRequest(e model.Endpoint, now time.Time) {
	r.calls = append(r.calls, fmt.Sprintf("request %s @%d", e, now.Sub(epoch)/time.Second))
}

func (r *recorder) SendDiscovery(e model.Endpoint, packetNo uint64) {
	r.sent = append(r.sent, packetNo)
	r.calls = append(r.calls, fmt.Sprintf("send %s #%d", e, packetNo))
}

func (r *recorder) Discovered(e model.Endpoint, _ model.DiscoveryFacts, now time.Time) {
	r.calls = append(r.calls, fmt.Sprintf("discovered %s @%d", e, now.Sub(epoch)/time.Second))
}

func (r *recorder) Failed(e model.Endpoint, now time.Time) {
	r.calls = append(r.calls, fmt.Sprintf("failed %s @%d", e, now.Sub(epoch)/time.Second))
}

func (r *recorder) LinkDiscovered(e model.Endpoint, _ model.DiscoveryFacts) {
	r.calls = append(r.calls, "link-discovered "+e.String())
}

func (r *recorder) LinkFailed(e model.Endpoint) {
	r.calls = append(r.calls, "link-failed "+e.String())
}

func TestWatchListPolling(t *testing.T) {
	t.Parallel()

	w := liveness.NewWatchList(3 * time.Second)
	rec := &recorder{}
	a := ep(1, 1)

	w.Add(rec, a, at(0))
	w.Add(rec, a, at(1))
	for s := 1; s <= 7; s++ {
		w.Tick(rec, at(s))
	}

	want := []string{
		"request " + a.String() + " @0",
		"request " + a.String() + " @3",
		"request " + a.String() + " @6",
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}

	w.Remove(a)
	rec.calls = nil
	for s := 8; s <= 12; s++ {
		w.Tick(rec, at(s))
	}
	if len(rec.calls) != 0 {
		t.Errorf("removed endpoint still polled: %v", rec.calls)
	}
	if w.IsWatched(a) || w.Len() != 0 {
		t.Error("endpoint still watched after Remove")
	}
}

func TestWatcherConfirmBeforeDeadline(t *testing.T) {
	t.Parallel()

	w := liveness.NewWatcher(2 * time.Second)
	rec := &recorder{}
	a := ep(1, 1)

	n := w.Probe(rec, a, at(0))
	facts := model.DiscoveryFacts{Reference: model.NewIslReference(a, ep(2, 5))}
	if !w.Confirm(rec, a, n, facts, at(1)) {
		t.Fatal("Confirm of pending probe returned false")
	}
	w.Tick(rec, at(5))

	want := []string{
		fmt.Sprintf("send %s #%d", a, n),
		fmt.Sprintf("discovered %s @1", a),
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherSweepReportsPending(t *testing.T) {
	t.Parallel()

	w := liveness.NewWatcher(2 * time.Second)
	rec := &recorder{}
	a, b := ep(1, 1), ep(1, 2)

	first := w.Probe(rec, a, at(0))
	w.Probe(rec, b, at(1))
	w.Tick(rec, at(2))

	if w.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", w.Pending())
	}
	if !slices.Contains(rec.calls, fmt.Sprintf("failed %s @2", a)) {
		t.Errorf("probe of %s not reported failed: %v", a, rec.calls)
	}

	// A confirmation after the sweep is late and ignored.
	if w.Confirm(rec, a, first, model.DiscoveryFacts{}, at(3)) {
		t.Error("late confirmation accepted")
	}
}

func TestWatcherRemoveCancelsProbes(t *testing.T) {
	t.Parallel()

	w := liveness.NewWatcher(2 * time.Second)
	rec := &recorder{}
	a := ep(1, 1)

	w.Probe(rec, a, at(0))
	w.Probe(rec, a, at(1))
	w.Remove(a)
	rec.calls = nil

	w.Tick(rec, at(10))
	if len(rec.calls) != 0 || w.Pending() != 0 {
		t.Errorf("cancelled probes fired: %v", rec.calls)
	}
}

func TestWatcherSequenceMonotonic(t *testing.T) {
	t.Parallel()

	w := liveness.NewWatcher(time.Second)
	rec := &recorder{}
	for i := range 10 {
		w.Probe(rec, ep(1, uint32(i%3)), at(i))
	}
	if !slices.IsSorted(rec.sent) || len(slices.Compact(slices.Clone(rec.sent))) != len(rec.sent) {
		t.Errorf("sequence numbers not strictly increasing: %v", rec.sent)
	}
}

func TestDecisionMakerNeverDiscovered(t *testing.T) {
	t.Parallel()

	d := liveness.NewDecisionMaker(2*time.Second, 9*time.Second)
	rec := &recorder{}
	a := ep(1, 1)

	// Baseline is now-awaitTime at the first failure (t=2 -> baseline 0).
	if d.Failed(rec, a, at(2)) {
		t.Error("failure escalated before the fail window")
	}
	if !d.Failed(rec, a, at(9)) {
		t.Error("failure not escalated after the fail window")
	}
}

// TestLivenessFailureOncePerOutage wires the three components together the
// way the engine does and checks that a continuous outage produces exactly
// one link failure regardless of how many probes are missed.
func TestLivenessFailureOncePerOutage(t *testing.T) {
	t.Parallel()

	const (
		interval   = 3 * time.Second
		timeout    = 2 * time.Second
		failWindow = 9 * time.Second
	)

	h := newHarness(interval, timeout, failWindow)
	a := ep(1, 1)
	remote := ep(2, 5)

	h.list.Add(h, a, at(0))
	h.echo = map[model.Endpoint]bool{a: true}
	h.remote = remote

	// Link healthy for ten seconds, then the echo stops.
	for s := 1; s <= 10; s++ {
		h.tick(at(s))
	}
	h.echo[a] = false
	for s := 11; s <= 40; s++ {
		h.tick(at(s))
	}

	if got := h.count("link-failed " + a.String()); got != 1 {
		t.Errorf("link-failed reported %d times during one outage, want 1", got)
	}
	if h.count("failed-probe") < 5 {
		t.Errorf("expected many missed probes, got %d", h.count("failed-probe"))
	}

	// Recovery and a second outage produce one more failure.
	h.echo[a] = true
	for s := 41; s <= 50; s++ {
		h.tick(at(s))
	}
	h.echo[a] = false
	for s := 51; s <= 80; s++ {
		h.tick(at(s))
	}
	if got := h.count("link-failed " + a.String()); got != 2 {
		t.Errorf("link-failed reported %d times over two outages, want 2", got)
	}
}

// harness chains WatchList -> Watcher -> DecisionMaker and simulates a remote
// that echoes probes of enabled endpoints on the next tick.
type harness struct {
	list     *liveness.WatchList
	watcher  *liveness.Watcher
	decision *liveness.DecisionMaker

	echo   map[model.Endpoint]bool
	remote model.Endpoint
	queue  []sentProbe
	log    []string
}

type sentProbe struct {
	ep       model.Endpoint
	packetNo uint64
}

func newHarness(interval, timeout, failWindow time.Duration) *harness {
	return &harness{
		list:     liveness.NewWatchList(interval),
		watcher:  liveness.NewWatcher(timeout),
		decision: liveness.NewDecisionMaker(timeout, failWindow),
	}
}

func (h *harness) tick(now time.Time) {
	pending := h.queue
	h.queue = nil
	for _, p := range pending {
		if h.echo[p.ep] {
			facts := model.DiscoveryFacts{Reference: model.NewIslReference(p.ep, h.remote)}
			h.watcher.Confirm(h, p.ep, p.packetNo, facts, now)
		}
	}
	h.list.Tick(h, now)
	h.watcher.Tick(h, now)
}

func (h *harness) count(entry string) int {
	n := 0
	for _, l := range h.log {
		if l == entry {
			n++
		}
	}
	return n
}

func (h *harness) DiscoveryRequest(e model.Endpoint, now time.Time) {
	h.watcher.Probe(h, e, now)
}

func (h *harness) SendDiscovery(e model.Endpoint, packetNo uint64) {
	h.queue = append(h.queue, sentProbe{ep: e, packetNo: packetNo})
}

func (h *harness) Discovered(e model.Endpoint, facts model.DiscoveryFacts, now time.Time) {
	h.decision.Discovered(h, e, facts, now)
}

func (h *harness) Failed(e model.Endpoint, now time.Time) {
	h.log = append(h.log, "failed-probe")
	h.decision.Failed(h, e, now)
}

func (h *harness) LinkDiscovered(e model.Endpoint, _ model.DiscoveryFacts) {
	h.log = append(h.log, "link-discovered "+e.String())
}

func (h *harness) LinkFailed(e model.Endpoint) {
	h.log = append(h.log, "link-failed "+e.String())
}
