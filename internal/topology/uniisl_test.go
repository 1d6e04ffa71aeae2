package topology_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/topology"
)

func TestUniIslDiscoveryAndFail(t *testing.T) {
	t.Parallel()

	svc := topology.NewUniIslService()
	rec := &recorder{}
	a, b := ep(1, 1), ep(2, 5)
	ref := model.NewIslReference(a, b)

	svc.Setup(a, nil)

	// Failure before any discovery names no link.
	if err := svc.Fail(rec, a); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := svc.Discovery(rec, a, facts(a, b)); err != nil {
		t.Fatalf("Discovery: %v", err)
	}
	if err := svc.Discovery(rec, a, facts(a, b)); err != nil {
		t.Fatalf("Discovery: %v", err)
	}
	if err := svc.Fail(rec, a); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := svc.PhysicalDown(rec, a); err != nil {
		t.Fatalf("PhysicalDown: %v", err)
	}

	want := []string{
		"isl-up " + a.String() + " " + ref.String(),
		"isl-up " + a.String() + " " + ref.String(),
		"isl-down " + a.String() + " " + ref.String(),
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
	if st, _ := svc.State(a); st != topology.UniIslInactive {
		t.Errorf("state = %s, want Inactive", st)
	}
}

func TestUniIslMove(t *testing.T) {
	t.Parallel()

	svc := topology.NewUniIslService()
	rec := &recorder{}
	a, b, c := ep(1, 1), ep(2, 5), ep(3, 7)

	svc.Setup(a, &model.Isl{Source: a, Dest: b, Status: model.IslActive})
	if err := svc.Discovery(rec, a, facts(a, c)); err != nil {
		t.Fatalf("Discovery: %v", err)
	}

	want := []string{
		"isl-move " + a.String() + " " + model.NewIslReference(a, b).String(),
		"isl-up " + a.String() + " " + model.NewIslReference(a, c).String(),
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestUniIslBfdOverridesProbeFailure(t *testing.T) {
	t.Parallel()

	svc := topology.NewUniIslService()
	rec := &recorder{}
	a, b := ep(1, 1), ep(2, 5)
	ref := model.NewIslReference(a, b)

	svc.Setup(a, nil)
	_ = svc.Discovery(rec, a, facts(a, b))
	rec.reset()

	if err := svc.BfdUp(rec, a); err != nil {
		t.Fatalf("BfdUp: %v", err)
	}
	if err := svc.Fail(rec, a); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if st, _ := svc.State(a); st != topology.UniIslBfd {
		t.Fatalf("state after probe failure = %s, want Bfd", st)
	}
	if err := svc.BfdDown(rec, a); err != nil {
		t.Fatalf("BfdDown: %v", err)
	}

	want := []string{
		"isl-up " + a.String() + " " + ref.String(),
		"isl-down " + a.String() + " " + ref.String(),
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestUniIslRemove(t *testing.T) {
	t.Parallel()

	svc := topology.NewUniIslService()
	rec := &recorder{}
	a, b := ep(1, 1), ep(2, 5)

	svc.Setup(a, nil)
	_ = svc.Discovery(rec, a, facts(a, b))
	rec.reset()

	if err := svc.Remove(rec, a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if diff := cmp.Diff([]string{"isl-down " + a.String() + " " + model.NewIslReference(a, b).String()}, rec.calls); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
	if err := svc.Fail(rec, a); !errors.Is(err, topology.ErrUnknownUniIsl) {
		t.Errorf("Fail after remove: err = %v, want ErrUnknownUniIsl", err)
	}
	if err := svc.Remove(rec, a); !errors.Is(err, topology.ErrUnknownUniIsl) {
		t.Errorf("second Remove: err = %v, want ErrUnknownUniIsl", err)
	}
}
