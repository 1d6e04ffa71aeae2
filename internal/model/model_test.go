package model_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gotopo/internal/model"
)

func ep(sw uint64, port uint32) model.Endpoint {
	return model.NewEndpoint(model.SwitchID(sw), port)
}

func TestSwitchIDStringRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   model.SwitchID
		want string
	}{
		{1, "00:00:00:00:00:00:00:01"},
		{0xdeadbeef, "00:00:00:00:de:ad:be:ef"},
		{0xffffffffffffffff, "ff:ff:ff:ff:ff:ff:ff:ff"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			if got := tt.id.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			parsed, err := model.ParseSwitchID(tt.want)
			if err != nil {
				t.Fatalf("ParseSwitchID(%q): %v", tt.want, err)
			}
			if parsed != tt.id {
				t.Errorf("ParseSwitchID(%q) = %d, want %d", tt.want, parsed, tt.id)
			}
		})
	}
}

func TestParseSwitchIDInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "00:01", "zz:00:00:00:00:00:00:01", "0xgg"} {
		if _, err := model.ParseSwitchID(in); !errors.Is(err, model.ErrInvalidSwitchID) {
			t.Errorf("ParseSwitchID(%q) error = %v, want ErrInvalidSwitchID", in, err)
		}
	}
}

func TestParseSwitchIDHex(t *testing.T) {
	t.Parallel()

	got, err := model.ParseSwitchID("0x2A")
	if err != nil {
		t.Fatalf("ParseSwitchID: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestEndpointParse(t *testing.T) {
	t.Parallel()

	e := ep(7, 12)
	got, err := model.ParseEndpoint(e.String())
	if err != nil {
		t.Fatalf("ParseEndpoint(%q): %v", e.String(), err)
	}
	if got != e {
		t.Errorf("ParseEndpoint = %v, want %v", got, e)
	}

	if _, err := model.ParseEndpoint("nonsense"); !errors.Is(err, model.ErrInvalidEndpoint) {
		t.Errorf("ParseEndpoint(nonsense) error = %v, want ErrInvalidEndpoint", err)
	}
}

// TestIslReferenceCommutative checks that canonicalization does not depend on
// which side reported the link first.
func TestIslReferenceCommutative(t *testing.T) {
	t.Parallel()

	pairs := [][2]model.Endpoint{
		{ep(1, 1), ep(2, 5)},
		{ep(2, 5), ep(1, 1)},
		{ep(3, 1), ep(3, 2)},
		{ep(3, 2), ep(3, 1)},
		{ep(0xff, 10), ep(0x10, 20)},
		{ep(4, 4), ep(4, 4)},
	}

	for _, p := range pairs {
		ab := model.NewIslReference(p[0], p[1])
		ba := model.NewIslReference(p[1], p[0])
		if ab != ba {
			t.Errorf("reference(%v,%v) = %v, reference(%v,%v) = %v", p[0], p[1], ab, p[1], p[0], ba)
		}
		if ab.Source.Compare(ab.Dest) > 0 {
			t.Errorf("reference %v: source sorts after dest", ab)
		}
	}
}

func TestIslReferenceOpposite(t *testing.T) {
	t.Parallel()

	ref := model.NewIslReference(ep(2, 5), ep(1, 1))
	if ref.Source != ep(1, 1) {
		t.Fatalf("Source = %v, want smaller switch", ref.Source)
	}

	got, err := ref.Opposite(ep(1, 1))
	if err != nil || got != ep(2, 5) {
		t.Errorf("Opposite(source) = %v, %v", got, err)
	}
	got, err = ref.Opposite(ep(2, 5))
	if err != nil || got != ep(1, 1) {
		t.Errorf("Opposite(dest) = %v, %v", got, err)
	}
	if _, err := ref.Opposite(ep(9, 9)); !errors.Is(err, model.ErrEndpointNotInReference) {
		t.Errorf("Opposite(foreign) error = %v, want ErrEndpointNotInReference", err)
	}
}

func TestIslReferenceDegenerate(t *testing.T) {
	t.Parallel()

	ref := model.NewSingleIslReference(ep(1, 1))
	if !ref.IsDegenerate() {
		t.Fatal("IsDegenerate() = false")
	}
	if !ref.Contains(ep(1, 1)) {
		t.Error("degenerate reference does not contain its endpoint")
	}
	if ref.Contains(model.Endpoint{}) {
		t.Error("degenerate reference contains the zero endpoint")
	}
	if len(ref.Endpoints()) != 1 {
		t.Errorf("Endpoints() = %v, want one endpoint", ref.Endpoints())
	}
	if _, err := ref.Opposite(ep(1, 1)); !errors.Is(err, model.ErrEndpointNotInReference) {
		t.Errorf("Opposite on degenerate error = %v", err)
	}
	if ref == model.NewIslReference(ep(1, 1), model.Endpoint{}) {
		t.Error("degenerate reference equals a full reference with a zero endpoint")
	}
}

func TestBuildHistory(t *testing.T) {
	t.Parallel()

	switches := []model.SwitchID{2, 1}
	isls := []model.Isl{
		{Source: ep(1, 2), Dest: ep(2, 2), Status: model.IslActive},
		{Source: ep(1, 1), Dest: ep(2, 1), Status: model.IslInactive},
		{Source: ep(2, 1), Dest: ep(1, 1), Status: model.IslInactive},
		{Source: ep(9, 1), Dest: ep(1, 3), Status: model.IslActive},
	}
	sessions := []model.BfdSession{
		{Endpoint: ep(1, 1), Discriminator: 77},
		{Endpoint: ep(9, 1), Discriminator: 78},
	}

	histories, orphans := model.BuildHistory(switches, isls, sessions)

	want := []model.SwitchHistory{
		{
			Switch: 1,
			OutgoingLinks: []model.Isl{
				{Source: ep(1, 1), Dest: ep(2, 1), Status: model.IslInactive},
				{Source: ep(1, 2), Dest: ep(2, 2), Status: model.IslActive},
			},
			Discriminators: map[uint32]uint32{1: 77},
		},
		{
			Switch: 2,
			OutgoingLinks: []model.Isl{
				{Source: ep(2, 1), Dest: ep(1, 1), Status: model.IslInactive},
			},
		},
	}
	if diff := cmp.Diff(want, histories); diff != "" {
		t.Errorf("BuildHistory mismatch (-want +got):\n%s", diff)
	}

	if len(orphans) != 1 || orphans[0].Source != ep(9, 1) {
		t.Errorf("orphans = %v, want the link from unknown switch 9", orphans)
	}
}
