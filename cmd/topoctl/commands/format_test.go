package commands

import (
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

var testIsls = []topoapi.Isl{{
	Source:   topoapi.Endpoint{Switch: "00:00:00:00:00:00:00:01", Port: 1},
	Dest:     topoapi.Endpoint{Switch: "00:00:00:00:00:00:00:02", Port: 5},
	State:    "UP",
	SourceUp: true,
	DestUp:   true,
	Status:   "ACTIVE",
	Latency:  3 * time.Millisecond,
}}

func TestFormatIslsTable(t *testing.T) {
	t.Parallel()

	out, err := formatIsls(testIsls, formatTable)
	if err != nil {
		t.Fatalf("formatIsls: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "SOURCE") {
		t.Errorf("header = %q", lines[0])
	}
	for _, want := range []string{"00:00:00:00:00:00:00:01_1", "00:00:00:00:00:00:00:02_5", "UP", "ACTIVE", "3ms"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
}

func TestFormatIslsStructured(t *testing.T) {
	t.Parallel()

	want := []islView{{
		Source:   "00:00:00:00:00:00:00:01_1",
		Dest:     "00:00:00:00:00:00:00:02_5",
		State:    "UP",
		SourceUp: true,
		DestUp:   true,
		Status:   "ACTIVE",
		Latency:  "3ms",
	}}

	tests := []struct {
		format    string
		unmarshal func([]byte, any) error
	}{
		{formatJSON, json.Unmarshal},
		{formatYAML, yaml.Unmarshal},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			t.Parallel()

			out, err := formatIsls(testIsls, tt.format)
			if err != nil {
				t.Fatalf("formatIsls: %v", err)
			}

			var got []islView
			if err := tt.unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("decode %s: %v\n%s", tt.format, err, out)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("views mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatUnsupported(t *testing.T) {
	t.Parallel()

	_, err := formatRegions(nil, "xml")
	if !errors.Is(err, errUnsupportedFormat) {
		t.Errorf("err = %v, want %v", err, errUnsupportedFormat)
	}
}

func TestFormatRegionsTable(t *testing.T) {
	t.Parallel()

	out, err := formatRegions([]topoapi.Region{
		{Name: "east", Alive: true, SyncState: "Main", Switches: 2, LastAlive: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{Name: "west", SyncState: "Offline"},
	}, formatTable)
	if err != nil {
		t.Fatalf("formatRegions: %v", err)
	}

	if !strings.Contains(out, "2026-01-02T03:04:05Z") {
		t.Errorf("missing last alive timestamp:\n%s", out)
	}
	if !strings.Contains(out, valueNA) {
		t.Errorf("missing %s for a region never seen alive:\n%s", valueNA, out)
	}
}

func TestFormatBfdPortWithoutRemote(t *testing.T) {
	t.Parallel()

	out, err := formatBfdPorts([]topoapi.BfdPort{{
		Endpoint:    topoapi.Endpoint{Switch: "00:00:00:00:00:00:00:01", Port: 1},
		LogicalPort: 201,
		State:       "INIT",
	}}, formatJSON)
	if err != nil {
		t.Fatalf("formatBfdPorts: %v", err)
	}

	var got []bfdPortView
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Remote != valueNA || got[0].LogicalPort != 201 {
		t.Errorf("got %+v", got)
	}
}

func TestFormatStreamLines(t *testing.T) {
	t.Parallel()

	ev := &topoapi.IslEvent{
		Source:   topoapi.Endpoint{Switch: "00:00:00:00:00:00:00:01", Port: 1},
		Dest:     topoapi.Endpoint{Switch: "00:00:00:00:00:00:00:02", Port: 5},
		OldState: "DOWN",
		NewState: "UP",
	}
	line, err := formatIslEvent(ev, formatTable)
	if err != nil {
		t.Fatalf("formatIslEvent: %v", err)
	}
	if strings.Contains(line, "\n") || !strings.Contains(line, "DOWN => UP") {
		t.Errorf("event line = %q", line)
	}

	cmd := &topoapi.Command{
		Region:        "east",
		Kind:          "bfd_create",
		CorrelationID: "abc",
		Endpoint:      &topoapi.Endpoint{Switch: "00:00:00:00:00:00:00:01", Port: 201},
	}
	line, err = formatCommand(cmd, formatJSON)
	if err != nil {
		t.Fatalf("formatCommand: %v", err)
	}
	var got commandView
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := commandView{Region: "east", Kind: "bfd_create", CorrelationID: "abc", Endpoint: "00:00:00:00:00:00:00:01_201"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}
