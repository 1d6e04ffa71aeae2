package server_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gotopo/internal/engine"
	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/region"
	"github.com/dantte-lp/gotopo/internal/server"
	"github.com/dantte-lp/gotopo/internal/store"
	"github.com/dantte-lp/gotopo/internal/topology"
	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

const sw1 = "00:00:00:00:00:00:00:01"

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

// fakeEngine records handled messages and routed commands, and serves
// canned snapshots.
type fakeEngine struct {
	mu       sync.Mutex
	handled  []message.Inbound
	routed   []message.Command
	err      error
	switches []topology.SwitchSnapshot
	panicky  bool
}

func (f *fakeEngine) Handle(msg message.Inbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.handled = append(f.handled, msg)
	return nil
}

func (f *fakeEngine) last() message.Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.handled[len(f.handled)-1]
}

func (f *fakeEngine) commands() []message.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.routed
}

func (f *fakeEngine) Switches(context.Context) ([]topology.SwitchSnapshot, error) {
	if f.panicky {
		panic("intentional test panic")
	}
	return f.switches, f.err
}

func (f *fakeEngine) Ports(context.Context) ([]engine.PortStatus, error) { return nil, f.err }

func (f *fakeEngine) Isls(context.Context) ([]topology.IslSnapshot, error) { return nil, f.err }

func (f *fakeEngine) BfdPorts(context.Context) ([]topology.BfdPortSnapshot, error) {
	return nil, f.err
}

func (f *fakeEngine) Regions(context.Context) ([]engine.RegionStatus, error) { return nil, f.err }

func (f *fakeEngine) Route(_ context.Context, cmd message.Command) (region.Routed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return region.Routed{}, f.err
	}
	f.routed = append(f.routed, cmd)
	return region.Routed{CorrelationID: "route-1", Regions: []string{"east"}}, nil
}

func (f *fakeEngine) SubscribeIslEvents(int) (<-chan engine.IslEvent, func()) {
	ch := make(chan engine.IslEvent)
	return ch, func() {}
}

// serve mounts the topology service for eng on an httptest server.
func serve(t *testing.T, eng server.Engine, hub *server.CommandHub, opts ...connect.HandlerOption) *topoapi.Client {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	if hub == nil {
		hub = server.NewCommandHub(16, logger)
	}

	path, handler := server.New(eng, hub, logger, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return topoapi.NewClient(srv.Client(), srv.URL)
}

// startEngine runs a real engine with one region, "east", publishing to hub.
func startEngine(t *testing.T, hub *server.CommandHub) *engine.Engine {
	t.Helper()

	var n atomic.Int64
	cfg := engine.Config{
		Workers:          2,
		PersistQueue:     16,
		Regions:          []string{"east"},
		ProbeInterval:    3 * time.Second,
		ProbeTimeout:     2 * time.Second,
		FailWindow:       9 * time.Second,
		OutageTimeout:    10 * time.Second,
		DumpTimeout:      30 * time.Second,
		AliveInterval:    2 * time.Second,
		AliveTimeout:     10 * time.Second,
		RequestTimeout:   30 * time.Second,
		BlacklistTTL:     60 * time.Second,
		BlacklistSize:    16,
		DiscriminatorMin: 1,
		DiscriminatorMax: 100,
	}
	eng, err := engine.New(cfg, store.NewMemory(), hub,
		engine.WithLogger(slog.New(slog.DiscardHandler)),
		engine.WithIDGenerator(func() string { return fmt.Sprintf("req-%d", n.Add(1)) }),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("engine.Run: %v", err)
		}
	})

	return eng
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connectCode(t *testing.T, err error) connect.Code {
	t.Helper()

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	return connectErr.Code()
}

// -------------------------------------------------------------------------
// Ingest conversion
// -------------------------------------------------------------------------

func TestIngestConvertsEvents(t *testing.T) {
	t.Parallel()

	ep := model.NewEndpoint(1, 7)
	remote := model.NewEndpoint(2, 3)

	tests := []struct {
		name string
		req  *topoapi.IngestRequest
		want message.Event
	}{
		{
			name: "heartbeat",
			req:  &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindHeartbeat},
			want: message.Heartbeat{},
		},
		{
			name: "switch activated",
			req: &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindSwitch, Switch: &topoapi.SwitchEvent{
				Switch: sw1,
				State:  "activated",
				View: &topoapi.SwitchView{
					Switch:   sw1,
					Ports:    []topoapi.PortView{{Port: 7, Status: "up"}, {Port: 8, Status: "down"}},
					Features: []string{"bfd"},
				},
			}},
			want: message.SwitchEvent{Switch: 1, State: message.SwitchActivated, View: &message.SwitchView{
				Switch:   1,
				Ports:    []message.PortView{{Port: 7, Status: model.LinkUp}, {Port: 8, Status: model.LinkDown}},
				Features: []string{"bfd"},
			}},
		},
		{
			name: "port down",
			req: &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindPort, Port: &topoapi.PortEvent{
				Endpoint: topoapi.Endpoint{Switch: sw1, Port: 7},
				State:    "DOWN",
			}},
			want: message.PortEvent{Endpoint: ep, State: message.PortDown},
		},
		{
			name: "discovery",
			req: &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindDiscovery, Discovery: &topoapi.DiscoveryEvent{
				Source:   topoapi.Endpoint{Switch: sw1, Port: 7},
				Dest:     &topoapi.Endpoint{Switch: "0x2", Port: 3},
				PacketNo: 42,
				Latency:  time.Millisecond,
			}},
			want: message.DiscoveryEvent{Source: ep, Dest: remote, PacketNo: 42, Latency: time.Millisecond},
		},
		{
			name: "failed discovery without dest",
			req: &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindDiscovery, Discovery: &topoapi.DiscoveryEvent{
				Source: topoapi.Endpoint{Switch: sw1, Port: 7},
				Failed: true,
			}},
			want: message.DiscoveryEvent{Source: ep, Failed: true},
		},
		{
			name: "bfd response",
			req: &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindBfdResponse, BfdResponse: &topoapi.BfdSessionResponse{
				Endpoint:      topoapi.Endpoint{Switch: sw1, Port: 7},
				Discriminator: 9,
				Operation:     "create",
				Success:       true,
			}},
			want: message.BfdSessionResponse{Endpoint: ep, Discriminator: 9, Operation: message.BfdCreate, Success: true},
		},
		{
			name: "last dump chunk",
			req: &topoapi.IngestRequest{
				Region: "east", Kind: topoapi.KindDump, CorrelationID: "d-1",
				Dump: &topoapi.DumpChunk{Last: true},
			},
			want: message.NetworkDumpChunk{Last: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			eng := &fakeEngine{}
			client := serve(t, eng, nil)

			if err := client.Ingest(context.Background(), tt.req); err != nil {
				t.Fatalf("Ingest: %v", err)
			}

			got := eng.last()
			if got.Region != tt.req.Region || got.CorrelationID != tt.req.CorrelationID {
				t.Errorf("envelope = %s/%q, want %s/%q", got.Region, got.CorrelationID, tt.req.Region, tt.req.CorrelationID)
			}
			if diff := cmp.Diff(tt.want, got.Event); diff != "" {
				t.Errorf("event (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIngestRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *topoapi.IngestRequest
		err  error
		want connect.Code
	}{
		{
			name: "unknown kind",
			req:  &topoapi.IngestRequest{Region: "east", Kind: "bogus"},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "missing payload",
			req:  &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindPort},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "bad switch id",
			req: &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindSwitch, Switch: &topoapi.SwitchEvent{
				Switch: "not-a-switch", State: "deactivated",
			}},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "unknown region",
			req:  &topoapi.IngestRequest{Region: "west", Kind: topoapi.KindHeartbeat},
			err:  region.ErrUnknownRegion,
			want: connect.CodeNotFound,
		},
		{
			name: "rejected reply",
			req:  &topoapi.IngestRequest{Region: "east", Kind: topoapi.KindAlive, CorrelationID: "x"},
			err:  region.ErrReplyRejected,
			want: connect.CodeFailedPrecondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := serve(t, &fakeEngine{err: tt.err}, nil)

			err := client.Ingest(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := connectCode(t, err); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Routing
// -------------------------------------------------------------------------

func TestRouteCommandConverts(t *testing.T) {
	t.Parallel()

	ep := model.NewEndpoint(1, 7)
	remote := model.NewEndpoint(2, 3)

	tests := []struct {
		name string
		cmd  topoapi.Command
		want message.Command
	}{
		{
			name: "network dump",
			cmd:  topoapi.Command{Kind: topoapi.CommandNetworkDump, Region: "ignored"},
			want: message.NetworkDumpRequest{},
		},
		{
			name: "discover isl",
			cmd: topoapi.Command{
				Kind:     topoapi.CommandDiscoverIsl,
				Endpoint: &topoapi.Endpoint{Switch: sw1, Port: 7},
				PacketNo: 11,
			},
			want: message.DiscoverIsl{Endpoint: ep, PacketNo: 11},
		},
		{
			name: "bfd create",
			cmd: topoapi.Command{
				Kind:          topoapi.CommandBfdCreate,
				Endpoint:      &topoapi.Endpoint{Switch: sw1, Port: 7},
				LogicalPort:   207,
				Remote:        &topoapi.Endpoint{Switch: "0x2", Port: 3},
				Discriminator: 5,
				Interval:      350 * time.Millisecond,
				Multiplier:    3,
			},
			want: message.CreateBfdSession{
				Endpoint:      ep,
				LogicalPort:   207,
				Remote:        remote,
				Discriminator: 5,
				Interval:      350 * time.Millisecond,
				Multiplier:    3,
			},
		},
		{
			name: "bfd remove",
			cmd: topoapi.Command{
				Kind:          topoapi.CommandBfdRemove,
				Endpoint:      &topoapi.Endpoint{Switch: sw1, Port: 7},
				LogicalPort:   207,
				Discriminator: 5,
			},
			want: message.RemoveBfdSession{Endpoint: ep, LogicalPort: 207, Discriminator: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			eng := &fakeEngine{}
			client := serve(t, eng, nil)

			resp, err := client.RouteCommand(context.Background(), tt.cmd)
			if err != nil {
				t.Fatalf("RouteCommand: %v", err)
			}
			want := &topoapi.RouteCommandResponse{CorrelationID: "route-1", Regions: []string{"east"}}
			if diff := cmp.Diff(want, resp); diff != "" {
				t.Errorf("response (-want +got):\n%s", diff)
			}
			routed := eng.commands()
			if len(routed) != 1 {
				t.Fatalf("routed %d commands, want 1", len(routed))
			}
			if diff := cmp.Diff(tt.want, routed[0]); diff != "" {
				t.Errorf("command (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouteCommandRejects(t *testing.T) {
	t.Parallel()

	dump := topoapi.Command{Kind: topoapi.CommandNetworkDump}

	tests := []struct {
		name string
		cmd  topoapi.Command
		err  error
		want connect.Code
	}{
		{
			name: "unknown kind",
			cmd:  topoapi.Command{Kind: "reboot"},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "switch command without endpoint",
			cmd:  topoapi.Command{Kind: topoapi.CommandDiscoverIsl},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "bfd create without remote",
			cmd: topoapi.Command{
				Kind:     topoapi.CommandBfdCreate,
				Endpoint: &topoapi.Endpoint{Switch: sw1, Port: 7},
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "bad switch id",
			cmd: topoapi.Command{
				Kind:     topoapi.CommandBfdRemove,
				Endpoint: &topoapi.Endpoint{Switch: "not-a-switch", Port: 7},
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "switch without region",
			cmd:  topoapi.Command{Kind: topoapi.CommandDiscoverIsl, Endpoint: &topoapi.Endpoint{Switch: sw1, Port: 7}},
			err:  region.ErrNoRegion,
			want: connect.CodeNotFound,
		},
		{
			name: "every region dead",
			cmd:  dump,
			err:  region.ErrRegionDead,
			want: connect.CodeUnavailable,
		},
		{
			name: "engine stopped",
			cmd:  dump,
			err:  engine.ErrNotRunning,
			want: connect.CodeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := serve(t, &fakeEngine{err: tt.err}, nil)

			_, err := client.RouteCommand(context.Background(), tt.cmd)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := connectCode(t, err); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Snapshots
// -------------------------------------------------------------------------

func TestListSwitches(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{switches: []topology.SwitchSnapshot{{
		Switch: 1,
		State:  topology.SwitchOnline,
		Ports:  []model.PortFacts{{Endpoint: model.NewEndpoint(1, 7), LinkStatus: model.LinkUp}},
	}}}
	client := serve(t, eng, nil)

	got, err := client.ListSwitches(context.Background())
	if err != nil {
		t.Fatalf("ListSwitches: %v", err)
	}

	want := []topoapi.Switch{{
		Switch: sw1,
		State:  "Online",
		Ports:  []topoapi.PortView{{Port: 7, Status: "up"}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("switches (-want +got):\n%s", diff)
	}
}

func TestListBeforeEngineRuns(t *testing.T) {
	t.Parallel()

	client := serve(t, &fakeEngine{err: engine.ErrNotRunning}, nil)

	_, err := client.ListIsls(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := connectCode(t, err); got != connect.CodeUnavailable {
		t.Errorf("code = %s, want Unavailable", got)
	}
}

// -------------------------------------------------------------------------
// Engine round trip
// -------------------------------------------------------------------------

// TestCommandRoundTrip attaches a command stream for east, answers the alive
// request it receives and expects the network dump request that follows,
// then routes an operator dump request to the same stream.
func TestCommandRoundTrip(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	hub := server.NewCommandHub(16, logger)
	eng := startEngine(t, hub)
	client := serve(t, eng, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.WatchCommands(ctx, "east")
	if err != nil {
		t.Fatalf("WatchCommands: %v", err)
	}
	defer stream.Close()

	waitFor(t, "command subscriber", func() bool { return hub.Subscribers("east") == 1 })

	t0 := time.Unix(1_700_000_000, 0)
	eng.Tick(t0)

	if !stream.Receive() {
		t.Fatalf("Receive alive request: %v", stream.Err())
	}
	alive := stream.Msg()
	if alive.Kind != "alive_request" || alive.Region != "east" || alive.CorrelationID == "" {
		t.Fatalf("first command = %+v, want an alive request for east", alive)
	}

	err = client.Ingest(ctx, &topoapi.IngestRequest{
		Region:        "east",
		CorrelationID: alive.CorrelationID,
		Kind:          topoapi.KindAlive,
	})
	if err != nil {
		t.Fatalf("Ingest alive: %v", err)
	}

	if !stream.Receive() {
		t.Fatalf("Receive dump request: %v", stream.Err())
	}
	if dump := stream.Msg(); dump.Kind != "network_dump" || dump.CorrelationID == "" {
		t.Fatalf("second command = %+v, want a network dump request", dump)
	}

	routed, err := client.RouteCommand(ctx, topoapi.Command{Kind: topoapi.CommandNetworkDump})
	if err != nil {
		t.Fatalf("RouteCommand: %v", err)
	}
	if diff := cmp.Diff([]string{"east"}, routed.Regions); diff != "" {
		t.Errorf("routed regions (-want +got):\n%s", diff)
	}
	if !stream.Receive() {
		t.Fatalf("Receive routed command: %v", stream.Err())
	}
	if got := stream.Msg(); got.Kind != "network_dump" || got.CorrelationID != routed.CorrelationID {
		t.Errorf("third command = %+v, want network_dump with id %s", got, routed.CorrelationID)
	}

	regions, err := client.ListRegions(ctx)
	if err != nil {
		t.Fatalf("ListRegions: %v", err)
	}
	if len(regions) != 1 || !regions[0].Alive || regions[0].SyncState != "WaitSync" {
		t.Errorf("regions = %+v, want east alive in WaitSync", regions)
	}
}

// -------------------------------------------------------------------------
// CommandHub
// -------------------------------------------------------------------------

func TestCommandHub(t *testing.T) {
	t.Parallel()

	hub := server.NewCommandHub(1, slog.New(slog.DiscardHandler))
	ctx := context.Background()
	msg := message.Outbound{Region: "east", Command: message.AliveRequest{}}

	if err := hub.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish without subscribers: %v", err)
	}

	ch, cancel := hub.Subscribe("east")
	other, cancelOther := hub.Subscribe("west")
	defer cancelOther()

	_ = hub.Publish(ctx, msg)
	_ = hub.Publish(ctx, msg) // buffer of one: dropped

	if got := <-ch; got.Command.Kind() != "alive_request" {
		t.Errorf("received %s, want alive_request", got.Command.Kind())
	}
	select {
	case got := <-ch:
		t.Errorf("lagging subscriber received %s, want drop", got.Command.Kind())
	default:
	}
	select {
	case got := <-other:
		t.Errorf("west received %s addressed to east", got.Command.Kind())
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	if n := hub.Subscribers("east"); n != 0 {
		t.Errorf("Subscribers(east) = %d after cancel, want 0", n)
	}
}
