// Package server implements the ConnectRPC server of the topology daemon.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gotopo/internal/engine"
	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/region"
	"github.com/dantte-lp/gotopo/internal/topology"
	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

// islEventBuffer is the per-stream buffer of ISL events.
const islEventBuffer = 256

// Engine is the part of the topology engine the server exposes.
type Engine interface {
	Handle(msg message.Inbound) error
	Switches(ctx context.Context) ([]topology.SwitchSnapshot, error)
	Ports(ctx context.Context) ([]engine.PortStatus, error)
	Isls(ctx context.Context) ([]topology.IslSnapshot, error)
	BfdPorts(ctx context.Context) ([]topology.BfdPortSnapshot, error)
	Regions(ctx context.Context) ([]engine.RegionStatus, error)
	SubscribeIslEvents(buffer int) (<-chan engine.IslEvent, func())
	Route(ctx context.Context, cmd message.Command) (region.Routed, error)
}

// TopologyServer serves the topology service.
//
// Each RPC delegates to the engine. The server is a thin adapter between
// the JSON API and the internal domain.
type TopologyServer struct {
	engine   Engine
	commands *CommandHub
	logger   *slog.Logger
}

// New creates a TopologyServer and returns the HTTP handler and the path
// prefix it serves. The JSON codec is always installed.
func New(eng Engine, commands *CommandHub, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	s := &TopologyServer{
		engine:   eng,
		commands: commands,
		logger:   logger.With(slog.String("component", "server")),
	}

	opts = append([]connect.HandlerOption{connect.WithCodec(topoapi.Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(topoapi.IngestProcedure, connect.NewUnaryHandler(topoapi.IngestProcedure, s.Ingest, opts...))
	mux.Handle(topoapi.WatchCommandsProcedure, connect.NewServerStreamHandler(topoapi.WatchCommandsProcedure, s.WatchCommands, opts...))
	mux.Handle(topoapi.WatchIslEventsProcedure, connect.NewServerStreamHandler(topoapi.WatchIslEventsProcedure, s.WatchIslEvents, opts...))
	mux.Handle(topoapi.ListSwitchesProcedure, connect.NewUnaryHandler(topoapi.ListSwitchesProcedure, s.ListSwitches, opts...))
	mux.Handle(topoapi.ListPortsProcedure, connect.NewUnaryHandler(topoapi.ListPortsProcedure, s.ListPorts, opts...))
	mux.Handle(topoapi.ListIslsProcedure, connect.NewUnaryHandler(topoapi.ListIslsProcedure, s.ListIsls, opts...))
	mux.Handle(topoapi.ListBfdPortsProcedure, connect.NewUnaryHandler(topoapi.ListBfdPortsProcedure, s.ListBfdPorts, opts...))
	mux.Handle(topoapi.ListRegionsProcedure, connect.NewUnaryHandler(topoapi.ListRegionsProcedure, s.ListRegions, opts...))
	mux.Handle(topoapi.RouteCommandProcedure, connect.NewUnaryHandler(topoapi.RouteCommandProcedure, s.RouteCommand, opts...))

	return "/" + topoapi.ServiceName + "/", mux
}

// -------------------------------------------------------------------------
// Ingest and streams
// -------------------------------------------------------------------------

// Ingest hands one regional controller event to the engine.
func (s *TopologyServer) Ingest(
	_ context.Context,
	req *connect.Request[topoapi.IngestRequest],
) (*connect.Response[topoapi.IngestResponse], error) {
	msg, err := toInbound(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.engine.Handle(msg); err != nil {
		return nil, mapEngineError(err)
	}

	return connect.NewResponse(&topoapi.IngestResponse{}), nil
}

// WatchCommands streams the commands addressed to one region until the
// client goes away.
func (s *TopologyServer) WatchCommands(
	ctx context.Context,
	req *connect.Request[topoapi.WatchCommandsRequest],
	stream *connect.ServerStream[topoapi.Command],
) error {
	if req.Msg.Region == "" {
		return connect.NewError(connect.CodeInvalidArgument, region.ErrUnknownRegion)
	}

	ch, cancel := s.commands.Subscribe(req.Msg.Region)
	defer cancel()

	s.logger.Info("command stream attached", slog.String("region", req.Msg.Region))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(fromOutbound(msg)); err != nil {
				return err
			}
		}
	}
}

// WatchIslEvents streams ISL state changes until the client goes away or
// the engine stops.
func (s *TopologyServer) WatchIslEvents(
	ctx context.Context,
	_ *connect.Request[topoapi.WatchIslEventsRequest],
	stream *connect.ServerStream[topoapi.IslEvent],
) error {
	ch, cancel := s.engine.SubscribeIslEvents(islEventBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(fromIslEvent(ev)); err != nil {
				return err
			}
		}
	}
}

// RouteCommand sends an operator command to the regions through the
// engine's router.
func (s *TopologyServer) RouteCommand(
	ctx context.Context,
	req *connect.Request[topoapi.RouteCommandRequest],
) (*connect.Response[topoapi.RouteCommandResponse], error) {
	cmd, err := toCommand(&req.Msg.Command)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	routed, err := s.engine.Route(ctx, cmd)
	if err != nil {
		return nil, mapEngineError(err)
	}

	s.logger.Info("command routed",
		slog.String("command", cmd.Kind()),
		slog.String("correlation_id", routed.CorrelationID),
		slog.Any("regions", routed.Regions),
	)

	return connect.NewResponse(&topoapi.RouteCommandResponse{
		CorrelationID: routed.CorrelationID,
		Regions:       routed.Regions,
	}), nil
}

// -------------------------------------------------------------------------
// Snapshots
// -------------------------------------------------------------------------

// ListSwitches returns every switch controller.
func (s *TopologyServer) ListSwitches(
	ctx context.Context,
	_ *connect.Request[topoapi.ListSwitchesRequest],
) (*connect.Response[topoapi.ListSwitchesResponse], error) {
	snap, err := s.engine.Switches(ctx)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return connect.NewResponse(&topoapi.ListSwitchesResponse{Switches: fromSwitches(snap)}), nil
}

// ListPorts returns every port controller.
func (s *TopologyServer) ListPorts(
	ctx context.Context,
	_ *connect.Request[topoapi.ListPortsRequest],
) (*connect.Response[topoapi.ListPortsResponse], error) {
	snap, err := s.engine.Ports(ctx)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return connect.NewResponse(&topoapi.ListPortsResponse{Ports: fromPorts(snap)}), nil
}

// ListIsls returns every ISL controller.
func (s *TopologyServer) ListIsls(
	ctx context.Context,
	_ *connect.Request[topoapi.ListIslsRequest],
) (*connect.Response[topoapi.ListIslsResponse], error) {
	snap, err := s.engine.Isls(ctx)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return connect.NewResponse(&topoapi.ListIslsResponse{Isls: fromIsls(snap)}), nil
}

// ListBfdPorts returns every BFD-port controller.
func (s *TopologyServer) ListBfdPorts(
	ctx context.Context,
	_ *connect.Request[topoapi.ListBfdPortsRequest],
) (*connect.Response[topoapi.ListBfdPortsResponse], error) {
	snap, err := s.engine.BfdPorts(ctx)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return connect.NewResponse(&topoapi.ListBfdPortsResponse{BfdPorts: fromBfdPorts(snap)}), nil
}

// ListRegions returns every configured region.
func (s *TopologyServer) ListRegions(
	ctx context.Context,
	_ *connect.Request[topoapi.ListRegionsRequest],
) (*connect.Response[topoapi.ListRegionsResponse], error) {
	snap, err := s.engine.Regions(ctx)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return connect.NewResponse(&topoapi.ListRegionsResponse{Regions: fromRegions(snap)}), nil
}

// -------------------------------------------------------------------------
// Error mapping
// -------------------------------------------------------------------------

// mapEngineError converts engine and region errors to ConnectRPC errors.
func mapEngineError(err error) *connect.Error {
	switch {
	case errors.Is(err, engine.ErrInvalidMessage), errors.Is(err, engine.ErrInvalidCommand):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, region.ErrUnknownRegion), errors.Is(err, region.ErrNoRegion):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, region.ErrRegionDead):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, region.ErrReplyRejected):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, engine.ErrNotRunning):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
