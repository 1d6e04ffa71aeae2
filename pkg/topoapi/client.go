package topoapi

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client is a typed client of the topology service.
type Client struct {
	ingest         *connect.Client[IngestRequest, IngestResponse]
	watchCommands  *connect.Client[WatchCommandsRequest, Command]
	watchIslEvents *connect.Client[WatchIslEventsRequest, IslEvent]
	listSwitches   *connect.Client[ListSwitchesRequest, ListSwitchesResponse]
	listPorts      *connect.Client[ListPortsRequest, ListPortsResponse]
	listIsls       *connect.Client[ListIslsRequest, ListIslsResponse]
	listBfdPorts   *connect.Client[ListBfdPortsRequest, ListBfdPortsResponse]
	listRegions    *connect.Client[ListRegionsRequest, ListRegionsResponse]
	routeCommand   *connect.Client[RouteCommandRequest, RouteCommandResponse]
}

// NewClient creates a Client for the service at baseURL
// (e.g., "http://localhost:50061"). The JSON codec is always installed.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)

	return &Client{
		ingest:         connect.NewClient[IngestRequest, IngestResponse](httpClient, baseURL+IngestProcedure, opts...),
		watchCommands:  connect.NewClient[WatchCommandsRequest, Command](httpClient, baseURL+WatchCommandsProcedure, opts...),
		watchIslEvents: connect.NewClient[WatchIslEventsRequest, IslEvent](httpClient, baseURL+WatchIslEventsProcedure, opts...),
		listSwitches:   connect.NewClient[ListSwitchesRequest, ListSwitchesResponse](httpClient, baseURL+ListSwitchesProcedure, opts...),
		listPorts:      connect.NewClient[ListPortsRequest, ListPortsResponse](httpClient, baseURL+ListPortsProcedure, opts...),
		listIsls:       connect.NewClient[ListIslsRequest, ListIslsResponse](httpClient, baseURL+ListIslsProcedure, opts...),
		listBfdPorts:   connect.NewClient[ListBfdPortsRequest, ListBfdPortsResponse](httpClient, baseURL+ListBfdPortsProcedure, opts...),
		listRegions:    connect.NewClient[ListRegionsRequest, ListRegionsResponse](httpClient, baseURL+ListRegionsProcedure, opts...),
		routeCommand:   connect.NewClient[RouteCommandRequest, RouteCommandResponse](httpClient, baseURL+RouteCommandProcedure, opts...),
	}
}

// Ingest submits one event from a regional controller.
func (c *Client) Ingest(ctx context.Context, req *IngestRequest) error {
	_, err := c.ingest.CallUnary(ctx, connect.NewRequest(req))
	return err
}

// WatchCommands streams the commands addressed to region.
func (c *Client) WatchCommands(ctx context.Context, region string) (*connect.ServerStreamForClient[Command], error) {
	return c.watchCommands.CallServerStream(ctx, connect.NewRequest(&WatchCommandsRequest{Region: region}))
}

// WatchIslEvents streams ISL state changes.
func (c *Client) WatchIslEvents(ctx context.Context) (*connect.ServerStreamForClient[IslEvent], error) {
	return c.watchIslEvents.CallServerStream(ctx, connect.NewRequest(&WatchIslEventsRequest{}))
}

// ListSwitches returns every switch controller.
func (c *Client) ListSwitches(ctx context.Context) ([]Switch, error) {
	resp, err := c.listSwitches.CallUnary(ctx, connect.NewRequest(&ListSwitchesRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Switches, nil
}

// ListPorts returns every port controller.
func (c *Client) ListPorts(ctx context.Context) ([]Port, error) {
	resp, err := c.listPorts.CallUnary(ctx, connect.NewRequest(&ListPortsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Ports, nil
}

// ListIsls returns every ISL controller.
func (c *Client) ListIsls(ctx context.Context) ([]Isl, error) {
	resp, err := c.listIsls.CallUnary(ctx, connect.NewRequest(&ListIslsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Isls, nil
}

// ListBfdPorts returns every BFD-port controller.
func (c *Client) ListBfdPorts(ctx context.Context) ([]BfdPort, error) {
	resp, err := c.listBfdPorts.CallUnary(ctx, connect.NewRequest(&ListBfdPortsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.BfdPorts, nil
}

// ListRegions returns every configured region.
func (c *Client) ListRegions(ctx context.Context) ([]Region, error) {
	resp, err := c.listRegions.CallUnary(ctx, connect.NewRequest(&ListRegionsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Regions, nil
}

// RouteCommand sends cmd to the regions through the daemon.
func (c *Client) RouteCommand(ctx context.Context, cmd Command) (*RouteCommandResponse, error) {
	resp, err := c.routeCommand.CallUnary(ctx, connect.NewRequest(&RouteCommandRequest{Command: cmd}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
