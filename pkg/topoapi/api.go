// Package topoapi defines the wire types and procedures of the topology
// service, and a typed client for it.
//
// The service is served by ConnectRPC with a JSON codec; every message is a
// plain Go struct. Switch ids are rendered as colon-separated hex datapath
// ids ("00:00:00:00:00:00:00:01").
package topoapi

import "time"

// ServiceName is the fully-qualified name of the topology service.
const ServiceName = "topology.v1.TopologyService"

// Procedure paths.
const (
	IngestProcedure         = "/" + ServiceName + "/Ingest"
	WatchCommandsProcedure  = "/" + ServiceName + "/WatchCommands"
	WatchIslEventsProcedure = "/" + ServiceName + "/WatchIslEvents"
	ListSwitchesProcedure   = "/" + ServiceName + "/ListSwitches"
	ListPortsProcedure      = "/" + ServiceName + "/ListPorts"
	ListIslsProcedure       = "/" + ServiceName + "/ListIsls"
	ListBfdPortsProcedure   = "/" + ServiceName + "/ListBfdPorts"
	ListRegionsProcedure    = "/" + ServiceName + "/ListRegions"
	RouteCommandProcedure   = "/" + ServiceName + "/RouteCommand"
)

// Event kinds accepted by Ingest.
const (
	KindSwitch      = "switch"
	KindPort        = "port"
	KindDiscovery   = "discovery"
	KindBfdStatus   = "bfd_status"
	KindBfdResponse = "bfd_response"
	KindHeartbeat   = "heartbeat"
	KindAlive       = "alive"
	KindDump        = "dump"
)

// Command kinds sent on command streams and accepted by RouteCommand.
const (
	CommandDiscoverIsl  = "discover_isl"
	CommandBfdCreate    = "bfd_create"
	CommandBfdRemove    = "bfd_remove"
	CommandNetworkDump  = "network_dump"
	CommandAliveRequest = "alive_request"
)

// Endpoint is one port on one switch.
type Endpoint struct {
	Switch string `json:"switch"`
	Port   uint32 `json:"port"`
}

// -------------------------------------------------------------------------
// Ingest
// -------------------------------------------------------------------------

// IngestRequest carries one event from a regional controller. Exactly the
// payload field matching Kind is set; heartbeat and alive carry none.
type IngestRequest struct {
	Region        string    `json:"region"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"`

	Switch      *SwitchEvent        `json:"switch,omitempty"`
	Port        *PortEvent          `json:"port,omitempty"`
	Discovery   *DiscoveryEvent     `json:"discovery,omitempty"`
	BfdStatus   *BfdSessionStatus   `json:"bfd_status,omitempty"`
	BfdResponse *BfdSessionResponse `json:"bfd_response,omitempty"`
	Dump        *DumpChunk          `json:"dump,omitempty"`
}

// IngestResponse acknowledges an accepted event.
type IngestResponse struct{}

// PortView is a port as reported by the switch.
type PortView struct {
	Port   uint32 `json:"port"`
	Status string `json:"status"` // "up", "down" or "unknown"
}

// SwitchView is a switch and its full port report.
type SwitchView struct {
	Switch   string     `json:"switch"`
	Ports    []PortView `json:"ports"`
	Features []string   `json:"features,omitempty"`
}

// SwitchEvent reports an activation ("activated", with View) or a
// deactivation ("deactivated").
type SwitchEvent struct {
	Switch string      `json:"switch"`
	State  string      `json:"state"`
	View   *SwitchView `json:"view,omitempty"`
}

// PortEvent reports a port "add", "delete", "up" or "down".
type PortEvent struct {
	Endpoint Endpoint `json:"endpoint"`
	State    string   `json:"state"`
}

// DiscoveryEvent is the result of one discovery probe.
type DiscoveryEvent struct {
	Source   Endpoint      `json:"source"`
	Dest     *Endpoint     `json:"dest,omitempty"`
	PacketNo uint64        `json:"packet_no"`
	Latency  time.Duration `json:"latency_ns"`
	Failed   bool          `json:"failed,omitempty"`
}

// BfdSessionStatus reports the hardware session state of a port.
type BfdSessionStatus struct {
	Endpoint Endpoint `json:"endpoint"`
	Up       bool     `json:"up"`
}

// BfdSessionResponse answers a "create" or "remove" session command.
type BfdSessionResponse struct {
	Endpoint      Endpoint `json:"endpoint"`
	Discriminator uint32   `json:"discriminator"`
	Operation     string   `json:"operation"`
	Success       bool     `json:"success"`
}

// DumpChunk carries one switch of a network dump.
type DumpChunk struct {
	Switch *SwitchView `json:"switch,omitempty"`
	Last   bool        `json:"last,omitempty"`
}

// -------------------------------------------------------------------------
// Streams
// -------------------------------------------------------------------------

// WatchCommandsRequest subscribes to the commands addressed to one region.
type WatchCommandsRequest struct {
	Region string `json:"region"`
}

// Command is one outbound command. Kind is one of the Command* constants;
// the switch commands carry Endpoint.
type Command struct {
	Region        string    `json:"region"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Kind          string    `json:"kind"`
	Endpoint      *Endpoint `json:"endpoint,omitempty"`
	PacketNo      uint64    `json:"packet_no,omitempty"`

	LogicalPort   uint32        `json:"logical_port,omitempty"`
	Remote        *Endpoint     `json:"remote,omitempty"`
	Discriminator uint32        `json:"discriminator,omitempty"`
	Interval      time.Duration `json:"interval_ns,omitempty"`
	Multiplier    uint8         `json:"multiplier,omitempty"`
}

// WatchIslEventsRequest subscribes to ISL state changes.
type WatchIslEventsRequest struct{}

// IslEvent is one ISL state change.
type IslEvent struct {
	Source   Endpoint      `json:"source"`
	Dest     Endpoint      `json:"dest"`
	OldState string        `json:"old_state"`
	NewState string        `json:"new_state"`
	Latency  time.Duration `json:"latency_ns"`
	Time     time.Time     `json:"time"`
}

// -------------------------------------------------------------------------
// Routing
// -------------------------------------------------------------------------

// RouteCommandRequest asks the daemon to send Command to the regions. The
// Region and CorrelationID of Command are ignored: a switch command goes to
// the region owning its switch, any other command to every alive region.
type RouteCommandRequest struct {
	Command Command `json:"command"`
}

// RouteCommandResponse reports the correlation id replies will carry and
// the regions the command was sent to.
type RouteCommandResponse struct {
	CorrelationID string   `json:"correlation_id"`
	Regions       []string `json:"regions"`
}

// -------------------------------------------------------------------------
// Snapshots
// -------------------------------------------------------------------------

// ListSwitchesRequest lists switch controllers.
type ListSwitchesRequest struct{}

// ListSwitchesResponse holds switches ordered by id.
type ListSwitchesResponse struct {
	Switches []Switch `json:"switches"`
}

// Switch is one switch controller.
type Switch struct {
	Switch string     `json:"switch"`
	State  string     `json:"state"`
	Ports  []PortView `json:"ports"`
}

// ListPortsRequest lists port controllers.
type ListPortsRequest struct{}

// ListPortsResponse holds ports ordered by endpoint.
type ListPortsResponse struct {
	Ports []Port `json:"ports"`
}

// Port is one port controller with its uni-ISL view.
type Port struct {
	Endpoint    Endpoint  `json:"endpoint"`
	State       string    `json:"state"`
	LinkStatus  string    `json:"link_status"`
	UniIslState string    `json:"uni_isl_state"`
	Remote      *Endpoint `json:"remote,omitempty"`
	Watched     bool      `json:"watched"`
}

// ListIslsRequest lists ISL controllers.
type ListIslsRequest struct{}

// ListIslsResponse holds ISLs ordered by reference.
type ListIslsResponse struct {
	Isls []Isl `json:"isls"`
}

// Isl is one ISL controller.
type Isl struct {
	Source   Endpoint      `json:"source"`
	Dest     Endpoint      `json:"dest"`
	State    string        `json:"state"`
	SourceUp bool          `json:"source_up"`
	DestUp   bool          `json:"dest_up"`
	Status   string        `json:"status"`
	Latency  time.Duration `json:"latency_ns"`
	Since    time.Time     `json:"since"`
}

// ListBfdPortsRequest lists BFD-port controllers.
type ListBfdPortsRequest struct{}

// ListBfdPortsResponse holds BFD ports ordered by endpoint.
type ListBfdPortsResponse struct {
	BfdPorts []BfdPort `json:"bfd_ports"`
}

// BfdPort is one BFD-port controller.
type BfdPort struct {
	Endpoint      Endpoint `json:"endpoint"`
	LogicalPort   uint32   `json:"logical_port"`
	State         string   `json:"state"`
	Discriminator uint32   `json:"discriminator"`
	Remote        Endpoint `json:"remote"`
	LinkUp        bool     `json:"link_up"`
}

// ListRegionsRequest lists configured regions.
type ListRegionsRequest struct{}

// ListRegionsResponse holds regions ordered by name.
type ListRegionsResponse struct {
	Regions []Region `json:"regions"`
}

// Region is one regional controller connection.
type Region struct {
	Name          string    `json:"name"`
	Alive         bool      `json:"alive"`
	LastAlive     time.Time `json:"last_alive"`
	Switches      int       `json:"switches"`
	SyncState     string    `json:"sync_state"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	LastMessage   time.Time `json:"last_message"`
}
