// Package commands implements the topoctl CLI commands.
package commands

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// render encodes views as JSON or YAML, or calls table for the table format.
func render(views any, format string, table func() (string, error)) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(views)
		if err != nil {
			return "", fmt.Errorf("marshal to YAML: %w", err)
		}
		return string(data), nil
	case formatTable:
		return table()
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// newTable returns a tabwriter over buf with the given header row.
func newTable(buf *strings.Builder, header string) *tabwriter.Writer {
	w := tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header)
	return w
}

func flush(w *tabwriter.Writer, buf *strings.Builder) (string, error) {
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

// --- Switches ---

type switchView struct {
	Switch string   `json:"switch" yaml:"switch"`
	State  string   `json:"state" yaml:"state"`
	Ports  []string `json:"ports" yaml:"ports"`
}

func formatSwitches(switches []topoapi.Switch, format string) (string, error) {
	views := make([]switchView, 0, len(switches))
	for _, sw := range switches {
		v := switchView{Switch: sw.Switch, State: sw.State, Ports: make([]string, 0, len(sw.Ports))}
		for _, p := range sw.Ports {
			v.Ports = append(v.Ports, fmt.Sprintf("%d:%s", p.Port, p.Status))
		}
		views = append(views, v)
	}

	return render(views, format, func() (string, error) {
		var buf strings.Builder
		w := newTable(&buf, "SWITCH\tSTATE\tPORTS\tUP")
		for _, sw := range switches {
			up := 0
			for _, p := range sw.Ports {
				if p.Status == "up" {
					up++
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", sw.Switch, sw.State, len(sw.Ports), up)
		}
		return flush(w, &buf)
	})
}

// --- Ports ---

type portView struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	State       string `json:"state" yaml:"state"`
	LinkStatus  string `json:"link_status" yaml:"link_status"`
	UniIslState string `json:"uni_isl_state" yaml:"uni_isl_state"`
	Remote      string `json:"remote,omitempty" yaml:"remote,omitempty"`
	Watched     bool   `json:"watched" yaml:"watched"`
}

func formatPorts(ports []topoapi.Port, format string) (string, error) {
	views := make([]portView, 0, len(ports))
	for _, p := range ports {
		v := portView{
			Endpoint:    endpoint(p.Endpoint),
			State:       p.State,
			LinkStatus:  p.LinkStatus,
			UniIslState: p.UniIslState,
			Watched:     p.Watched,
		}
		if p.Remote != nil {
			v.Remote = endpoint(*p.Remote)
		}
		views = append(views, v)
	}

	return render(views, format, func() (string, error) {
		var buf strings.Builder
		w := newTable(&buf, "ENDPOINT\tSTATE\tLINK\tUNI-ISL\tREMOTE\tWATCHED")
		for _, v := range views {
			remote := v.Remote
			if remote == "" {
				remote = valueNA
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
				v.Endpoint, v.State, v.LinkStatus, v.UniIslState, remote, v.Watched)
		}
		return flush(w, &buf)
	})
}

// --- ISLs ---

type islView struct {
	Source   string `json:"source" yaml:"source"`
	Dest     string `json:"dest" yaml:"dest"`
	State    string `json:"state" yaml:"state"`
	SourceUp bool   `json:"source_up" yaml:"source_up"`
	DestUp   bool   `json:"dest_up" yaml:"dest_up"`
	Status   string `json:"status" yaml:"status"`
	Latency  string `json:"latency" yaml:"latency"`
	Since    string `json:"since,omitempty" yaml:"since,omitempty"`
}

func formatIsls(isls []topoapi.Isl, format string) (string, error) {
	views := make([]islView, 0, len(isls))
	for _, isl := range isls {
		views = append(views, islView{
			Source:   endpoint(isl.Source),
			Dest:     endpoint(isl.Dest),
			State:    isl.State,
			SourceUp: isl.SourceUp,
			DestUp:   isl.DestUp,
			Status:   isl.Status,
			Latency:  isl.Latency.String(),
			Since:    timestamp(isl.Since),
		})
	}

	return render(views, format, func() (string, error) {
		var buf strings.Builder
		w := newTable(&buf, "SOURCE\tDEST\tSTATE\tSRC-UP\tDST-UP\tSTATUS\tLATENCY")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%s\n",
				v.Source, v.Dest, v.State, v.SourceUp, v.DestUp, v.Status, v.Latency)
		}
		return flush(w, &buf)
	})
}

// --- BFD ports ---

type bfdPortView struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	LogicalPort   uint32 `json:"logical_port" yaml:"logical_port"`
	State         string `json:"state" yaml:"state"`
	Discriminator uint32 `json:"discriminator" yaml:"discriminator"`
	Remote        string `json:"remote" yaml:"remote"`
	LinkUp        bool   `json:"link_up" yaml:"link_up"`
}

func formatBfdPorts(ports []topoapi.BfdPort, format string) (string, error) {
	views := make([]bfdPortView, 0, len(ports))
	for _, p := range ports {
		remote := valueNA
		if p.Remote.Switch != "" {
			remote = endpoint(p.Remote)
		}
		views = append(views, bfdPortView{
			Endpoint:      endpoint(p.Endpoint),
			LogicalPort:   p.LogicalPort,
			State:         p.State,
			Discriminator: p.Discriminator,
			Remote:        remote,
			LinkUp:        p.LinkUp,
		})
	}

	return render(views, format, func() (string, error) {
		var buf strings.Builder
		w := newTable(&buf, "ENDPOINT\tLOGICAL\tSTATE\tDISCRIMINATOR\tREMOTE\tLINK-UP")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%t\n",
				v.Endpoint, v.LogicalPort, v.State, v.Discriminator, v.Remote, v.LinkUp)
		}
		return flush(w, &buf)
	})
}

// --- Regions ---

type regionView struct {
	Name          string `json:"name" yaml:"name"`
	Alive         bool   `json:"alive" yaml:"alive"`
	SyncState     string `json:"sync_state" yaml:"sync_state"`
	Switches      int    `json:"switches" yaml:"switches"`
	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	LastAlive     string `json:"last_alive,omitempty" yaml:"last_alive,omitempty"`
	LastMessage   string `json:"last_message,omitempty" yaml:"last_message,omitempty"`
}

func formatRegions(regions []topoapi.Region, format string) (string, error) {
	views := make([]regionView, 0, len(regions))
	for _, r := range regions {
		views = append(views, regionView{
			Name:          r.Name,
			Alive:         r.Alive,
			SyncState:     r.SyncState,
			Switches:      r.Switches,
			CorrelationID: r.CorrelationID,
			LastAlive:     timestamp(r.LastAlive),
			LastMessage:   timestamp(r.LastMessage),
		})
	}

	return render(views, format, func() (string, error) {
		var buf strings.Builder
		w := newTable(&buf, "REGION\tALIVE\tSYNC\tSWITCHES\tLAST-ALIVE")
		for _, v := range views {
			last := v.LastAlive
			if last == "" {
				last = valueNA
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\n", v.Name, v.Alive, v.SyncState, v.Switches, last)
		}
		return flush(w, &buf)
	})
}

// --- Stream events ---

type islEventView struct {
	Time     string `json:"time" yaml:"time"`
	Source   string `json:"source" yaml:"source"`
	Dest     string `json:"dest" yaml:"dest"`
	OldState string `json:"old_state" yaml:"old_state"`
	NewState string `json:"new_state" yaml:"new_state"`
	Latency  string `json:"latency" yaml:"latency"`
}

// formatIslEvent renders one ISL event. The table format is a single line.
func formatIslEvent(ev *topoapi.IslEvent, format string) (string, error) {
	v := islEventView{
		Time:     timestamp(ev.Time),
		Source:   endpoint(ev.Source),
		Dest:     endpoint(ev.Dest),
		OldState: ev.OldState,
		NewState: ev.NewState,
		Latency:  ev.Latency.String(),
	}
	if v.Time == "" {
		v.Time = valueNA
	}

	out, err := render(v, format, func() (string, error) {
		return fmt.Sprintf("[%s] %s -> %s  %s => %s  latency=%s",
			v.Time, v.Source, v.Dest, v.OldState, v.NewState, v.Latency), nil
	})
	return strings.TrimRight(out, "\n"), err
}

type commandView struct {
	Region        string `json:"region" yaml:"region"`
	Kind          string `json:"kind" yaml:"kind"`
	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Endpoint      string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Remote        string `json:"remote,omitempty" yaml:"remote,omitempty"`
	PacketNo      uint64 `json:"packet_no,omitempty" yaml:"packet_no,omitempty"`
	Discriminator uint32 `json:"discriminator,omitempty" yaml:"discriminator,omitempty"`
}

// formatCommand renders one outbound command. The table format is a single line.
func formatCommand(cmd *topoapi.Command, format string) (string, error) {
	v := commandView{
		Region:        cmd.Region,
		Kind:          cmd.Kind,
		CorrelationID: cmd.CorrelationID,
		PacketNo:      cmd.PacketNo,
		Discriminator: cmd.Discriminator,
	}
	if cmd.Endpoint != nil {
		v.Endpoint = endpoint(*cmd.Endpoint)
	}
	if cmd.Remote != nil {
		v.Remote = endpoint(*cmd.Remote)
	}

	out, err := render(v, format, func() (string, error) {
		line := fmt.Sprintf("[%s] %s", v.Region, v.Kind)
		if v.Endpoint != "" {
			line += "  endpoint=" + v.Endpoint
		}
		if v.Remote != "" {
			line += "  remote=" + v.Remote
		}
		if v.CorrelationID != "" {
			line += "  correlation=" + v.CorrelationID
		}
		return line, nil
	})
	return strings.TrimRight(out, "\n"), err
}

// --- Routed commands ---

type routedView struct {
	CorrelationID string   `json:"correlation_id" yaml:"correlation_id"`
	Regions       []string `json:"regions" yaml:"regions"`
}

func formatRouted(resp *topoapi.RouteCommandResponse, format string) (string, error) {
	v := routedView{CorrelationID: resp.CorrelationID, Regions: resp.Regions}

	return render(v, format, func() (string, error) {
		var buf strings.Builder
		w := newTable(&buf, "CORRELATION ID\tREGIONS")
		fmt.Fprintf(w, "%s\t%s\n", v.CorrelationID, strings.Join(v.Regions, ","))
		return flush(w, &buf)
	})
}

// --- Helpers ---

func endpoint(ep topoapi.Endpoint) string {
	return fmt.Sprintf("%s_%d", ep.Switch, ep.Port)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
