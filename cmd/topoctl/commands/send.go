package commands

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

// commandKinds are the command kinds topod routes on behalf of an operator.
var commandKinds = []string{
	topoapi.CommandDiscoverIsl,
	topoapi.CommandBfdCreate,
	topoapi.CommandBfdRemove,
	topoapi.CommandNetworkDump,
	topoapi.CommandAliveRequest,
}

var (
	errUnknownKind     = errors.New("unknown command kind")
	errBadEndpoint     = errors.New("endpoint must be <switch>_<port>")
	errMissingEndpoint = errors.New("switch command needs --endpoint")
	errMissingRemote   = errors.New("bfd_create needs --remote")
)

// sendFlags holds the "send" flags as typed on the command line.
type sendFlags struct {
	endpoint      string
	remote        string
	packetNo      uint64
	logicalPort   uint32
	discriminator uint32
	interval      time.Duration
	multiplier    uint8
}

func sendCmd() *cobra.Command {
	var f sendFlags

	cmd := &cobra.Command{
		Use:   "send <kind>",
		Short: "Send a command to the regional controllers",
		Long: "Routes a command through the topod daemon. Switch commands (discover_isl, bfd_create, " +
			"bfd_remove) need --endpoint and go to the region owning the switch. network_dump and " +
			"alive_request go to every alive region.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: commandKinds,
		RunE: func(c *cobra.Command, args []string) error {
			req, err := buildCommand(args[0], f)
			if err != nil {
				return err
			}

			resp, err := client.RouteCommand(c.Context(), req)
			if err != nil {
				return fmt.Errorf("route %s: %w", req.Kind, err)
			}

			out, err := formatRouted(resp, outputFormat)
			if err != nil {
				return err
			}

			fmt.Print(out)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.endpoint, "endpoint", "", "target port as <switch>_<port>")
	flags.StringVar(&f.remote, "remote", "", "remote end of a bfd_create session as <switch>_<port>")
	flags.Uint64Var(&f.packetNo, "packet-no", 0, "discovery packet number")
	flags.Uint32Var(&f.logicalPort, "logical-port", 0, "BFD logical port")
	flags.Uint32Var(&f.discriminator, "discriminator", 0, "BFD discriminator")
	flags.DurationVar(&f.interval, "interval", 0, "BFD transmit interval")
	flags.Uint8Var(&f.multiplier, "multiplier", 0, "BFD detect multiplier")

	return cmd
}

// buildCommand assembles the wire command for kind from the flags. Field
// values beyond the endpoints are passed through for the daemon to judge.
func buildCommand(kind string, f sendFlags) (topoapi.Command, error) {
	if !slices.Contains(commandKinds, kind) {
		return topoapi.Command{}, fmt.Errorf("%w: %q", errUnknownKind, kind)
	}

	cmd := topoapi.Command{Kind: kind}
	if kind == topoapi.CommandNetworkDump || kind == topoapi.CommandAliveRequest {
		return cmd, nil
	}

	ep, err := parseEndpoint(f.endpoint)
	if err != nil {
		return topoapi.Command{}, err
	}
	if ep == nil {
		return topoapi.Command{}, fmt.Errorf("%s: %w", kind, errMissingEndpoint)
	}
	cmd.Endpoint = ep

	switch kind {
	case topoapi.CommandDiscoverIsl:
		cmd.PacketNo = f.packetNo
	case topoapi.CommandBfdRemove:
		cmd.LogicalPort = f.logicalPort
		cmd.Discriminator = f.discriminator
	case topoapi.CommandBfdCreate:
		remote, err := parseEndpoint(f.remote)
		if err != nil {
			return topoapi.Command{}, err
		}
		if remote == nil {
			return topoapi.Command{}, errMissingRemote
		}
		cmd.Remote = remote
		cmd.LogicalPort = f.logicalPort
		cmd.Discriminator = f.discriminator
		cmd.Interval = f.interval
		cmd.Multiplier = f.multiplier
	}

	return cmd, nil
}

// parseEndpoint reads the <switch>_<port> form the list commands print. An
// empty string yields nil.
func parseEndpoint(s string) (*topoapi.Endpoint, error) {
	if s == "" {
		return nil, nil
	}

	i := strings.LastIndexByte(s, '_')
	if i <= 0 {
		return nil, fmt.Errorf("%w: %q", errBadEndpoint, s)
	}

	port, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", errBadEndpoint, s, err)
	}

	return &topoapi.Endpoint{Switch: s[:i], Port: uint32(port)}, nil
}
