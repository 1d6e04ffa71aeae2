package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// listCmd builds "<noun> list" for one snapshot RPC. fetch returns the
// rendered output.
func listCmd(noun, short string, fetch func(ctx context.Context) (string, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   noun,
		Short: short,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			out, err := fetch(c.Context())
			if err != nil {
				return err
			}

			fmt.Print(out)

			return nil
		},
	})

	return cmd
}

func switchCmd() *cobra.Command {
	return listCmd("switch", "List switches", func(ctx context.Context) (string, error) {
		switches, err := client.ListSwitches(ctx)
		if err != nil {
			return "", fmt.Errorf("list switches: %w", err)
		}
		return formatSwitches(switches, outputFormat)
	})
}

func portCmd() *cobra.Command {
	return listCmd("port", "List ports", func(ctx context.Context) (string, error) {
		ports, err := client.ListPorts(ctx)
		if err != nil {
			return "", fmt.Errorf("list ports: %w", err)
		}
		return formatPorts(ports, outputFormat)
	})
}

func islCmd() *cobra.Command {
	return listCmd("isl", "List inter-switch links", func(ctx context.Context) (string, error) {
		isls, err := client.ListIsls(ctx)
		if err != nil {
			return "", fmt.Errorf("list isls: %w", err)
		}
		return formatIsls(isls, outputFormat)
	})
}

func bfdCmd() *cobra.Command {
	return listCmd("bfd", "List BFD-enabled ports", func(ctx context.Context) (string, error) {
		ports, err := client.ListBfdPorts(ctx)
		if err != nil {
			return "", fmt.Errorf("list bfd ports: %w", err)
		}
		return formatBfdPorts(ports, outputFormat)
	})
}

func regionCmd() *cobra.Command {
	return listCmd("region", "List regional controllers", func(ctx context.Context) (string, error) {
		regions, err := client.ListRegions(ctx)
		if err != nil {
			return "", fmt.Errorf("list regions: %w", err)
		}
		return formatRegions(regions, outputFormat)
	})
}
