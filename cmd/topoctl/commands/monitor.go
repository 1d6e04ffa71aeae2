package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream ISL events or region commands",
		Long: "Connects to the topod daemon and streams ISL state changes until interrupted (Ctrl+C). " +
			"With --region, streams the commands addressed to that regional controller instead.",
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if region != "" {
				return watchCommands(ctx, region)
			}
			return watchIslEvents(ctx)
		},
	}

	cmd.Flags().StringVar(&region, "region", "",
		"stream the commands sent to this region instead of ISL events")

	return cmd
}

func watchIslEvents(ctx context.Context) error {
	stream, err := client.WatchIslEvents(ctx)
	if err != nil {
		return fmt.Errorf("watch isl events: %w", err)
	}
	defer stream.Close()

	for stream.Receive() {
		out, fmtErr := formatIslEvent(stream.Msg(), outputFormat)
		if fmtErr != nil {
			return fmt.Errorf("format event: %w", fmtErr)
		}

		fmt.Println(out)
	}

	return streamErr(stream.Err())
}

func watchCommands(ctx context.Context, region string) error {
	stream, err := client.WatchCommands(ctx, region)
	if err != nil {
		return fmt.Errorf("watch commands: %w", err)
	}
	defer stream.Close()

	for stream.Receive() {
		out, fmtErr := formatCommand(stream.Msg(), outputFormat)
		if fmtErr != nil {
			return fmt.Errorf("format command: %w", fmtErr)
		}

		fmt.Println(out)
	}

	return streamErr(stream.Err())
}

// streamErr treats Ctrl+C as a clean exit.
func streamErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || connect.CodeOf(err) == connect.CodeCanceled {
		return nil
	}
	return fmt.Errorf("stream error: %w", err)
}
