package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

// newTestShell returns a shell over a tree built from the real commands
// plus "echo", which prints its --count flag. fetches counts id lookups.
func newTestShell(t *testing.T) (sh *shell, out, errOut *strings.Builder, fetches *int) {
	t.Helper()

	out, errOut, fetches = &strings.Builder{}, &strings.Builder{}, new(int)

	root := &cobra.Command{Use: "topoctl", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("format", "table", "output format")
	root.SetOut(out)
	root.SetErr(errOut)

	var count int
	echo := &cobra.Command{
		Use:   "echo",
		Short: "Print the count",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			fmt.Fprintf(c.OutOrStdout(), "count=%d\n", count)
			return nil
		},
	}
	echo.Flags().IntVar(&count, "count", 1, "value to print")

	root.AddCommand(switchCmd(), portCmd(), monitorCmd(), sendCmd(), versionCmd(), shellCmd(), echo)

	sh = &shell{
		root:   root,
		out:    out,
		errOut: errOut,
		fetch: func(context.Context) (shellIDs, error) {
			*fetches++
			return shellIDs{
				regions:   []string{"west", "east"},
				endpoints: []string{"00:00:00:00:00:00:00:01_1", "00:00:00:00:00:00:00:02_5"},
			}, nil
		},
	}
	return sh, out, errOut, fetches
}

func TestShellHelpFollowsTree(t *testing.T) {
	t.Parallel()

	sh, _, _, _ := newTestShell(t)

	out, err := sh.help()
	if err != nil {
		t.Fatalf("help: %v", err)
	}

	for _, want := range []string{
		"switch list",
		"port list",
		"monitor [--region]",
		"send <kind> [--discriminator] [--endpoint]",
		"version [--short]",
		"echo [--count]",
		"Print the count",
		"refresh",
		"exit, quit",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\nshell ") {
		t.Errorf("help offers the shell inside itself:\n%s", out)
	}
}

func TestShellComplete(t *testing.T) {
	t.Parallel()

	sh, _, _, fetches := newTestShell(t)

	tests := []struct {
		text string
		want []string
	}{
		{text: "", want: []string{"echo", "monitor", "port", "send", "switch", "version"}},
		{text: "sw", want: []string{"switch"}},
		{text: "switch ", want: []string{"list"}},
		{text: "send ", want: []string{"alive_request", "bfd_create", "bfd_remove", "discover_isl", "network_dump"}},
		{text: "send bfd_", want: []string{"bfd_create", "bfd_remove"}},
		{text: "monitor --r", want: []string{"--region"}},
		{text: "monitor --", want: []string{"--format", "--region"}},
		{text: "monitor --region ", want: []string{"east", "west"}},
		{text: "monitor --region w", want: []string{"west"}},
		{text: "send bfd_create --endpoint 00:00:00:00:00:00:00:02", want: []string{"00:00:00:00:00:00:00:02_5"}},
		{text: "send bfd_create --endpoint 00:00:00:00:00:00:00:01_1 --remote ", want: []string{
			"00:00:00:00:00:00:00:01_1", "00:00:00:00:00:00:00:02_5",
		}},
		{text: "bogus", want: nil},
	}

	// Subtests share the shell's id cache and run in order.
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := sh.complete(context.Background(), tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("complete(%q) (-want +got):\n%s", tt.text, diff)
			}
		})
	}

	if *fetches != 1 {
		t.Errorf("ids fetched %d times, want once", *fetches)
	}
}

func TestShellCompleteFetchError(t *testing.T) {
	t.Parallel()

	sh, _, errOut, _ := newTestShell(t)
	sh.fetch = func(context.Context) (shellIDs, error) {
		return shellIDs{}, errors.New("connection refused")
	}

	if got := sh.complete(context.Background(), "monitor --region "); len(got) != 0 {
		t.Errorf("complete = %v, want nothing when ids cannot be fetched", got)
	}
	if !strings.Contains(errOut.String(), "connection refused") {
		t.Errorf("error output = %q, want the fetch error", errOut.String())
	}
	if sh.ids != nil {
		t.Error("failed fetch was cached")
	}
}

func TestShellRun(t *testing.T) {
	t.Parallel()

	sh, out, errOut, fetches := newTestShell(t)

	input := strings.Join([]string{
		"echo --count 3",
		"echo",
		"monitor --region ?",
		"refresh",
		"monitor --region e?",
		"shell",
		"send reboot",
		"exit",
		"echo --count 9",
	}, "\n")

	if err := sh.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	first, second := strings.Index(got, "count=3"), strings.Index(got, "count=1")
	if first < 0 || second < first {
		t.Errorf("flag from one line leaked into the next:\n%s", got)
	}
	if strings.Contains(got, "count=9") {
		t.Errorf("line after exit was run:\n%s", got)
	}
	if !strings.Contains(got, "east  west") {
		t.Errorf("region completions missing:\n%s", got)
	}
	if *fetches != 2 {
		t.Errorf("ids fetched %d times, want 2 across a refresh", *fetches)
	}

	errs := errOut.String()
	if !strings.Contains(errs, "already in the shell") {
		t.Errorf("nested shell not refused:\n%s", errs)
	}
	if !strings.Contains(errs, `invalid argument "reboot"`) {
		t.Errorf("unknown command kind not reported:\n%s", errs)
	}
}
