package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const shellPrompt = "topoctl> "

// idFlags take a region name or a port endpoint as their value.
var idFlags = map[string]bool{
	"--region":   true,
	"--endpoint": true,
	"--remote":   true,
}

// shellIDs are the region names and port endpoints known to the daemon.
type shellIDs struct {
	regions   []string
	endpoints []string
}

// shell runs topoctl command lines. Help is generated from the command
// tree. A line ending in "?" lists the completions of its last word:
// subcommands, flags, command kinds, region names after --region and port
// endpoints after --endpoint or --remote. Ids are fetched once and kept
// until "refresh".
type shell struct {
	root   *cobra.Command
	out    io.Writer
	errOut io.Writer
	fetch  func(ctx context.Context) (shellIDs, error)

	ids *shellIDs
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive topoctl shell",
		Long: "Reads topoctl commands line by line. 'help' lists the commands, a trailing '?' " +
			"lists completions, 'refresh' reloads region and port ids, 'exit' or 'quit' leaves.",
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			sh := &shell{
				root:   c.Root(),
				out:    c.OutOrStdout(),
				errOut: c.ErrOrStderr(),
				fetch:  fetchShellIDs,
			}
			return sh.run(c.Context(), c.InOrStdin())
		},
	}
}

func fetchShellIDs(ctx context.Context) (shellIDs, error) {
	regions, err := client.ListRegions(ctx)
	if err != nil {
		return shellIDs{}, fmt.Errorf("list regions: %w", err)
	}
	ports, err := client.ListPorts(ctx)
	if err != nil {
		return shellIDs{}, fmt.Errorf("list ports: %w", err)
	}

	ids := shellIDs{
		regions:   make([]string, 0, len(regions)),
		endpoints: make([]string, 0, len(ports)),
	}
	for _, r := range regions {
		ids.regions = append(ids.regions, r.Name)
	}
	for _, p := range ports {
		ids.endpoints = append(ids.endpoints, endpoint(p.Endpoint))
	}
	return ids, nil
}

func (sh *shell) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(sh.out, "topoctl shell on %s. 'help' lists commands, a trailing '?' completes, 'exit' quits.\n\n", serverAddr)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(sh.out, shellPrompt)
		if !scanner.Scan() {
			break
		}
		if !sh.exec(ctx, scanner.Text()) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	fmt.Fprintln(sh.out)
	return nil
}

// exec handles one line and reports whether the shell goes on.
func (sh *shell) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	switch {
	case line == "":
	case line == "exit" || line == "quit":
		return false
	case line == "help":
		out, err := sh.help()
		if err != nil {
			fmt.Fprintln(sh.errOut, "Error:", err)
			break
		}
		fmt.Fprint(sh.out, out)
	case line == "refresh":
		sh.ids = nil
	case strings.HasSuffix(line, "?"):
		fmt.Fprintln(sh.out, strings.Join(sh.complete(ctx, strings.TrimSuffix(line, "?")), "  "))
	default:
		args := strings.Fields(line)
		if args[0] == "shell" {
			fmt.Fprintln(sh.errOut, "already in the shell")
			break
		}
		sh.execute(ctx, args)
	}
	return true
}

// execute runs one command line against the tree. Flags set on the line
// are put back to their defaults afterwards so they do not leak into the
// next line.
func (sh *shell) execute(ctx context.Context, args []string) {
	sh.root.SetArgs(args)
	c, err := sh.root.ExecuteContextC(ctx)
	if err != nil {
		fmt.Fprintln(sh.errOut, "Error:", err)
	}
	if c != nil {
		resetFlags(c.LocalNonPersistentFlags())
	}
}

func resetFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
}

// -------------------------------------------------------------------------
// Help
// -------------------------------------------------------------------------

func (sh *shell) help() (string, error) {
	var buf strings.Builder
	w := newTable(&buf, "COMMAND\tDESCRIPTION")

	walkLeaves(sh.root, func(c *cobra.Command) {
		fmt.Fprintf(w, "%s\t%s\n", usageLine(c), c.Short)
	})
	fmt.Fprintln(w, "<line>?\tList completions for the last word")
	fmt.Fprintln(w, "refresh\tReload region and port ids")
	fmt.Fprintln(w, "exit, quit\tLeave the shell")

	return flush(w, &buf)
}

// walkLeaves calls fn for every runnable command below c that the shell
// offers, depth first in tree order.
func walkLeaves(c *cobra.Command, fn func(*cobra.Command)) {
	for _, sub := range c.Commands() {
		if !offered(sub) {
			continue
		}
		if sub.HasAvailableSubCommands() {
			walkLeaves(sub, fn)
			continue
		}
		fn(sub)
	}
}

func offered(c *cobra.Command) bool {
	switch c.Name() {
	case "shell", "completion":
		return false
	}
	return c.IsAvailableCommand()
}

// usageLine renders "switch list" or "monitor [--region]": the command
// path below the root, its positional arguments and its own flags.
func usageLine(c *cobra.Command) string {
	parts := []string{strings.TrimPrefix(c.CommandPath(), c.Root().Name()+" ")}
	if _, args, ok := strings.Cut(c.Use, " "); ok {
		parts = append(parts, args)
	}
	c.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Name != "help" {
			parts = append(parts, "[--"+f.Name+"]")
		}
	})
	return strings.Join(parts, " ")
}

// -------------------------------------------------------------------------
// Completion
// -------------------------------------------------------------------------

// complete returns the sorted candidates for the last word of text. A text
// ending in a space completes a new word.
func (sh *shell) complete(ctx context.Context, text string) []string {
	words := strings.Fields(text)
	var prefix string
	if len(words) > 0 && !strings.HasSuffix(text, " ") {
		prefix = words[len(words)-1]
		words = words[:len(words)-1]
	}

	c := sh.root
	for _, word := range words {
		if sub := subcommand(c, word); sub != nil {
			c = sub
		}
	}

	var candidates []string
	switch {
	case len(words) > 0 && idFlags[words[len(words)-1]]:
		candidates = sh.idsFor(ctx, words[len(words)-1])
	case strings.HasPrefix(prefix, "-"):
		collect := func(f *pflag.Flag) { candidates = append(candidates, "--"+f.Name) }
		c.LocalFlags().VisitAll(collect)
		c.InheritedFlags().VisitAll(collect)
	case c.HasAvailableSubCommands():
		for _, sub := range c.Commands() {
			if offered(sub) {
				candidates = append(candidates, sub.Name())
			}
		}
	default:
		candidates = slices.Clone(c.ValidArgs)
	}

	candidates = slices.DeleteFunc(candidates, func(s string) bool { return !strings.HasPrefix(s, prefix) })
	if len(candidates) == 0 {
		return nil
	}
	slices.Sort(candidates)
	return slices.Compact(candidates)
}

func subcommand(c *cobra.Command, name string) *cobra.Command {
	for _, sub := range c.Commands() {
		if sub.Name() == name || sub.HasAlias(name) {
			return sub
		}
	}
	return nil
}

func (sh *shell) idsFor(ctx context.Context, flag string) []string {
	if sh.ids == nil {
		ids, err := sh.fetch(ctx)
		if err != nil {
			fmt.Fprintln(sh.errOut, "Error:", err)
			return nil
		}
		sh.ids = &ids
	}

	if flag == "--region" {
		return slices.Clone(sh.ids.regions)
	}
	return slices.Clone(sh.ids.endpoints)
}
