package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

var (
	// client is the topology service client, initialized in PersistentPreRunE.
	client *topoapi.Client

	// outputFormat controls the output format for all commands (table, json or yaml).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the ConnectRPC connection.
	serverAddr string
)

// rootCmd is the top-level cobra command for topoctl.
var rootCmd = &cobra.Command{
	Use:   "topoctl",
	Short: "CLI client for the topod daemon",
	Long:  "topoctl inspects the network topology held by the topod daemon and routes commands to its regions via ConnectRPC.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = topoapi.NewClient(
			http.DefaultClient,
			"http://"+serverAddr,
		)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50061",
		"topod daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json, yaml")

	rootCmd.AddCommand(switchCmd())
	rootCmd.AddCommand(portCmd())
	rootCmd.AddCommand(islCmd())
	rootCmd.AddCommand(bfdCmd())
	rootCmd.AddCommand(regionCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
