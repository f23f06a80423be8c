// Command kupochain runs the indexer: it dials a chain producer (a local
// node's UNIX socket or an Ogmios bridge), extracts outputs matching the
// registered patterns, persists them to an embedded SQLite store, and
// serves them over the HTTP control plane. Wiring mirrors cmd/engine's
// main in shape — config, then dependent services, then the router —
// generalized to a graceful-shutdown-driven lifecycle instead of a
// fire-and-forget goroutine fan-out.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "kupochain",
		Short: "A chain indexer for Cardano-style UTxO ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, logLevel, logJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "emit structured JSON logs instead of console output")

	return cmd
}
