// Command pos-agent runs the local resilience layer for a point-of-sale
// terminal. It fronts the store backend with retries, read caching,
// request coordination and an offline mutation queue, and exposes the
// result on a localhost HTTP listener for the terminal software.
package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// flagConfigPath is bound in newRootCmd.
var flagConfigPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pos-agent",
		Short: "Local resilience agent for POS terminals",
		Long: "pos-agent keeps a point-of-sale terminal usable on an unreliable store\n" +
			"network: reads are cached and deduplicated, writes survive outages in a\n" +
			"durable offline queue, and the operator session is tracked and renewed.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "pos-agent.toml", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueueCmd())

	return cmd
}
