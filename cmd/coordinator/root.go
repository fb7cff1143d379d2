package main

import (
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Job coordinator for a heterogeneous cluster",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	serve := newServeCmd()
	root.AddCommand(serve)
	root.AddCommand(newOperatorCmds()...)

	// Running the bare binary serves, as in a container entrypoint.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}
