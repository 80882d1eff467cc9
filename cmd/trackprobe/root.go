package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	serve := newServeCommand()

	root := &cobra.Command{
		Use:           "trackprobe",
		Short:         "Probe audio files, merge their metadata and serve the library",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	root.AddCommand(serve)
	root.AddCommand(newProbeCommand())
	root.AddCommand(newSidecarsCommand())
	return root
}
