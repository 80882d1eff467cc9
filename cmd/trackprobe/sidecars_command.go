package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"trackprobe/internal/sidecar"
)

func newSidecarsCommand() *cobra.Command {
	var masks string

	cmd := &cobra.Command{
		Use:   "sidecars <file>",
		Short: "List the external audio files that belong to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			s := settings{logger: log.New(cmd.ErrOrStderr(), "trackprobe ", log.LstdFlags|log.Lmsgprefix)}
			if cmd.Flags().Changed("masks") {
				s.masksOverride = &masks
			}

			files, err := sidecar.Locate(path, s.masks())
			if err != nil {
				return err
			}
			for _, file := range files {
				fmt.Fprintln(cmd.OutOrStdout(), file)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&masks, "masks", "", `comma separated folder masks, e.g. "sound*,translation*"`)
	return cmd
}
