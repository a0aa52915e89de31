package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newParsersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parsers",
		Short: "List registered parsers in the order they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, _, err := opts.registry(cmd)
			if err != nil {
				return err
			}

			for _, name := range r.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
