package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dep2p/go-xroute"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), xroute.VersionInfo())
		},
	}
}
