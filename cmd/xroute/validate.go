package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a topology and command schema file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, args[0])
			if err != nil {
				return err
			}
			topo, schema, err := cfg.Build()
			if err != nil {
				return err
			}

			edges, commands := 0, 0
			for _, n := range topo.Nodes() {
				edges += len(topo.EdgesFrom(n))
			}
			for _, n := range schema.Nodes() {
				commands += len(schema.Commands(n))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d nodes, %d edges, %d commands\n",
				len(topo.Nodes()), edges, commands)
			return nil
		},
	}
}
