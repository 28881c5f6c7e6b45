package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

func newRoutesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes <file>",
		Short: "Print the path between every pair of nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, args[0])
			if err != nil {
				return err
			}
			topo, _, err := cfg.Build()
			if err != nil {
				return err
			}

			sources := topo.Nodes()
			if from, _ := cmd.Flags().GetString("from"); from != "" {
				if !topo.HasNode(topology.NodeName(from)) {
					return fmt.Errorf("%w: %s", topology.ErrUnknownNode, from)
				}
				sources = []topology.NodeName{topology.NodeName(from)}
			}

			finder := topology.NewPathFinder(topo)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FROM\tTO\tHOPS\tPATH")
			for _, src := range sources {
				for _, dst := range topo.Nodes() {
					if src == dst {
						continue
					}
					p, err := finder.Resolve(src, dst)
					switch {
					case errors.Is(err, topology.ErrNoRoute):
						fmt.Fprintf(tw, "%s\t%s\t-\tunreachable\n", src, dst)
					case err != nil:
						return err
					default:
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", src, dst, p.Hops(), p)
					}
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("from", "", "Only print routes from this node.")
	return cmd
}
