package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dep2p/go-xroute/internal/core/introspect"
	"github.com/dep2p/go-xroute/internal/sim"
)

func newSimulateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Run every node in an in-process browser model and probe each command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, args[0])
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			s, err := sim.New(cfg, sim.Options{
				ExtensionID: flagOrViperString(cmd, v, "extension-id", "simulate.extension_id"),
				Registerer:  reg,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := s.Start(ctx); err != nil {
				return err
			}

			timeout := flagOrViperDuration(cmd, v, "timeout", "simulate.timeout")
			results := s.Ping(ctx, timeout)
			failed, err := printResults(cmd, results)
			if err != nil {
				return err
			}

			if addr := flagOrViperString(cmd, v, "metrics-addr", "simulate.metrics_addr"); addr != "" {
				if err := serveIntrospect(ctx, cmd, addr, s, reg); err != nil {
					return err
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d probes failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 2*time.Second, "Per-probe request timeout.")
	cmd.Flags().String("metrics-addr", "", "Serve metrics and diagnostics on this address after probing until interrupted.")
	cmd.Flags().String("extension-id", "", "Extension ID (inferred from secureOrigins when empty).")
	return cmd
}

func printResults(cmd *cobra.Command, results []sim.Result) (failed int, err error) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO\tCOMMAND\tRESULT\tELAPSED\tPATH")
	for _, r := range results {
		status := "ok"
		if !r.OK() {
			status = r.Err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.From, r.To, r.Command, status, r.Elapsed.Round(time.Microsecond), r.Path)
	}
	return failed, tw.Flush()
}

// serveIntrospect 提供诊断与指标直到 ctx 结束
func serveIntrospect(ctx context.Context, cmd *cobra.Command, addr string, s *sim.Simulation, reg *prometheus.Registry) error {
	srv := introspect.New(introspect.Config{Addr: addr, Sources: s.Sources(), Gatherer: reg})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on http://%s/metrics and diagnostics on http://%s/debug/introspect\n",
		srv.Addr(), srv.Addr())

	<-ctx.Done()
	return srv.Stop()
}
