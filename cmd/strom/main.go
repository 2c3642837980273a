// Command strom exposes the pipeline engine for smoke tests: listing the
// registered operators and running a built-in demo pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/core/schema"
	"github.com/stromdata/strom/runtime/exec"
	"github.com/stromdata/strom/runtime/operators"
	"github.com/stromdata/strom/runtime/registry"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "strom",
		Short:         "strom pipeline engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(opsCommand(), demoCommand())
	return root
}

func newRegistry() *registry.Registry {
	return operators.RegisterBuiltins(registry.NewBuilder()).Freeze()
}

func opsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List registered operators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range newRegistry().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func demoCommand() *cobra.Command {
	var (
		rows     int
		remote   bool
		verbose bool
		minSev  int
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a built-in demo pipeline",
		Long: "Builds a values | where | discard pipeline over synthetic flow events,\n" +
			"runs it, and prints the collected metrics.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logLevel := slog.LevelWarn
			if verbose {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

			reg := newRegistry()
			sess := registry.Session{Registry: reg}
			pipe, err := demoPipeline(reg, sess, rows, minSev, remote)
			if err != nil {
				return err
			}

			collector := diag.NewCollector()
			sink := metrics.NewMemoryReceiver()
			x := exec.New(pipe, collector, exec.Config{
				Logger:  logger,
				Metrics: sink,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			result := x.Run(ctx)

			for _, d := range collector.All() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", d.Error())
			}
			if result.Failed() {
				return fmt.Errorf("pipeline failed: %s", result.Err.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s: %d nodes, %v\n",
				result.PipelineID, result.NodesRun, result.Duration)
			fmt.Fprintf(cmd.OutOrStdout(), "events forwarded: %d\n",
				sink.Total(exec.OperatorMetricsType, "elements"))
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 1000, "number of synthetic events")
	cmd.Flags().IntVar(&minSev, "min-severity", 2, "drop events below this severity")
	cmd.Flags().BoolVar(&remote, "remote", false, "pin the sink remote to exercise a bridge")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log node state transitions")
	return cmd
}

// demoPipeline assembles values | where severity >= minSev | discard from
// registry invocations, the way a surface parser would.
func demoPipeline(reg *registry.Registry, sess registry.Session, rows, minSev int, remote bool) (*operator.Pipeline, error) {
	flowType := schema.Record("flow",
		schema.F("id", schema.Uint64()),
		schema.F("severity", schema.Int64()),
		schema.F("message", schema.String()),
	)
	data := make([]map[string]any, rows)
	for i := range data {
		data[i] = map[string]any{
			"id":       uint64(i),
			"severity": int64(i % 5),
			"message":  fmt.Sprintf("flow event %d", i),
		}
	}

	var ops []operator.Operator
	for _, inv := range []registry.Invocation{
		{Name: "values", Args: map[string]any{"schema": flowType, "rows": data, "batch_size": 100}},
		{Name: "where", Args: map[string]any{"predicate": expr.Field("severity", expr.OpGe, int64(minSev))}},
		{Name: "discard", Args: nil},
	} {
		op, d := reg.Make(inv, sess)
		if d != nil {
			return nil, *d
		}
		ops = append(ops, op)
	}
	if remote {
		// The filter dissolves into the source during optimization, so
		// the sink is the stage worth pinning: it forces a bridge
		// carrying the surviving events.
		ops[2] = operators.WrapLocation(ops[2], operator.Remote)
	}
	return operator.NewPipeline(ops...), nil
}
