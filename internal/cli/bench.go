package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/relyq"
	"github.com/petrijr/relyq/internal/harness"
)

// scratchQueue returns the configured queue settings under a fresh random
// name so runs never touch real items.
func (a *app) scratchQueue(prefix string) relyq.QueueConfig {
	qc := a.cfg.Queue
	qc.Name = fmt.Sprintf("%s-%s-%s", qc.Name, prefix, harness.RandomHex(4))
	return qc
}

// newStressCommand constructs the `stress` subcommand.
func newStressCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run the reliability exercise against the configured store",
		Long: `Run the reliability exercise against the configured store.

Producers enqueue random values while consumers randomly requeue (20%),
drop (10%, a simulated crash) or release (70%) what they dequeue, and a
sweeper reclaims dropped items. Fails if any value was never released.
The run uses a scratch queue named after the configured one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, _ := cmd.Flags().GetInt("items")
			producers, _ := cmd.Flags().GetInt("producers")
			consumers, _ := cmd.Flags().GetInt("consumers")
			abandoned, _ := cmd.Flags().GetDuration("abandoned")

			return a.withBackend(cmd.Context(), func(b *relyq.Backend) error {
				qc := a.scratchQueue("stress")
				factory := func(_ context.Context, obs relyq.Observer) (harness.Queue, error) {
					return b.Queue(qc, relyq.WithObserver(obs)), nil
				}
				report, err := harness.Reliability(cmd.Context(), factory, harness.ReliabilityConfig{
					Items:     items,
					Producers: producers,
					Consumers: consumers,
					Abandoned: abandoned,
					Logger:    a.logger,
				})
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), report.String())
				if err != nil {
					return err
				}
				if len(report.Lost) > 0 {
					return fmt.Errorf("lost %d items (%.2f%%)", len(report.Lost), report.LostPercent())
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("items", 1000, "Number of values to push through the queue")
	cmd.Flags().Int("producers", 2, "Number of producers")
	cmd.Flags().Int("consumers", 2, "Number of consumers")
	cmd.Flags().Duration("abandoned", 2*time.Second, "Sweep threshold")
	return cmd
}

// newBenchCommand constructs the `bench` subcommand.
func newBenchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure dequeue latency against the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, _ := cmd.Flags().GetInt("n")
			return a.withBackend(cmd.Context(), func(b *relyq.Backend) error {
				report, err := harness.Latency(cmd.Context(), b.Queue(a.scratchQueue("bench")), n)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), report.String())
				return nil
			})
		},
	}
	cmd.Flags().Int("n", 10000, "Number of dequeues to time")
	return cmd
}
