package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petrijr/relyq"
)

// newEnqueueCommand constructs the `enqueue` subcommand.
func newEnqueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue [value]",
		Short: "Append an item to the pending tail",
		Long:  "Append an item to the pending tail. With no value argument the value is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				key = uuid.NewString()
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = string(data)
			}

			return a.withQueue(cmd.Context(), func(q relyq.Queue) error {
				if err := q.Enqueue(cmd.Context(), relyq.Item{Key: key, Value: value}); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
	cmd.Flags().StringP("key", "k", "", "Item key (default: a random UUID)")
	return cmd
}

// newDequeueCommand constructs the `dequeue` subcommand.
func newDequeueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dequeue",
		Short: "Check out the pending head",
		Long: `Check out the pending head and print "key<TAB>value".

The item stays checked out until it is released, requeued or swept.
Exits non-zero when the queue is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd.Context(), func(q relyq.Queue) error {
				item, ok, err := q.Dequeue(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("queue %s is empty", q.Name())
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", item.Key, item.Value)
				return nil
			})
		},
	}
	return cmd
}

// newReleaseCommand constructs the `release` subcommand.
func newReleaseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "release <key>...",
		Short: "Mark checked-out items as done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), func(q relyq.Queue) error {
				for _, key := range args {
					if err := q.Release(cmd.Context(), relyq.Item{Key: key}); err != nil {
						return fmt.Errorf("release %s: %w", key, err)
					}
				}
				return nil
			})
		},
	}
}

// newRequeueCommand constructs the `requeue` subcommand.
func newRequeueCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <key>...",
		Short: "Return checked-out items to the pending tail",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Queue.Reliable {
				return fmt.Errorf("requeue by key needs a reliable queue: a non-reliable queue dropped the values on dequeue")
			}
			return a.withQueue(cmd.Context(), func(q relyq.Queue) error {
				for _, key := range args {
					if err := q.Requeue(cmd.Context(), relyq.Item{Key: key}); err != nil {
						return fmt.Errorf("requeue %s: %w", key, err)
					}
				}
				return nil
			})
		},
	}
}

// newSweepCommand constructs the `sweep` subcommand.
func newSweepCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Requeue items checked out for longer than the abandoned threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			abandoned, _ := cmd.Flags().GetDuration("abandoned")
			if !cmd.Flags().Changed("abandoned") {
				abandoned = a.cfg.Queue.Abandoned()
			}
			return a.withQueue(cmd.Context(), func(q relyq.Queue) error {
				moved, err := q.Sweep(cmd.Context(), abandoned)
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "moved:", moved)
				return err
			})
		},
	}
	cmd.Flags().Duration("abandoned", 30*time.Second, "Checkout age after which an item is reclaimed (default: queue.abandoned_ms)")
	return cmd
}

// newStatsCommand constructs the `stats` subcommand.
func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pending and working counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd.Context(), func(q relyq.Queue) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				_, _ = fmt.Fprintln(w, "queue:  ", q.Name())
				_, _ = fmt.Fprintln(w, "pending:", stats.Pending)
				_, _ = fmt.Fprintln(w, "working:", stats.Working)
				return nil
			})
		},
	}
}
