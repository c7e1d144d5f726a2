// Package cli contains the Cobra commands of the relyq binary.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petrijr/relyq"
	"github.com/petrijr/relyq/internal/config"
	"github.com/petrijr/relyq/internal/logging"
)

type app struct {
	configPath string
	queueName  string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRoot constructs the root command with every subcommand registered.
func NewRoot() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "relyq",
		Short: "Reliable work queue operations",
		Long: `relyq operates on a reliable work queue kept in a shared store.

Item Lifecycle:
  Pending → [dequeue] → Working → [release] → gone
                           ↓ [requeue | sweep]
                        Pending

The store, queue name and worker settings come from --config and
RELYQ_* environment variables (for example RELYQ_STORE_BACKEND=redis).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVarP(&a.queueName, "queue", "q", "", "Queue name (overrides queue.name)")

	root.AddCommand(
		newEnqueueCommand(a),
		newDequeueCommand(a),
		newReleaseCommand(a),
		newRequeueCommand(a),
		newSweepCommand(a),
		newStatsCommand(a),
		newWorkCommand(a),
		newStressCommand(a),
		newBenchCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.queueName != "" {
		cfg.Queue.Name = a.queueName
	}
	a.cfg = cfg
	a.logger = logging.Setup(cmd.ErrOrStderr(), cfg.Log)
	return nil
}

// withBackend opens the configured store for the duration of fn.
func (a *app) withBackend(ctx context.Context, fn func(b *relyq.Backend) error) error {
	b, err := relyq.OpenBackend(ctx, a.cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", a.cfg.Store.Backend, err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			a.logger.Warn("store_close_failed", slog.String("backend", b.Kind), slog.Any("error", cerr))
		}
	}()
	return fn(b)
}

// withQueue opens the configured queue, with engine events logged.
func (a *app) withQueue(ctx context.Context, fn func(q relyq.Queue) error) error {
	return a.withBackend(ctx, func(b *relyq.Backend) error {
		return fn(b.Queue(a.cfg.Queue, relyq.WithObserver(relyq.NewLoggingObserver(a.logger))))
	})
}
