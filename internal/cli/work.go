package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/relyq"
	"github.com/petrijr/relyq/pkg/worker"
)

// newWorkCommand constructs the `work` subcommand.
func newWorkCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run a worker pool and sweeper against the queue",
		Long: `Run a worker pool and sweeper against the queue until interrupted.

Without --exec every item is printed as "key<TAB>value" and released.
With --exec the command runs through "sh -c" once per item, with the value
on stdin and RELYQ_ITEM_KEY and RELYQ_QUEUE in the environment. Exit status 0
releases the item, any other status requeues it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			command, _ := cmd.Flags().GetString("exec")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Worker.Concurrency
			}
			limit, _ := cmd.Flags().GetDuration("for")

			out := &lockedWriter{w: cmd.OutOrStdout()}
			handler := printHandler(out)
			if command != "" {
				handler = execHandler(command, a.cfg.Queue.Name, out, &lockedWriter{w: cmd.ErrOrStderr()})
			}

			ctx := cmd.Context()
			if limit > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}

			return a.withBackend(ctx, func(b *relyq.Backend) error {
				metrics := &relyq.BasicMetrics{}
				q := b.Queue(a.cfg.Queue, relyq.WithObserver(relyq.NewCompositeObserver(
					relyq.NewLoggingObserver(a.logger), metrics,
				)))

				rcfg := relyq.RunnerConfig{
					Abandoned:   a.cfg.Queue.Abandoned(),
					IdleBackoff: worker.ExponentialBackoff(a.cfg.Worker.PollMin(), 2, a.cfg.Worker.PollMax()),
					Logger:      a.logger,
				}
				if a.cfg.Queue.Reliable {
					rcfg.SweepInterval = a.cfg.Worker.SweepInterval()
				}

				r := relyq.NewRunner(q, handler, rcfg)
				if err := r.Start(ctx, concurrency); err != nil {
					return err
				}
				a.logger.InfoContext(ctx, "worker_started",
					slog.String("queue", q.Name()),
					slog.String("backend", b.Kind),
					slog.Int("concurrency", concurrency),
				)

				<-ctx.Done()
				r.Stop()

				snap := metrics.Snapshot()
				a.logger.Info("worker_stopped",
					slog.String("queue", q.Name()),
					slog.Int64("dequeued", snap.Dequeued),
					slog.Int64("released", snap.Released),
					slog.Int64("requeued", snap.Requeued),
					slog.Int64("swept", snap.Swept),
					slog.Int64("errors", snap.Errors),
				)
				return nil
			})
		},
	}
	cmd.Flags().String("exec", "", "Shell command run once per item")
	cmd.Flags().IntP("concurrency", "c", 4, "Number of worker goroutines (default: worker.concurrency)")
	cmd.Flags().Duration("for", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func printHandler(out io.Writer) relyq.Handler {
	return func(_ context.Context, item relyq.Item) error {
		_, err := fmt.Fprintf(out, "%s\t%s\n", item.Key, item.Value)
		return err
	}
}

func execHandler(command, queue string, stdout, stderr io.Writer) relyq.Handler {
	return func(ctx context.Context, item relyq.Item) error {
		c := exec.CommandContext(ctx, "sh", "-c", command)
		c.Stdin = strings.NewReader(item.Value)
		c.Stdout = stdout
		c.Stderr = stderr
		c.Env = append(os.Environ(), "RELYQ_ITEM_KEY="+item.Key, "RELYQ_QUEUE="+queue)
		c.WaitDelay = 5 * time.Second
		if err := c.Run(); err != nil {
			return fmt.Errorf("exec %q for %s: %w", command, item.Key, err)
		}
		return nil
	}
}
