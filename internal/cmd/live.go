package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/metrics"
	"github.com/Iron-Ham/taskgraph/internal/sweep"
	"github.com/Iron-Ham/taskgraph/internal/tui"
	"github.com/Iron-Ham/taskgraph/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of the store, refreshed whenever any process writes it",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		w, err := a.startWatcher(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()

		changes, cancel := a.bus.Channel(event.TypeStoreChanged, 16)
		defer cancel()

		model := tui.NewModel(a.reg, changes, a.limiters.MustGet(limiter.NameState))
		return tui.New(model).Run(ctx)
	})
	return cmd
}

func (a *app) startWatcher(ctx context.Context) (*watch.Watcher, error) {
	w, err := watch.New(a.reg.Path(), a.bus,
		watch.WithDebounce(a.cfg.Watch.Debounce),
		watch.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch store: %w", err)
	}
	return w, nil
}

func newMetricsCmd(a *app) *cobra.Command {
	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Prometheus metrics for the store",
	}

	var (
		listen    string
		withSweep bool
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics and /healthz until interrupted",
		Long: `Serve Prometheus metrics for the store on /metrics and a liveness probe on
/healthz. Task and limiter gauges are read from the store on every scrape.
Store change events seen by this process are counted as they happen.

With --sweep, the recovery sweep also runs on the configured schedule.`,
		Args: cobra.NoArgs,
	}
	serveCmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		if !serveCmd.Flags().Changed("listen") {
			listen = a.cfg.Metrics.Listen
		}

		w, err := a.startWatcher(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()

		events := metrics.NewEventCounter(a.bus)
		defer events.Close()

		promReg, err := metrics.NewRegistry(
			metrics.NewRegistryCollector(a.reg),
			metrics.NewLimiterCollector(a.limiters),
			events,
		)
		if err != nil {
			return fmt.Errorf("failed to register collectors: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return metrics.Serve(gctx, listen, promReg, a.logger)
		})
		if withSweep {
			s, err := sweep.NewScheduler(a.reg, a.cfg.Sweep.Schedule,
				sweep.WithLogger(a.logger),
				sweep.WithLimiter(a.limiters.MustGet(limiter.NameState)),
				sweep.WithRunTimeout(a.cfg.Store.LockTimeout+10*time.Second),
			)
			if err != nil {
				return err
			}
			s.Start()
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return s.Stop(stopCtx)
			})
		}

		a.printf("Serving metrics for %s on %s\n", a.reg.Path(), listen)
		return g.Wait()
	})
	serveCmd.Flags().StringVar(&listen, "listen", "", "listen address (default from metrics.listen, \":9464\")")
	serveCmd.Flags().BoolVar(&withSweep, "sweep", false, "also run the scheduled recovery sweep")

	metricsCmd.AddCommand(serveCmd)
	return metricsCmd
}
