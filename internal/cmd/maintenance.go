package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/taskgraph/internal/filelock"
	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/registry"
	"github.com/Iron-Ham/taskgraph/internal/sweep"
)

func newSweepCmd(a *app) *cobra.Command {
	var (
		every  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Repair a store left inconsistent by a crash or hand edit",
		Long: `Repair the store: drop references to missing tasks and groups, rebuild the
blocks mirrors, requeue blocked tasks whose dependencies are all completed
and recompute group states. The store is only written if something changed.

With --every, keep running on a schedule (a cron expression or a descriptor
such as "@every 1m") until interrupted.`,
		Args: cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		report := func(r registry.SweepReport) error {
			if asJSON {
				return a.printJSON(r)
			}
			a.printSweep(r)
			return nil
		}

		if every == "" {
			r, err := a.reg.Sweep(ctx)
			if err != nil {
				return err
			}
			return report(r)
		}

		s, err := sweep.NewScheduler(a.reg, every,
			sweep.WithLogger(a.logger),
			sweep.WithLimiter(a.limiters.MustGet(limiter.NameState)),
			sweep.WithRunTimeout(a.cfg.Store.LockTimeout+10*time.Second),
			sweep.WithOnRun(func(run sweep.Run) {
				if run.Err != nil {
					a.printf("%s sweep failed: %v\n", run.At.Format(time.TimeOnly), run.Err)
					return
				}
				if run.Report.Changed || asJSON {
					_ = report(run.Report)
				}
			}),
		)
		if err != nil {
			return err
		}
		s.Start()
		if !asJSON {
			a.printf("Sweeping %s on schedule %q; press Ctrl-C to stop\n", a.reg.Path(), every)
		}
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	})
	cmd.Flags().StringVar(&every, "every", "", "run on this schedule instead of once")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	return cmd
}

func (a *app) printSweep(r registry.SweepReport) {
	if !r.Changed && len(r.Cycles) == 0 {
		a.printf("Store is consistent\n")
		return
	}
	a.printf("Sweep repaired the store:\n")
	a.printf("  dangling references removed: %d\n", r.DanglingRemoved)
	a.printf("  mirrors fixed:               %d\n", r.MirrorsFixed)
	a.printf("  groups repaired:             %d\n", r.GroupsRepaired)
	a.printf("  tasks requeued:              %s\n", joinOrNone(r.Requeued))
	for _, c := range r.Cycles {
		a.printf("  cycle through %s -> %s (not repaired)\n", c.From, c.To)
	}
}

func newLockCmd(a *app) *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clean the store's cross-process lock",
	}

	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show who holds the store lock",
		Args:  cobra.NoArgs,
	}
	statusCmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		st, err := filelock.Inspect(a.reg.Path(), a.cfg.Store.LockOptions()...)
		if err != nil {
			return err
		}
		if asJSON {
			return a.printJSON(st)
		}
		if !st.Held {
			a.printf("Unlocked (%s)\n", st.Path)
			return nil
		}
		a.printf("Locked (%s)\n", st.Path)
		if st.Owner != nil {
			a.printf("  owner: pid %d on %s since %s\n",
				st.Owner.PID, st.Owner.Hostname, st.Owner.AcquiredAt.Local().Format(time.DateTime))
		} else {
			a.printf("  owner: unreadable\n")
		}
		a.printf("  age:   %s\n", st.Age.Round(time.Millisecond))
		if st.Stale {
			a.printf("  stale: run 'taskgraph lock clean' to remove it\n")
		}
		return nil
	})
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the store lock if its owner is dead or it has expired",
		Args:  cobra.NoArgs,
	}
	cleanCmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		removed, err := filelock.CleanStale(a.reg.Path(), a.cfg.Store.StaleAfter, a.logger)
		if err != nil {
			return err
		}
		if removed {
			a.printf("Removed stale lock\n")
		} else {
			a.printf("No stale lock\n")
		}
		return nil
	})

	lockCmd.AddCommand(statusCmd, cleanCmd)
	return lockCmd
}
