package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/registry"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

func newAuditCmd(a *app) *cobra.Command {
	var (
		taskID string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the transition audit trail",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		entries, err := a.reg.AuditTrail(taskID)
		if err != nil {
			return err
		}
		if asJSON {
			if entries == nil {
				entries = []task.AuditEntry{}
			}
			return a.printJSON(entries)
		}
		if len(entries) == 0 {
			a.printf("No audit entries\n")
			return nil
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTASK\tTRANSITION\tPID\tREASON")
		for _, e := range entries {
			from := string(e.FromState)
			if from == "" {
				from = "(new)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s -> %s\t%d\t%s\n",
				e.At.Local().Format("2006-01-02 15:04:05"), e.TaskID, from, e.ToState, e.PID, dash(e.Reason))
		}
		return tw.Flush()
	})
	cmd.Flags().StringVar(&taskID, "task", "", "only entries for this task")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

// statsOutput is the JSON form of the stats command.
type statsOutput struct {
	Registry registry.Metrics `json:"registry"`
	Limiters []limiter.Stats  `json:"limiters"`
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by state and limiter settings",
		Long: `Display a summary of the store.

Shows:
- Task counts per state and how many are ready to run
- Groups and audit trail size
- Age of the oldest queued task
- Limiter settings for this process`,
		Args: cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		m, err := a.reg.Metrics()
		if err != nil {
			return err
		}
		if asJSON {
			return a.printJSON(statsOutput{Registry: m, Limiters: a.limiters.Stats()})
		}

		a.printf("STORE\n")
		a.printf("%s\n", strings.Repeat("─", 40))
		a.printf("Path:    %s\n", a.reg.Path())
		a.printf("Tasks:   %d (%d ready)\n", m.Total, m.Ready)
		for _, s := range task.AllStates {
			a.printf("  %-10s %d\n", s, m.ByState[s])
		}
		a.printf("Groups:  %d\n", m.Groups)
		a.printf("Audit:   %d entries\n", m.AuditEntries)
		if m.OldestQueuedAge > 0 {
			a.printf("Oldest queued: %s\n", m.OldestQueuedAge.Round(time.Second))
		}
		a.printf("\nLIMITERS\n")
		a.printf("%s\n", strings.Repeat("─", 40))
		for _, st := range a.limiters.Stats() {
			limit := "unlimited"
			if st.Limit > 0 {
				limit = fmt.Sprintf("%d", st.Limit)
			}
			a.printf("%-6s max %s\n", st.Name, limit)
		}
		return nil
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "output statistics as JSON")
	return cmd
}
