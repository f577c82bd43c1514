package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/taskgraph/internal/registry"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

func newGroupCmd(a *app) *cobra.Command {
	groupCmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups of parallel tasks",
	}
	groupCmd.AddCommand(newGroupCreateCmd(a), newGroupStatusCmd(a), newGroupListCmd(a))
	return groupCmd
}

func newGroupCreateCmd(a *app) *cobra.Command {
	var (
		in        registry.GroupInput
		taskIDs   []string
		join      string
		onFailure string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Group existing tasks under a join strategy",
		Long: `Group existing tasks. The group's state is rolled up from its members
according to the join strategy (all, first, any, any-N, majority) and the
failure policy (fail-fast, continue, ignore).`,
		Example: `  taskgraph group create --name shards --tasks s1,s2,s3 --join majority
  taskgraph group create --name probes --tasks p1,p2,p3,p4 --join any-2 --on-failure ignore`,
		Args: cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		in.TaskIDs = splitIDs(taskIDs)
		strategy, n, err := task.ParseJoinStrategy(join)
		if err != nil {
			return err
		}
		in.JoinStrategy = strategy
		if n > 0 {
			in.JoinCount = n
		}
		if in.OnFailure, err = task.ParseOnFailure(onFailure); err != nil {
			return err
		}

		var g *task.Group
		err = a.state(ctx, "group-create", func(ctx context.Context) error {
			var err error
			g, err = a.reg.CreateGroup(ctx, in)
			return err
		})
		if err != nil {
			return err
		}
		if asJSON {
			return a.printJSON(g)
		}
		a.printf("Created group %s with %d tasks (%s)\n", g.ID, len(g.TaskIDs), g.State)
		return nil
	})

	f := cmd.Flags()
	f.StringVar(&in.ID, "id", "", "group id (generated when empty)")
	f.StringVar(&in.Name, "name", "", "group name")
	f.StringSliceVar(&taskIDs, "tasks", nil, "member task ids")
	f.StringVar(&join, "join", "all", "join strategy: all, first, any, any-N, majority")
	f.IntVar(&in.JoinCount, "join-count", 0, "completed members needed for any-n")
	f.StringVar(&onFailure, "on-failure", "fail-fast", "failure policy: fail-fast, continue, ignore")
	f.BoolVar(&asJSON, "json", false, "print the group as JSON")
	return cmd
}

func newGroupStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a group's rollup state and member counts",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		st, err := a.reg.GroupStatus(args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return a.printJSON(st)
		}

		g, c := st.Group, st.Counts
		a.printf("Group %s (%s): %s\n", g.ID, g.Name, st.State)
		join := string(g.JoinStrategy)
		if g.JoinStrategy == task.JoinAnyN {
			join = fmt.Sprintf("any-%d", g.JoinCount)
		}
		a.printf("  join: %s, on failure: %s\n", join, g.OnFailure)
		a.printf("  members: %d total, %d completed, %d failed, %d running, %d queued, %d blocked, %d cancelled\n",
			c.Total, c.Completed, c.Failed, c.Running, c.Pending, c.Blocked, c.Cancelled)
		switch {
		case st.Join.Satisfied:
			a.printf("  join satisfied\n")
		case st.Join.Impossible:
			a.printf("  join can no longer be satisfied\n")
		default:
			a.printf("  needs %d more completed\n", max(st.Join.Needed-c.Completed, 0))
		}
		return nil
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func newGroupListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		groups, err := a.reg.Groups()
		if err != nil {
			return err
		}
		if asJSON {
			if groups == nil {
				groups = []*task.Group{}
			}
			return a.printJSON(groups)
		}
		if len(groups) == 0 {
			a.printf("No groups\n")
			return nil
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATE\tJOIN\tMEMBERS")
		for _, g := range groups {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", g.ID, dash(g.Name), g.State, g.JoinStrategy, len(g.TaskIDs))
		}
		return tw.Flush()
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "print groups as JSON")
	return cmd
}
