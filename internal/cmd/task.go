package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Iron-Ham/taskgraph/internal/registry"
	"github.com/Iron-Ham/taskgraph/internal/task"
	"github.com/Iron-Ham/taskgraph/internal/util"
)

// maxListDescription bounds the description column of task listings.
const maxListDescription = 60

func newTaskCmd(a *app) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and move tasks",
	}
	taskCmd.AddCommand(
		newTaskAddCmd(a),
		newTaskGetCmd(a),
		newTaskListCmd(a),
		newTaskReadyCmd(a),
		newTaskClaimCmd(a),
		newTaskDepsCmd(a),
		newTaskDeleteCmd(a),
	)
	for _, tc := range transitionCmds(a) {
		taskCmd.AddCommand(tc)
	}
	return taskCmd
}

func newTaskAddCmd(a *app) *cobra.Command {
	var (
		in        registry.TaskInput
		deps      []string
		payload   string
		metadata  string
		join      string
		onFailure string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Long: `Create a task. A task with dependencies that are not all completed starts
blocked and is queued automatically once the last one completes.`,
		Example: `  taskgraph task add --desc "build binaries" --id build
  taskgraph task add --desc "run tests" --dep build --kind ci`,
		Args: cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		in.BlockedBy = splitIDs(deps)
		in.Payload = blob(payload)
		in.Metadata = blob(metadata)
		if join != "" {
			strategy, n, err := task.ParseJoinStrategy(join)
			if err != nil {
				return err
			}
			in.JoinStrategy = strategy
			if n > 0 {
				in.JoinCount = n
			}
		}
		if onFailure != "" {
			policy, err := task.ParseOnFailure(onFailure)
			if err != nil {
				return err
			}
			in.OnFailure = policy
		}

		var created *task.Task
		err := a.state(ctx, "task-add", func(ctx context.Context) error {
			var err error
			created, err = a.reg.Create(ctx, in)
			return err
		})
		if err != nil {
			return err
		}
		if asJSON {
			return a.printJSON(created)
		}
		a.printf("Created task %s (%s)\n", created.ID, created.State)
		return nil
	})

	f := cmd.Flags()
	f.StringVar(&in.ID, "id", "", "task id (generated when empty)")
	f.StringVarP(&in.Description, "desc", "d", "", "task description")
	f.StringVar(&in.ExecutorKind, "kind", "", "executor kind that should run the task")
	f.StringSliceVar(&deps, "deps", nil, "ids of tasks this task is blocked by")
	f.StringVar(&in.Owner, "owner", "", "task owner")
	f.StringVar(&in.Story, "story", "", "story or plan the task belongs to")
	f.StringVar(&in.GroupID, "group", "", "existing group to add the task to")
	f.StringVar(&payload, "payload", "", "opaque payload (JSON, or stored as a string)")
	f.StringVar(&metadata, "metadata", "", "opaque metadata (JSON, or stored as a string)")
	f.StringVar(&join, "join", "", "join strategy: all, first, any, any-N, majority")
	f.IntVar(&in.JoinCount, "join-count", 0, "completed dependencies needed for any-n")
	f.StringVar(&onFailure, "on-failure", "", "failure policy: fail-fast, continue, ignore")
	f.BoolVar(&asJSON, "json", false, "print the created task as JSON")
	_ = cmd.MarkFlagRequired("desc")
	// --dep reads better for a single dependency
	f.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "dep" {
			name = "deps"
		}
		return pflag.NormalizedName(name)
	})
	return cmd
}

func newTaskGetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a task as JSON",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		t, err := a.reg.Get(args[0])
		if err != nil {
			return err
		}
		return a.printJSON(t)
	})
	return cmd
}

// transitionCmds builds one command per state change. Each prints the new
// state, or the task as JSON with --json.
func transitionCmds(a *app) []*cobra.Command {
	type transition struct {
		use, short string
		flag       string // name of the optional value flag, if any
		flagUsage  string
		apply      func(ctx context.Context, id, value string) (*task.Task, error)
	}
	transitions := []transition{
		{
			use: "start <id>", short: "Move a queued task to running",
			apply: func(ctx context.Context, id, _ string) (*task.Task, error) { return a.reg.Start(ctx, id) },
		},
		{
			use: "complete <id>", short: "Complete a running task and unblock its dependents",
			flag: "result", flagUsage: "opaque result (JSON, or stored as a string)",
			apply: func(ctx context.Context, id, v string) (*task.Task, error) { return a.reg.Complete(ctx, id, blob(v)) },
		},
		{
			use: "fail <id>", short: "Mark a running task failed",
			flag: "error", flagUsage: "failure details (JSON, or stored as a string)",
			apply: func(ctx context.Context, id, v string) (*task.Task, error) { return a.reg.Fail(ctx, id, blob(v)) },
		},
		{
			use: "block <id>", short: "Block a queued or running task",
			flag: "reason", flagUsage: "why the task is blocked (recorded in the audit trail)",
			apply: func(ctx context.Context, id, v string) (*task.Task, error) { return a.reg.Block(ctx, id, v) },
		},
		{
			use: "cancel <id>", short: "Cancel a task",
			apply: func(ctx context.Context, id, _ string) (*task.Task, error) { return a.reg.Cancel(ctx, id) },
		},
		{
			use: "retry <id>", short: "Requeue a failed task",
			apply: func(ctx context.Context, id, _ string) (*task.Task, error) { return a.reg.Retry(ctx, id) },
		},
	}

	cmds := make([]*cobra.Command, 0, len(transitions))
	for _, tr := range transitions {
		var value string
		var asJSON bool
		cmd := &cobra.Command{
			Use:   tr.use,
			Short: tr.short,
			Args:  cobra.ExactArgs(1),
		}
		label := "task-" + strings.Fields(tr.use)[0]
		cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
			var t *task.Task
			err := a.state(ctx, label, func(ctx context.Context) error {
				var err error
				t, err = tr.apply(ctx, args[0], value)
				return err
			})
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(t)
			}
			a.printf("Task %s is %s\n", t.ID, t.State)
			return nil
		})
		if tr.flag != "" {
			cmd.Flags().StringVar(&value, tr.flag, "", tr.flagUsage)
		}
		cmd.Flags().BoolVar(&asJSON, "json", false, "print the task as JSON")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func newTaskDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and drop it from its dependents",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		err := a.state(ctx, "task-delete", func(ctx context.Context) error {
			return a.reg.Delete(ctx, args[0])
		})
		if err != nil {
			return err
		}
		a.printf("Deleted task %s\n", args[0])
		return nil
	})
	return cmd
}

func newTaskListCmd(a *app) *cobra.Command {
	var (
		filter registry.Filter
		state  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, oldest first",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		if state != "" {
			st, err := task.ParseState(state)
			if err != nil {
				return err
			}
			filter.State = st
		}
		tasks, err := a.reg.List(filter)
		if err != nil {
			return err
		}
		return a.printTasks(tasks, asJSON)
	})

	f := cmd.Flags()
	f.StringVar(&state, "state", "", "only tasks in this state")
	f.StringVar(&filter.Owner, "owner", "", "only tasks with this owner")
	f.StringVar(&filter.Story, "story", "", "only tasks in this story")
	f.StringVar(&filter.ExecutorKind, "kind", "", "only tasks of this executor kind")
	f.StringVar(&filter.GroupID, "group", "", "only members of this group")
	f.BoolVar(&asJSON, "json", false, "print tasks as JSON")
	return cmd
}

func newTaskReadyCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List queued tasks whose dependencies are all completed",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		tasks, err := a.reg.ReadyTasks()
		if err != nil {
			return err
		}
		return a.printTasks(tasks, asJSON)
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tasks as JSON")
	return cmd
}

func newTaskClaimCmd(a *app) *cobra.Command {
	var (
		opts   registry.ClaimOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Atomically start the oldest ready task",
		Long: `Atomically move the oldest ready task to running. Concurrent claims from
any number of processes never return the same task.`,
		Args: cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		var claimed *task.Task
		err := a.state(ctx, "task-claim", func(ctx context.Context) error {
			var err error
			claimed, err = a.reg.ClaimNext(ctx, opts)
			return err
		})
		if err != nil {
			return err
		}
		if asJSON {
			return a.printJSON(claimed)
		}
		if claimed == nil {
			a.printf("No ready task\n")
			return nil
		}
		a.printf("Claimed task %s: %s\n", claimed.ID, claimed.Description)
		return nil
	})
	cmd.Flags().StringVar(&opts.ExecutorKind, "kind", "", "only claim tasks of this executor kind")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner recorded on the claimed task")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the claimed task as JSON (null when none)")
	return cmd
}

func newTaskDepsCmd(a *app) *cobra.Command {
	var set []string
	cmd := &cobra.Command{
		Use:   "deps <id>",
		Short: "Show or replace a task's dependencies",
		Long: `Without --set, print what the task is blocked by and what it blocks.
With --set, replace its dependencies. The change is rejected if it would
create a cycle. Use --set "" to clear them.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		id := args[0]
		if cmd.Flags().Changed("set") {
			deps := splitIDs(set)
			if deps == nil {
				deps = []string{}
			}
			err := a.state(ctx, "task-deps", func(ctx context.Context) error {
				_, err := a.reg.Update(ctx, id, registry.TaskUpdate{BlockedBy: &deps})
				return err
			})
			if err != nil {
				return err
			}
		}

		t, err := a.reg.Get(id)
		if err != nil {
			return err
		}
		a.printf("%s (%s)\n", t.ID, t.State)
		a.printf("  blocked by: %s\n", joinOrNone(t.BlockedBy))
		a.printf("  blocks:     %s\n", joinOrNone(t.Blocks))
		return nil
	})
	cmd.Flags().StringSliceVar(&set, "set", nil, "replace dependencies with these task ids")
	return cmd
}

func (a *app) printTasks(tasks []*task.Task, asJSON bool) error {
	if asJSON {
		if tasks == nil {
			tasks = []*task.Task{}
		}
		return a.printJSON(tasks)
	}
	if len(tasks) == 0 {
		a.printf("No tasks\n")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tKIND\tOWNER\tBLOCKED BY\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.State, dash(t.ExecutorKind), dash(t.Owner),
			dash(strings.Join(t.BlockedBy, ",")), util.TruncateString(t.Description, maxListDescription))
	}
	return tw.Flush()
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
