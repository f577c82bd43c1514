package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/taskgraph/internal/dag"
	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/filelock"
	"github.com/Iron-Ham/taskgraph/internal/store"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// fakeClock advances one second per reading so creation order is total.
func fakeClock() func() time.Time {
	var ticks atomic.Int64
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Second)
	}
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	opts = append([]Option{WithClock(fakeClock())}, opts...)
	return New(path, opts...), path
}

func create(t *testing.T, r *Registry, id string, deps ...string) *task.Task {
	t.Helper()
	tk, err := r.Create(context.Background(), TaskInput{ID: id, Description: "task " + id, BlockedBy: deps})
	require.NoError(t, err)
	return tk
}

func get(t *testing.T, r *Registry, id string) *task.Task {
	t.Helper()
	tk, err := r.Get(id)
	require.NoError(t, err)
	return tk
}

// checkInvariants asserts the structural guarantees every mutation keeps.
func checkInvariants(t *testing.T, path string) {
	t.Helper()
	doc, err := store.NewCodec(nil, path).Load()
	require.NoError(t, err)

	assert.Empty(t, dag.ValidateDAG(graphOf(doc)), "graph must stay acyclic")
	for id, tk := range doc.Tasks {
		for _, dep := range tk.BlockedBy {
			if d, ok := doc.Tasks[dep]; ok {
				assert.Contains(t, d.Blocks, id, "mirror of %s -> %s", id, dep)
			}
		}
		for _, dependent := range tk.Blocks {
			d, ok := doc.Tasks[dependent]
			require.True(t, ok, "blocks of %s names missing %s", id, dependent)
			assert.Contains(t, d.BlockedBy, id, "mirror of %s <- %s", id, dependent)
		}
		if tk.State == task.StateQueued {
			assert.True(t, depsCompleted(doc, tk), "queued task %s has incomplete deps", id)
		}
	}
	for _, e := range doc.Audit {
		if e.FromState != "" && e.ToState != "" {
			assert.True(t, task.IsValidTransition(e.FromState, e.ToState), "audited %s -> %s", e.FromState, e.ToState)
		}
	}
}

func TestCreate_InitialState(t *testing.T) {
	r, path := newTestRegistry(t)

	a := create(t, r, "a")
	assert.Equal(t, task.StateQueued, a.State)

	b := create(t, r, "b", "a")
	assert.Equal(t, task.StateBlocked, b.State)
	assert.Equal(t, []string{"a"}, b.BlockedBy)
	assert.Equal(t, []string{"b"}, get(t, r, "a").Blocks)

	checkInvariants(t, path)
}

func TestCreate_AllocatesID(t *testing.T) {
	var n atomic.Int32
	r, _ := newTestRegistry(t, WithIDGenerator(func() string {
		return "gen-" + strconv.Itoa(int(n.Add(1)))
	}))

	tk, err := r.Create(context.Background(), TaskInput{Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", tk.ID)
}

func TestCreate_Validation(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")

	_, err := r.Create(context.Background(), TaskInput{ID: "x", Description: "  "})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = r.Create(context.Background(), TaskInput{ID: "a", Description: "dup"})
	assert.ErrorIs(t, err, errors.ErrTaskExists)

	_, err = r.Create(context.Background(), TaskInput{ID: "b", Description: "b", BlockedBy: []string{"ghost"}})
	assert.ErrorIs(t, err, errors.ErrUnknownDependency)

	_, err = r.Create(context.Background(), TaskInput{ID: "c", Description: "c", BlockedBy: []string{"c"}})
	assert.ErrorIs(t, err, errors.ErrDependencyCycle)

	_, err = r.Create(context.Background(), TaskInput{ID: "d", Description: "d", GroupID: "nope"})
	assert.ErrorIs(t, err, errors.ErrGroupNotFound)

	tasks, err := r.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "rejected creates must not persist anything")
	checkInvariants(t, path)
}

func TestCreate_GroupPolicy(t *testing.T) {
	r, path := newTestRegistry(t)
	ctx := context.Background()

	tk := create(t, r, "a")
	assert.Equal(t, task.JoinAll, tk.JoinStrategy)
	assert.Equal(t, task.FailFast, tk.OnFailure)

	tests := []struct {
		name  string
		in    TaskInput
		field string
	}{
		{"unknown join", TaskInput{ID: "x", Description: "x", JoinStrategy: "bogus"}, "joinStrategy"},
		{"unknown policy", TaskInput{ID: "x", Description: "x", OnFailure: "explode"}, "onFailure"},
		{"any-n without count", TaskInput{ID: "x", Description: "x", JoinStrategy: task.JoinAnyN}, "joinCount"},
		{"negative count", TaskInput{ID: "x", Description: "x", JoinCount: -1}, "joinCount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(ctx, tt.in)
			require.ErrorIs(t, err, errors.ErrInvalidInput)
			var vErr *errors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	tk, err := r.Create(ctx, TaskInput{ID: "n", Description: "n", JoinStrategy: task.JoinAnyN, JoinCount: 2, OnFailure: task.Ignore})
	require.NoError(t, err)
	assert.Equal(t, task.JoinAnyN, tk.JoinStrategy)
	assert.Equal(t, 2, tk.JoinCount)
	assert.Equal(t, task.Ignore, tk.OnFailure)

	_, err = r.CreateGroup(ctx, GroupInput{Name: "bad", JoinStrategy: "bogus"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = r.CreateGroup(ctx, GroupInput{Name: "bad", OnFailure: "explode"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	tasks, err := r.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	checkInvariants(t, path)
}

func TestUpdate_CycleRejectedAtomically(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b", "a")
	create(t, r, "c", "b")

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	deps := []string{"c"}
	_, err = r.Update(context.Background(), "a", TaskUpdate{BlockedBy: &deps})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDependencyCycle)
	var regErr *errors.RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "a", regErr.TaskID)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "no partial edge may be written")
	checkInvariants(t, path)
}

func TestUpdate_ReplaceDependencies(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b")
	create(t, r, "c", "a")

	_, err := r.Complete(context.Background(), "b", nil)
	require.Error(t, err, "queued -> completed is not a legal transition")

	_, err = r.Start(context.Background(), "b")
	require.NoError(t, err)
	_, err = r.Complete(context.Background(), "b", json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)

	deps := []string{"b"}
	c, err := r.Update(context.Background(), "c", TaskUpdate{BlockedBy: &deps})
	require.NoError(t, err)
	assert.Equal(t, task.StateQueued, c.State, "only dependency is completed")
	assert.Empty(t, get(t, r, "a").Blocks)
	assert.Equal(t, []string{"c"}, get(t, r, "b").Blocks)

	deps = []string{"a", "b"}
	c, err = r.Update(context.Background(), "c", TaskUpdate{BlockedBy: &deps})
	require.NoError(t, err)
	assert.Equal(t, task.StateBlocked, c.State)

	checkInvariants(t, path)
}

func TestUpdate_DependenciesWithUnchangedState(t *testing.T) {
	r, path := newTestRegistry(t)
	ctx := context.Background()
	create(t, r, "a")
	create(t, r, "b")

	queued := task.StateQueued
	deps := []string{"a"}
	b, err := r.Update(ctx, "b", TaskUpdate{State: &queued, BlockedBy: &deps})
	require.NoError(t, err)
	assert.Equal(t, task.StateBlocked, b.State, "new incomplete dependency blocks the task")

	ready, err := r.ReadyTasks()
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	blocked := task.StateBlocked
	deps = []string{}
	b, err = r.Update(ctx, "b", TaskUpdate{State: &blocked, BlockedBy: &deps})
	require.NoError(t, err)
	assert.Equal(t, task.StateQueued, b.State, "no dependencies left")

	checkInvariants(t, path)
}

func TestUpdate_InvalidTransition(t *testing.T) {
	r, _ := newTestRegistry(t)
	create(t, r, "a")
	_, err := r.Start(context.Background(), "a")
	require.NoError(t, err)
	_, err = r.Complete(context.Background(), "a", nil)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), "a")
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
	var regErr *errors.RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "completed", regErr.FromState)
	assert.Equal(t, "running", regErr.ToState)

	bad := task.State("paused")
	_, err = r.Update(context.Background(), "a", TaskUpdate{State: &bad})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = r.Update(context.Background(), "missing", TaskUpdate{})
	assert.ErrorIs(t, err, errors.ErrTaskNotFound)
}

func TestUpdate_BlockedToQueuedNeedsCompletedDeps(t *testing.T) {
	r, _ := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b", "a")

	queued := task.StateQueued
	_, err := r.Update(context.Background(), "b", TaskUpdate{State: &queued})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestUpdate_FieldsOnly(t *testing.T) {
	r, _ := newTestRegistry(t)
	create(t, r, "a")

	var events []event.TaskUpdatedEvent
	r.Bus().Subscribe(event.TypeTaskUpdated, func(e event.Event) {
		events = append(events, e.(event.TaskUpdatedEvent))
	})

	owner := "worker-1"
	tk, err := r.Update(context.Background(), "a", TaskUpdate{Owner: &owner, Metadata: json.RawMessage(`{"k":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", tk.Owner)
	assert.JSONEq(t, `{"k":1}`, string(tk.Metadata))
	assert.Equal(t, task.StateQueued, tk.State)

	require.Len(t, events, 1)
	assert.False(t, events[0].StateChanged())
}

func TestComplete_UnblocksDependentsInSameWrite(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b")
	create(t, r, "c", "a", "b")
	create(t, r, "d", "a")

	var unblocked []string
	r.Bus().Subscribe(event.TypeTaskUnblocked, func(e event.Event) {
		unblocked = append(unblocked, e.(event.TaskUnblockedEvent).TaskID)
	})

	for _, id := range []string{"a", "b"} {
		_, err := r.Start(context.Background(), id)
		require.NoError(t, err)
	}
	_, err := r.Complete(context.Background(), "a", json.RawMessage(`"done"`))
	require.NoError(t, err)

	assert.Equal(t, []string{"d"}, unblocked)
	assert.Equal(t, task.StateBlocked, get(t, r, "c").State)
	assert.Equal(t, task.StateQueued, get(t, r, "d").State)

	_, err = r.Complete(context.Background(), "b", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, unblocked)
	assert.Equal(t, task.StateQueued, get(t, r, "c").State)

	a := get(t, r, "a")
	assert.NotNil(t, a.CompletedAt)
	assert.Equal(t, 1, a.Attempts)
	assert.JSONEq(t, `"done"`, string(a.Result))

	checkInvariants(t, path)
}

func TestDelete_PrunesAndRequeues(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b")
	create(t, r, "c", "a", "b")
	_, err := r.Start(context.Background(), "b")
	require.NoError(t, err)
	_, err = r.Complete(context.Background(), "b", nil)
	require.NoError(t, err)

	var deleted event.TaskDeletedEvent
	r.Bus().Subscribe(event.TypeTaskDeleted, func(e event.Event) {
		deleted = e.(event.TaskDeletedEvent)
	})

	require.NoError(t, r.Delete(context.Background(), "a"))

	_, err = r.Get("a")
	assert.ErrorIs(t, err, errors.ErrTaskNotFound)

	c := get(t, r, "c")
	assert.Equal(t, []string{"b"}, c.BlockedBy)
	assert.Equal(t, task.StateQueued, c.State)
	assert.Equal(t, "a", deleted.TaskID)
	assert.Equal(t, []string{"c"}, deleted.Requeued)

	assert.ErrorIs(t, r.Delete(context.Background(), "a"), errors.ErrTaskNotFound)
	checkInvariants(t, path)
}

func TestRetry(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")
	_, err := r.Start(context.Background(), "a")
	require.NoError(t, err)
	_, err = r.Fail(context.Background(), "a", json.RawMessage(`{"msg":"boom"}`))
	require.NoError(t, err)

	tk, err := r.Retry(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, task.StateQueued, tk.State)
	assert.Nil(t, tk.Error)
	assert.Nil(t, tk.CompletedAt)

	_, err = r.Retry(context.Background(), "a")
	assert.ErrorIs(t, err, errors.ErrInvalidTransition, "retry is only legal from failed")

	checkInvariants(t, path)
}

func TestRetry_WithIncompleteDependenciesBlocks(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b")

	// b runs, then a dependency is added while it runs, then b fails.
	_, err := r.Start(context.Background(), "b")
	require.NoError(t, err)
	deps := []string{"a"}
	_, err = r.Update(context.Background(), "b", TaskUpdate{BlockedBy: &deps})
	require.NoError(t, err)
	assert.Equal(t, task.StateRunning, get(t, r, "b").State, "running tasks are not re-blocked")
	_, err = r.Fail(context.Background(), "b", nil)
	require.NoError(t, err)

	tk, err := r.Retry(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, task.StateBlocked, tk.State)

	trail, err := r.AuditTrail("b")
	require.NoError(t, err)
	n := len(trail)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, task.StateQueued, trail[n-2].ToState)
	assert.Equal(t, task.StateBlocked, trail[n-1].ToState)

	checkInvariants(t, path)
}

func TestCancelAndBlock(t *testing.T) {
	r, _ := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b")

	_, err := r.Start(context.Background(), "a")
	require.NoError(t, err)
	tk, err := r.Block(context.Background(), "a", "waiting on review")
	require.NoError(t, err)
	assert.Equal(t, task.StateBlocked, tk.State)

	trail, err := r.AuditTrail("a")
	require.NoError(t, err)
	assert.Equal(t, "waiting on review", trail[len(trail)-1].Reason)

	tk, err = r.Cancel(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, task.StateCancelled, tk.State)
	_, err = r.Start(context.Background(), "b")
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestListFilters(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Create(ctx, TaskInput{ID: "a", Description: "a", Owner: "ann", Story: "s1", ExecutorKind: "shell"})
	require.NoError(t, err)
	_, err = r.Create(ctx, TaskInput{ID: "b", Description: "b", Owner: "bob", Story: "s1", ExecutorKind: "http"})
	require.NoError(t, err)
	_, err = r.Create(ctx, TaskInput{ID: "c", Description: "c", Owner: "ann", Story: "s2", BlockedBy: []string{"a"}})
	require.NoError(t, err)

	ids := func(f Filter) []string {
		ts, err := r.List(f)
		require.NoError(t, err)
		var out []string
		for _, tk := range ts {
			out = append(out, tk.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(Filter{}))
	assert.Equal(t, []string{"a", "c"}, ids(Filter{Owner: "ann"}))
	assert.Equal(t, []string{"a", "b"}, ids(Filter{Story: "s1"}))
	assert.Equal(t, []string{"b"}, ids(Filter{ExecutorKind: "http"}))
	assert.Equal(t, []string{"c"}, ids(Filter{State: task.StateBlocked}))
}

func TestReadOnlyCopies(t *testing.T) {
	r, _ := newTestRegistry(t)
	create(t, r, "a")

	tk := get(t, r, "a")
	tk.Description = "mutated"
	tk.Blocks = append(tk.Blocks, "x")

	again := get(t, r, "a")
	assert.Equal(t, "task a", again.Description)
	assert.Empty(t, again.Blocks)
}

func TestGroups(t *testing.T) {
	r, path := newTestRegistry(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		create(t, r, id)
	}

	var groupEvents int
	r.Bus().Subscribe(event.TypeGroupCreated, func(event.Event) { groupEvents++ })

	g, err := r.CreateGroup(ctx, GroupInput{
		ID:           "g",
		Name:         "fan-out",
		TaskIDs:      []string{"a", "b", "c"},
		JoinStrategy: task.JoinMajority,
		OnFailure:    task.Continue,
	})
	require.NoError(t, err)
	assert.Equal(t, task.GroupPending, g.State)
	assert.Equal(t, 1, groupEvents)
	assert.Equal(t, "g", get(t, r, "a").GroupID)

	_, err = r.CreateGroup(ctx, GroupInput{ID: "h", Name: "other", TaskIDs: []string{"a"}})
	assert.ErrorIs(t, err, errors.ErrInvalidInput, "task already in a group")

	_, err = r.Start(ctx, "a")
	require.NoError(t, err)
	st, err := r.GroupStatus("g")
	require.NoError(t, err)
	assert.Equal(t, task.GroupRunning, st.State)
	assert.Equal(t, 1, st.Counts.Running)

	_, err = r.Fail(ctx, "a", nil)
	require.NoError(t, err)
	for _, id := range []string{"b", "c"} {
		_, err = r.Start(ctx, id)
		require.NoError(t, err)
		_, err = r.Complete(ctx, id, nil)
		require.NoError(t, err)
	}

	st, err = r.GroupStatus("g")
	require.NoError(t, err)
	assert.Equal(t, task.GroupFailed, st.State, "continue reports the failure once all finish")
	assert.Equal(t, task.GroupFailed, st.Group.State, "persisted rollup matches")
	assert.True(t, st.Join.Satisfied, "2 of 3 completed is a majority")
	assert.Equal(t, task.Counts{Total: 3, Completed: 2, Failed: 1}, st.Counts)

	_, err = r.GroupStatus("missing")
	assert.ErrorIs(t, err, errors.ErrGroupNotFound)

	// Deleting a member drops it from the group.
	require.NoError(t, r.Delete(ctx, "a"))
	st, err = r.GroupStatus("g")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, st.Group.TaskIDs)
	assert.Equal(t, task.GroupCompleted, st.State)

	checkInvariants(t, path)
}

func TestGroups_FailFastAndCreateMember(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateGroup(ctx, GroupInput{ID: "g", Name: "ff"})
	require.NoError(t, err)
	_, err = r.Create(ctx, TaskInput{ID: "a", Description: "a", GroupID: "g"})
	require.NoError(t, err)
	_, err = r.Create(ctx, TaskInput{ID: "b", Description: "b", GroupID: "g"})
	require.NoError(t, err)

	_, err = r.Start(ctx, "a")
	require.NoError(t, err)
	_, err = r.Fail(ctx, "a", nil)
	require.NoError(t, err)

	st, err := r.GroupStatus("g")
	require.NoError(t, err)
	assert.Equal(t, task.GroupFailed, st.State)
	assert.Equal(t, []string{"a", "b"}, st.Group.TaskIDs)
	assert.True(t, st.Join.Impossible, "join all cannot succeed after a failure")

	_, err = r.CreateGroup(ctx, GroupInput{Name: "bad", JoinStrategy: task.JoinAnyN})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestReadyTasksAndClaimNext(t *testing.T) {
	r, path := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Create(ctx, TaskInput{ID: "a", Description: "a", ExecutorKind: "shell"})
	require.NoError(t, err)
	_, err = r.Create(ctx, TaskInput{ID: "b", Description: "b", ExecutorKind: "http"})
	require.NoError(t, err)
	_, err = r.Create(ctx, TaskInput{ID: "c", Description: "c", ExecutorKind: "shell", BlockedBy: []string{"a"}})
	require.NoError(t, err)

	ready, err := r.ReadyTasks()
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "a", ready[0].ID)
	assert.Equal(t, "b", ready[1].ID)

	claimed, err := r.ClaimNext(ctx, ClaimOptions{ExecutorKind: "http", Owner: "w1"})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "b", claimed.ID)
	assert.Equal(t, task.StateRunning, claimed.State)
	assert.Equal(t, "w1", claimed.Owner)

	claimed, err = r.ClaimNext(ctx, ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "a", claimed.ID)

	claimed, err = r.ClaimNext(ctx, ClaimOptions{})
	require.NoError(t, err)
	assert.Nil(t, claimed, "c is still blocked")

	checkInvariants(t, path)
}

func TestClaimNext_ConcurrentClaimsAreExclusive(t *testing.T) {
	r, path := newTestRegistry(t)
	for i := range 20 {
		create(t, r, fmt.Sprintf("t%02d", i))
	}
	// A second handle on the same store contends through the file lock.
	other := New(path)

	var mu sync.Mutex
	seen := map[string]int{}
	var g errgroup.Group
	for w := range 6 {
		reg := r
		if w%2 == 1 {
			reg = other
		}
		g.Go(func() error {
			for {
				tk, err := reg.ClaimNext(context.Background(), ClaimOptions{Owner: fmt.Sprintf("w%d", w)})
				if err != nil {
					return err
				}
				if tk == nil {
					return nil
				}
				mu.Lock()
				seen[tk.ID]++
				mu.Unlock()
			}
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s claimed %d times", id, n)
	}
	checkInvariants(t, path)
}

func TestDependencyGraph(t *testing.T) {
	r, _ := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b", "a")
	create(t, r, "c", "a", "b")

	g, err := r.DependencyGraph()
	require.NoError(t, err)
	assert.True(t, g.Valid)
	assert.Len(t, g.Nodes, 3)
	assert.ElementsMatch(t, []Edge{{From: "b", To: "a"}, {From: "c", To: "a"}, {From: "c", To: "b"}}, g.Edges)
	assert.Equal(t, []string{"a", "b", "c"}, g.Order)
}

func TestSweep_RepairsHandEditedStore(t *testing.T) {
	r, path := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b", "a")
	_, err := r.Start(context.Background(), "a")
	require.NoError(t, err)
	_, err = r.Complete(context.Background(), "a", nil)
	require.NoError(t, err)

	// Simulate a crashed writer that left b blocked, a dangling edge and a
	// missing mirror.
	codec := store.NewCodec(nil, path)
	doc, err := codec.Load()
	require.NoError(t, err)
	doc.Tasks["b"].State = task.StateBlocked
	doc.Tasks["b"].BlockedBy = []string{"a", "ghost"}
	doc.Tasks["a"].Blocks = []string{}
	require.NoError(t, codec.Save(doc))
	require.NoError(t, r.Refresh())

	report, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Changed)
	assert.Equal(t, 1, report.DanglingRemoved)
	assert.Equal(t, 1, report.MirrorsFixed)
	assert.Equal(t, []string{"b"}, report.Requeued)
	assert.Empty(t, report.Cycles)

	assert.Equal(t, task.StateQueued, get(t, r, "b").State)
	checkInvariants(t, path)

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	report, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "clean sweep must not rewrite the store")
}

func TestMetricsAndAudit(t *testing.T) {
	r, _ := newTestRegistry(t)
	create(t, r, "a")
	create(t, r, "b", "a")
	_, err := r.Start(context.Background(), "a")
	require.NoError(t, err)

	m, err := r.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, 1, m.ByState[task.StateRunning])
	assert.Equal(t, 1, m.ByState[task.StateBlocked])
	assert.Equal(t, 0, m.ByState[task.StateQueued])
	assert.Equal(t, 0, m.Ready)
	assert.Equal(t, 3, m.AuditEntries)

	trail, err := r.AuditTrail("a")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, task.State(""), trail[0].FromState)
	assert.Equal(t, task.StateQueued, trail[0].ToState)
	assert.Equal(t, task.StateRunning, trail[1].ToState)
	assert.Equal(t, os.Getpid(), trail[1].PID)
}

func TestEventsPublishedAfterLockRelease(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	// A handler that mutates the registry would deadlock if events were
	// published while the mutation still held its locks.
	r.Bus().Subscribe(event.TypeTaskCreated, func(e event.Event) {
		created := e.(event.TaskCreatedEvent)
		if created.TaskID == "a" {
			_, err := r.Create(ctx, TaskInput{ID: "follow-up", Description: "spawned", BlockedBy: []string{"a"}})
			assert.NoError(t, err)
		}
	})

	create(t, r, "a")
	assert.Equal(t, task.StateBlocked, get(t, r, "follow-up").State)
}

func TestLockContentionFailsClosed(t *testing.T) {
	r, path := newTestRegistry(t, WithLockOptions(filelock.WithTimeout(50*time.Millisecond)))
	create(t, r, "a")

	held, err := filelock.Acquire(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = r.Start(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrLockTimeout)
	assert.True(t, errors.IsRetryable(err))

	require.NoError(t, held.Release())
	assert.Equal(t, task.StateQueued, get(t, r, "a").State, "failed mutation changed nothing")
}

func TestCorruptedStore(t *testing.T) {
	r, path := newTestRegistry(t)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	_, err := r.List(Filter{})
	assert.ErrorIs(t, err, errors.ErrStoreCorrupted)

	_, err = r.Create(context.Background(), TaskInput{ID: "a", Description: "a"})
	assert.ErrorIs(t, err, errors.ErrStoreCorrupted)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(data), "a corrupted store is never overwritten")
}

func TestSnapshotSeesOtherWriters(t *testing.T) {
	r1, path := newTestRegistry(t)
	r2 := New(path)

	create(t, r1, "a")
	_, err := r2.Get("a")
	require.NoError(t, err)

	_, err = r2.Start(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, r1.Refresh())
	assert.Equal(t, task.StateRunning, get(t, r1, "a").State)
}

// TestHelperProcess is not a real test. It is re-executed as a separate OS
// process by TestMultiProcessCreates.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("TASKGRAPH_REGISTRY_HELPER") != "1" {
		t.Skip("helper process only")
	}
	path := os.Getenv("TASKGRAPH_STORE")
	prefix := os.Getenv("TASKGRAPH_PREFIX")
	count, _ := strconv.Atoi(os.Getenv("TASKGRAPH_COUNT"))

	r := New(path, WithLockOptions(filelock.WithTimeout(30*time.Second)))
	for i := range count {
		id := fmt.Sprintf("%s-%02d", prefix, i)
		if _, err := r.Create(context.Background(), TaskInput{ID: id, Description: id, BlockedBy: []string{"root"}}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	os.Exit(0)
}

func TestMultiProcessCreates(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	path := filepath.Join(t.TempDir(), "tasks.json")
	r := New(path, WithLockOptions(filelock.WithTimeout(30*time.Second)))
	create(t, r, "root")

	const perWriter = 15
	var g errgroup.Group
	for _, prefix := range []string{"p1", "p2"} {
		g.Go(func() error {
			cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
			cmd.Env = append(os.Environ(),
				"TASKGRAPH_REGISTRY_HELPER=1",
				"TASKGRAPH_STORE="+path,
				"TASKGRAPH_PREFIX="+prefix,
				"TASKGRAPH_COUNT="+strconv.Itoa(perWriter),
			)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("helper %s: %v: %s", prefix, err, out)
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := range perWriter {
			id := fmt.Sprintf("local-%02d", i)
			if _, err := r.Create(context.Background(), TaskInput{ID: id, Description: id, BlockedBy: []string{"root"}}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	ctx := context.Background()
	_, err := r.Start(ctx, "root")
	require.NoError(t, err)
	_, err = r.Complete(ctx, "root", nil)
	require.NoError(t, err)

	tasks, err := r.List(Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1+3*perWriter, "no writer may lose another's task")

	root := get(t, r, "root")
	assert.Len(t, root.Blocks, 3*perWriter)
	for _, tk := range tasks {
		if tk.ID != "root" {
			assert.Equal(t, task.StateQueued, tk.State, "task %s", tk.ID)
		}
	}

	trail, err := r.AuditTrail("")
	require.NoError(t, err)
	pids := map[int]bool{}
	for _, e := range trail {
		pids[e.PID] = true
	}
	assert.Len(t, pids, 3, "entries from three processes")
	assert.True(t, slices.ContainsFunc(trail, func(e task.AuditEntry) bool { return e.Reason == "dependency root completed" }))

	checkInvariants(t, path)
}
