package registry

import (
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/taskgraph/internal/dag"
	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/store"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// graphOf builds the blocked-by adjacency of a document.
func graphOf(doc *store.Document) dag.Graph {
	g := make(dag.Graph, len(doc.Tasks))
	for id, t := range doc.Tasks {
		g[id] = t.BlockedBy
	}
	return g
}

// depsCompleted reports whether every dependency of t exists and is completed.
func depsCompleted(doc *store.Document, t *task.Task) bool {
	for _, depID := range t.BlockedBy {
		dep, ok := doc.Tasks[depID]
		if !ok || dep.State != task.StateCompleted {
			return false
		}
	}
	return true
}

// isReady reports whether t can be started now.
func isReady(doc *store.Document, t *task.Task) bool {
	return t.State == task.StateQueued && depsCompleted(doc, t)
}

// dedupe returns ids without duplicates or empty strings, preserving order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func addID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}

// validateDeps checks that every dependency exists and that giving id the
// dependency set deps keeps the graph acyclic.
func validateDeps(op string, doc *store.Document, id string, deps []string) error {
	for _, depID := range deps {
		if depID == id {
			return errors.NewRegistryError(op, errors.ErrDependencyCycle).
				WithTaskID(id).
				WithMessage("task cannot depend on itself")
		}
		if _, ok := doc.Tasks[depID]; !ok {
			return errors.NewRegistryError(op, errors.ErrUnknownDependency).
				WithTaskID(id).
				WithMessage(fmt.Sprintf("dependency %q does not exist", depID))
		}
	}
	if found, c := dag.WouldCreateCycle(graphOf(doc), id, deps); found {
		return errors.NewRegistryError(op, errors.ErrDependencyCycle).
			WithTaskID(id).
			WithMessage(fmt.Sprintf("edge %s -> %s closes a cycle", c.From, c.To))
	}
	return nil
}

// transition moves t to the target state, recording an audit entry and a
// task.updated event. The caller has already validated the transition.
func (tx *txn) transition(t *task.Task, to task.State, reason string) {
	from := t.State
	if from == to {
		return
	}

	t.State = to
	t.UpdatedAt = tx.now
	switch to {
	case task.StateRunning:
		t.Attempts++
	case task.StateCompleted, task.StateFailed, task.StateCancelled:
		at := tx.now
		t.CompletedAt = &at
	case task.StateQueued, task.StateBlocked:
		t.CompletedAt = nil
	}

	tx.doc.Audit = append(tx.doc.Audit, task.AuditEntry{
		TaskID:    t.ID,
		FromState: from,
		ToState:   to,
		At:        tx.now,
		Reason:    reason,
		PID:       tx.pid,
	})
	tx.changed = true
	tx.publish(event.NewTaskUpdatedEvent(t.ID, string(from), string(to), reason))

	if to == task.StateCompleted {
		tx.unblockDependents(t)
	}
}

// unblockDependents re-queues blocked dependents of t whose dependencies are
// now all completed.
func (tx *txn) unblockDependents(t *task.Task) {
	for _, id := range t.Blocks {
		dependent, ok := tx.doc.Tasks[id]
		if !ok || dependent.State != task.StateBlocked {
			continue
		}
		if !depsCompleted(tx.doc, dependent) {
			continue
		}
		tx.transition(dependent, task.StateQueued, "dependency "+t.ID+" completed")
		tx.publish(event.NewTaskUnblockedEvent(dependent.ID, t.ID))
	}
}

// setDependencies replaces t's blocked-by set and rewrites the mirrored
// blocks edges on both old and new dependencies.
func (tx *txn) setDependencies(t *task.Task, deps []string) {
	for _, old := range t.BlockedBy {
		if dep, ok := tx.doc.Tasks[old]; ok && !slices.Contains(deps, old) {
			dep.Blocks = removeID(dep.Blocks, t.ID)
			dep.UpdatedAt = tx.now
		}
	}
	for _, depID := range deps {
		if dep, ok := tx.doc.Tasks[depID]; ok && !slices.Contains(dep.Blocks, t.ID) {
			dep.Blocks = addID(dep.Blocks, t.ID)
			dep.UpdatedAt = tx.now
		}
	}
	t.BlockedBy = append([]string{}, deps...)
	t.UpdatedAt = tx.now
	tx.changed = true
}

// settleWaiting puts a waiting task in whichever of queued or blocked its
// dependencies call for. Tasks in other states are left alone.
func (tx *txn) settleWaiting(t *task.Task, reason string) {
	if t.State != task.StateQueued && t.State != task.StateBlocked {
		return
	}
	want := task.StateBlocked
	if depsCompleted(tx.doc, t) {
		want = task.StateQueued
	}
	if want == t.State {
		return
	}
	tx.transition(t, want, reason)
	if want == task.StateQueued {
		tx.publish(event.NewTaskUnblockedEvent(t.ID, ""))
	}
}

// recomputeGroups refreshes every group's rollup state and returns how many
// changed.
func recomputeGroups(doc *store.Document, now time.Time) int {
	changed := 0
	for _, g := range doc.Groups {
		state := task.Rollup(g.OnFailure, groupCounts(doc, g))
		if state != g.State {
			g.State = state
			g.UpdatedAt = now
			changed++
		}
	}
	return changed
}

func groupCounts(doc *store.Document, g *task.Group) task.Counts {
	var c task.Counts
	for _, id := range g.TaskIDs {
		if t, ok := doc.Tasks[id]; ok {
			c.Add(t.State)
		}
	}
	return c
}
