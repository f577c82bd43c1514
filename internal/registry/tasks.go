package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/store"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// TaskInput describes a task to create. ID is optional; one is allocated
// when empty.
type TaskInput struct {
	ID           string
	Description  string
	Payload      json.RawMessage
	ExecutorKind string
	Owner        string
	Story        string
	BlockedBy    []string
	JoinStrategy task.JoinStrategy
	JoinCount    int
	OnFailure    task.OnFailure
	GroupID      string
	Metadata     json.RawMessage
}

// TaskUpdate lists the fields Update changes. Nil fields are left alone.
type TaskUpdate struct {
	Description  *string
	ExecutorKind *string
	Owner        *string
	Story        *string
	Payload      json.RawMessage
	Result       json.RawMessage
	Error        json.RawMessage
	Metadata     json.RawMessage
	BlockedBy    *[]string
	State        *task.State
	// Reason is recorded in the audit trail for a state change.
	Reason string
}

// Filter selects tasks in List. Empty fields match everything.
type Filter struct {
	State        task.State
	Owner        string
	Story        string
	ExecutorKind string
	GroupID      string
}

func (f Filter) matches(t *task.Task) bool {
	return (f.State == "" || t.State == f.State) &&
		(f.Owner == "" || t.Owner == f.Owner) &&
		(f.Story == "" || t.Story == f.Story) &&
		(f.ExecutorKind == "" || t.ExecutorKind == f.ExecutorKind) &&
		(f.GroupID == "" || t.GroupID == f.GroupID)
}

func notFound(id string) error {
	return errors.NewNotFoundError("task", id).WithCause(errors.ErrTaskNotFound)
}

// Create validates and persists a new task. The task starts blocked when any
// dependency is not completed and queued otherwise. Unknown dependencies and
// cycles are rejected without changing the store.
func (r *Registry) Create(ctx context.Context, in TaskInput) (*task.Task, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, errors.NewValidationError("task description must not be empty").WithField("description")
	}
	var err error
	if in.JoinStrategy, in.OnFailure, err = checkPolicy(in.JoinStrategy, in.JoinCount, in.OnFailure); err != nil {
		return nil, err
	}
	deps := dedupe(in.BlockedBy)

	var created *task.Task
	err = r.mutate(ctx, "create", func(tx *txn) error {
		id := in.ID
		if id == "" {
			id = r.newID()
		}
		if _, exists := tx.doc.Tasks[id]; exists {
			return errors.NewAlreadyExistsError("task", id).WithCause(errors.ErrTaskExists)
		}
		if err := validateDeps("create", tx.doc, id, deps); err != nil {
			return err
		}

		var group *task.Group
		if in.GroupID != "" {
			g, ok := tx.doc.Groups[in.GroupID]
			if !ok {
				return errors.NewNotFoundError("task group", in.GroupID).WithCause(errors.ErrGroupNotFound)
			}
			group = g
		}

		t := &task.Task{
			ID:           id,
			Description:  in.Description,
			Payload:      in.Payload,
			ExecutorKind: in.ExecutorKind,
			Owner:        in.Owner,
			Story:        in.Story,
			State:        task.StateQueued,
			CreatedAt:    tx.now,
			UpdatedAt:    tx.now,
			BlockedBy:    []string{},
			Blocks:       []string{},
			JoinStrategy: in.JoinStrategy,
			JoinCount:    in.JoinCount,
			OnFailure:    in.OnFailure,
			GroupID:      in.GroupID,
			Metadata:     in.Metadata,
		}
		tx.doc.Tasks[id] = t
		tx.setDependencies(t, deps)
		if !depsCompleted(tx.doc, t) {
			t.State = task.StateBlocked
		}
		if group != nil {
			group.TaskIDs = addID(group.TaskIDs, id)
			group.UpdatedAt = tx.now
		}

		tx.doc.Audit = append(tx.doc.Audit, task.AuditEntry{
			TaskID:  id,
			ToState: t.State,
			At:      tx.now,
			Reason:  "created",
			PID:     tx.pid,
		})
		tx.publish(event.NewTaskCreatedEvent(id, string(t.State), t.BlockedBy, t.GroupID))
		created = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithTask(created.ID).Info("task created", "state", string(created.State), "blocked_by", len(created.BlockedBy))
	return created, nil
}

// Update applies the non-nil fields of u to task id. A state change must be
// allowed by the transition table; reaching completed re-queues dependents
// in the same write. Replacing BlockedBy is validated for acyclicity first
// and moves a waiting task between queued and blocked as needed.
func (r *Registry) Update(ctx context.Context, id string, u TaskUpdate) (*task.Task, error) {
	var updated *task.Task
	err := r.mutate(ctx, "update", func(tx *txn) error {
		t, ok := tx.doc.Tasks[id]
		if !ok {
			return notFound(id)
		}
		if err := tx.update(t, u); err != nil {
			return err
		}
		updated = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (tx *txn) update(t *task.Task, u TaskUpdate) error {
	if u.State != nil && !u.State.Valid() {
		return errors.NewValidationError("unknown task state").WithField("state").WithValue(string(*u.State))
	}
	if u.State != nil && !task.IsValidTransition(t.State, *u.State) {
		return errors.NewRegistryError("update", errors.ErrInvalidTransition).
			WithTaskID(t.ID).
			WithTransition(string(t.State), string(*u.State))
	}

	stateChange := u.State != nil && *u.State != t.State

	var deps []string
	if u.BlockedBy != nil {
		deps = dedupe(*u.BlockedBy)
		if err := validateDeps("update", tx.doc, t.ID, deps); err != nil {
			return err
		}
	}

	fieldsChanged := false
	setString := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			fieldsChanged = true
		}
	}
	setRaw := func(dst *json.RawMessage, src json.RawMessage) {
		if src != nil {
			*dst = append(json.RawMessage(nil), src...)
			fieldsChanged = true
		}
	}
	setString(&t.Description, u.Description)
	setString(&t.ExecutorKind, u.ExecutorKind)
	setString(&t.Owner, u.Owner)
	setString(&t.Story, u.Story)
	setRaw(&t.Payload, u.Payload)
	setRaw(&t.Result, u.Result)
	setRaw(&t.Error, u.Error)
	setRaw(&t.Metadata, u.Metadata)

	if u.BlockedBy != nil && !slices.Equal(deps, t.BlockedBy) {
		tx.setDependencies(t, deps)
		fieldsChanged = true
		if !stateChange {
			tx.settleWaiting(t, "dependencies changed")
		}
	}

	if stateChange {
		to := *u.State
		if to == task.StateQueued && !depsCompleted(tx.doc, t) {
			if t.State == task.StateBlocked {
				return errors.NewRegistryError("update", errors.ErrInvalidTransition).
					WithTaskID(t.ID).
					WithTransition(string(t.State), string(to)).
					WithMessage("dependencies are not all completed")
			}
			tx.transition(t, task.StateQueued, u.Reason)
			tx.transition(t, task.StateBlocked, "dependencies are not all completed")
		} else {
			tx.transition(t, to, u.Reason)
		}
	} else if fieldsChanged {
		t.UpdatedAt = tx.now
		tx.changed = true
		tx.publish(event.NewTaskUpdatedEvent(t.ID, string(t.State), string(t.State), u.Reason))
	}
	return nil
}

// Delete removes task id and every reference to it. Dependents left with
// only completed dependencies are re-queued.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.mutate(ctx, "delete", func(tx *txn) error {
		t, ok := tx.doc.Tasks[id]
		if !ok {
			return notFound(id)
		}

		for _, depID := range t.BlockedBy {
			if dep, ok := tx.doc.Tasks[depID]; ok {
				dep.Blocks = removeID(dep.Blocks, id)
				dep.UpdatedAt = tx.now
			}
		}
		delete(tx.doc.Tasks, id)
		if g, ok := tx.doc.Groups[t.GroupID]; ok {
			g.TaskIDs = removeID(g.TaskIDs, id)
			g.UpdatedAt = tx.now
		}

		var requeued []string
		for _, dependentID := range t.Blocks {
			dependent, ok := tx.doc.Tasks[dependentID]
			if !ok {
				continue
			}
			dependent.BlockedBy = removeID(dependent.BlockedBy, id)
			dependent.UpdatedAt = tx.now
			if dependent.State == task.StateBlocked && depsCompleted(tx.doc, dependent) {
				tx.transition(dependent, task.StateQueued, "dependency "+id+" deleted")
				tx.publish(event.NewTaskUnblockedEvent(dependentID, id))
				requeued = append(requeued, dependentID)
			}
		}

		tx.doc.Audit = append(tx.doc.Audit, task.AuditEntry{
			TaskID:    id,
			FromState: t.State,
			At:        tx.now,
			Reason:    "deleted",
			PID:       tx.pid,
		})
		tx.changed = true
		tx.publish(event.NewTaskDeletedEvent(id, requeued))
		return nil
	})
}

// Get returns a copy of task id.
func (r *Registry) Get(id string) (*task.Task, error) {
	doc, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	t, ok := doc.Tasks[id]
	if !ok {
		return nil, notFound(id)
	}
	return t.Clone(), nil
}

// List returns copies of the tasks matching f, oldest first.
func (r *Registry) List(f Filter) ([]*task.Task, error) {
	doc, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	return collect(doc, f.matches), nil
}

// collect returns clones of the tasks accepted by keep, ordered by creation
// time with ID as tiebreak.
func collect(doc *store.Document, keep func(*task.Task) bool) []*task.Task {
	out := make([]*task.Task, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}

func sortTasks(ts []*task.Task) {
	slices.SortFunc(ts, func(a, b *task.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Start moves task id to running.
func (r *Registry) Start(ctx context.Context, id string) (*task.Task, error) {
	return r.setState(ctx, id, task.StateRunning, TaskUpdate{Reason: "started"})
}

// Complete moves task id to completed and records its result.
func (r *Registry) Complete(ctx context.Context, id string, result json.RawMessage) (*task.Task, error) {
	return r.setState(ctx, id, task.StateCompleted, TaskUpdate{Result: result, Reason: "completed"})
}

// Fail moves task id to failed and records the error blob.
func (r *Registry) Fail(ctx context.Context, id string, failure json.RawMessage) (*task.Task, error) {
	return r.setState(ctx, id, task.StateFailed, TaskUpdate{Error: failure, Reason: "failed"})
}

// Block moves task id to blocked, recording reason in the audit trail.
func (r *Registry) Block(ctx context.Context, id, reason string) (*task.Task, error) {
	if reason == "" {
		reason = "blocked"
	}
	return r.setState(ctx, id, task.StateBlocked, TaskUpdate{Reason: reason})
}

// Cancel moves task id to cancelled.
func (r *Registry) Cancel(ctx context.Context, id string) (*task.Task, error) {
	return r.setState(ctx, id, task.StateCancelled, TaskUpdate{Reason: "cancelled"})
}

func (r *Registry) setState(ctx context.Context, id string, to task.State, u TaskUpdate) (*task.Task, error) {
	u.State = &to
	t, err := r.Update(ctx, id, u)
	if err != nil {
		return nil, err
	}
	r.logger.WithTask(id).Info("task state changed", "state", string(t.State))
	return t, nil
}

// Retry re-queues a failed task, clearing its error. A task whose
// dependencies are not all completed goes on to blocked in the same write.
func (r *Registry) Retry(ctx context.Context, id string) (*task.Task, error) {
	var retried *task.Task
	err := r.mutate(ctx, "retry", func(tx *txn) error {
		t, ok := tx.doc.Tasks[id]
		if !ok {
			return notFound(id)
		}
		if t.State != task.StateFailed {
			return errors.NewRegistryError("retry", errors.ErrInvalidTransition).
				WithTaskID(id).
				WithTransition(string(t.State), string(task.StateQueued)).
				WithMessage(fmt.Sprintf("only failed tasks can be retried, task is %s", t.State))
		}
		t.Error = nil
		tx.transition(t, task.StateQueued, "retry")
		if !depsCompleted(tx.doc, t) {
			tx.transition(t, task.StateBlocked, "dependencies are not all completed")
		}
		retried = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithTask(id).Info("task retried", "state", string(retried.State), "attempts", retried.Attempts)
	return retried, nil
}
