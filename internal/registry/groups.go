package registry

import (
	"context"
	"slices"
	"strings"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// GroupInput describes a group to create. ID is optional.
type GroupInput struct {
	ID           string
	Name         string
	TaskIDs      []string
	JoinStrategy task.JoinStrategy
	JoinCount    int
	OnFailure    task.OnFailure
}

// GroupStatus is a point-in-time view of a group and its members.
type GroupStatus struct {
	Group  *task.Group      `json:"group"`
	Counts task.Counts      `json:"counts"`
	State  task.GroupState  `json:"state"`
	Join   task.JoinOutcome `json:"join"`
}

// checkPolicy fills in the default join strategy and failure policy and
// rejects values outside the known sets.
func checkPolicy(strategy task.JoinStrategy, joinCount int, onFailure task.OnFailure) (task.JoinStrategy, task.OnFailure, error) {
	if strategy == "" {
		strategy = task.JoinAll
	}
	if onFailure == "" {
		onFailure = task.FailFast
	}
	if !strategy.Valid() {
		return "", "", errors.NewValidationError("unknown join strategy").WithField("joinStrategy").WithValue(string(strategy))
	}
	if !onFailure.Valid() {
		return "", "", errors.NewValidationError("unknown failure policy").WithField("onFailure").WithValue(string(onFailure))
	}
	if joinCount < 0 {
		return "", "", errors.NewValidationError("join count must not be negative").WithField("joinCount").WithValue(joinCount)
	}
	if strategy == task.JoinAnyN && joinCount < 1 {
		return "", "", errors.NewValidationError("any-n join needs a positive join count").WithField("joinCount").WithValue(joinCount)
	}
	return strategy, onFailure, nil
}

// CreateGroup persists a new group over existing tasks. A task may belong to
// at most one group.
func (r *Registry) CreateGroup(ctx context.Context, in GroupInput) (*task.Group, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.NewValidationError("group name must not be empty").WithField("name")
	}
	var err error
	if in.JoinStrategy, in.OnFailure, err = checkPolicy(in.JoinStrategy, in.JoinCount, in.OnFailure); err != nil {
		return nil, err
	}
	members := dedupe(in.TaskIDs)

	var created *task.Group
	err = r.mutate(ctx, "create-group", func(tx *txn) error {
		id := in.ID
		if id == "" {
			id = r.newID()
		}
		if _, exists := tx.doc.Groups[id]; exists {
			return errors.NewAlreadyExistsError("task group", id)
		}
		for _, taskID := range members {
			t, ok := tx.doc.Tasks[taskID]
			if !ok {
				return errors.NewRegistryError("create-group", errors.ErrTaskNotFound).WithGroupID(id).WithTaskID(taskID)
			}
			if t.GroupID != "" && t.GroupID != id {
				return errors.NewValidationError("task already belongs to group " + t.GroupID).WithField("taskIds").WithValue(taskID)
			}
		}

		g := &task.Group{
			ID:           id,
			Name:         in.Name,
			TaskIDs:      members,
			JoinStrategy: in.JoinStrategy,
			JoinCount:    in.JoinCount,
			OnFailure:    in.OnFailure,
			CreatedAt:    tx.now,
			UpdatedAt:    tx.now,
		}
		g.State = task.Rollup(g.OnFailure, groupCounts(tx.doc, g))
		tx.doc.Groups[id] = g
		for _, taskID := range members {
			t := tx.doc.Tasks[taskID]
			t.GroupID = id
			t.UpdatedAt = tx.now
		}
		tx.changed = true
		tx.publish(event.NewGroupCreatedEvent(id, g.Name, g.TaskIDs))
		created = g.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("group created", "group_id", created.ID, "members", len(created.TaskIDs))
	return created, nil
}

// GroupStatus counts group members by state and evaluates the rollup and the
// group's join strategy.
func (r *Registry) GroupStatus(id string) (*GroupStatus, error) {
	doc, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	g, ok := doc.Groups[id]
	if !ok {
		return nil, errors.NewNotFoundError("task group", id).WithCause(errors.ErrGroupNotFound)
	}
	counts := groupCounts(doc, g)
	return &GroupStatus{
		Group:  g.Clone(),
		Counts: counts,
		State:  task.Rollup(g.OnFailure, counts),
		Join:   task.EvaluateJoin(g.JoinStrategy, g.JoinCount, counts),
	}, nil
}

// Groups returns copies of all groups ordered by creation time.
func (r *Registry) Groups() ([]*task.Group, error) {
	doc, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]*task.Group, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		out = append(out, g.Clone())
	}
	sortGroups(out)
	return out, nil
}

func sortGroups(gs []*task.Group) {
	slices.SortFunc(gs, func(a, b *task.Group) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
