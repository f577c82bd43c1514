package registry

import (
	"context"

	"github.com/Iron-Ham/taskgraph/internal/dag"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// ReadyTasks returns queued tasks whose dependencies are all completed,
// oldest first.
func (r *Registry) ReadyTasks() ([]*task.Task, error) {
	doc, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	return collect(doc, func(t *task.Task) bool { return isReady(doc, t) }), nil
}

// Node is a task in a dependency graph export.
type Node struct {
	ID           string     `json:"id" yaml:"id"`
	Description  string     `json:"description" yaml:"description"`
	State        task.State `json:"state" yaml:"state"`
	ExecutorKind string     `json:"executorKind,omitempty" yaml:"executorKind,omitempty"`
	GroupID      string     `json:"groupId,omitempty" yaml:"groupId,omitempty"`
}

// Edge is "From is blocked by To".
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Graph is a dependency graph export.
type Graph struct {
	Nodes []Node   `json:"nodes" yaml:"nodes"`
	Edges []Edge   `json:"edges" yaml:"edges"`
	Order []string `json:"order" yaml:"order"`
	// Valid is false when the stored graph has a cycle, which only a
	// hand-edited document can contain.
	Valid bool `json:"valid" yaml:"valid"`
}

// DependencyGraph exports every task, every blocked-by edge and a
// topological order.
func (r *Registry) DependencyGraph() (*Graph, error) {
	doc, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	order, valid := dag.TopologicalSort(graphOf(doc))
	g := &Graph{Nodes: []Node{}, Edges: []Edge{}, Order: order, Valid: valid}
	for _, t := range collect(doc, func(*task.Task) bool { return true }) {
		g.Nodes = append(g.Nodes, Node{
			ID:           t.ID,
			Description:  t.Description,
			State:        t.State,
			ExecutorKind: t.ExecutorKind,
			GroupID:      t.GroupID,
		})
		for _, dep := range t.BlockedBy {
			g.Edges = append(g.Edges, Edge{From: t.ID, To: dep})
		}
	}
	return g, nil
}

// ClaimOptions selects and labels the task taken by ClaimNext.
type ClaimOptions struct {
	// ExecutorKind restricts the claim to tasks of this kind when set.
	ExecutorKind string
	// Owner is recorded on the claimed task when set.
	Owner string
}

// ClaimNext atomically moves the oldest ready task matching opts to running.
// It returns nil with no error when nothing is ready.
func (r *Registry) ClaimNext(ctx context.Context, opts ClaimOptions) (*task.Task, error) {
	var claimed *task.Task
	err := r.mutate(ctx, "claim", func(tx *txn) error {
		candidates := collect(tx.doc, func(t *task.Task) bool {
			return isReady(tx.doc, t) && (opts.ExecutorKind == "" || t.ExecutorKind == opts.ExecutorKind)
		})
		if len(candidates) == 0 {
			return nil
		}

		t := tx.doc.Tasks[candidates[0].ID]
		reason := "claimed"
		if opts.Owner != "" {
			t.Owner = opts.Owner
			reason = "claimed by " + opts.Owner
		}
		tx.transition(t, task.StateRunning, reason)
		claimed = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		r.logger.WithTask(claimed.ID).Info("task claimed", "owner", claimed.Owner, "attempts", claimed.Attempts)
	}
	return claimed, nil
}
