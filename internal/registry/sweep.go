package registry

import (
	"context"
	"slices"

	"github.com/Iron-Ham/taskgraph/internal/dag"
	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// SweepReport summarizes what a recovery sweep repaired.
type SweepReport struct {
	DanglingRemoved int         `json:"danglingRemoved"`
	MirrorsFixed    int         `json:"mirrorsFixed"`
	GroupsRepaired  int         `json:"groupsRepaired"`
	Requeued        []string    `json:"requeued"`
	Cycles          []dag.Cycle `json:"cycles,omitempty"`
	Changed         bool        `json:"changed"`
}

// Sweep repairs a document left inconsistent by a crashed writer or a hand
// edit: references to missing tasks and groups are dropped, blocks mirrors
// are rebuilt from blocked-by, and blocked tasks whose dependencies are all
// completed are re-queued. The document is written only if something changed.
// Cycles are reported but not broken.
func (r *Registry) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	err := r.mutate(ctx, "sweep", func(tx *txn) error {
		report = SweepReport{}
		doc := tx.doc

		for _, t := range doc.Tasks {
			kept := slices.DeleteFunc(slices.Clone(t.BlockedBy), func(id string) bool {
				_, ok := doc.Tasks[id]
				return !ok || id == t.ID
			})
			kept = dedupe(kept)
			if len(kept) != len(t.BlockedBy) {
				report.DanglingRemoved += len(t.BlockedBy) - len(kept)
				t.BlockedBy = kept
				t.UpdatedAt = tx.now
			}
			if t.GroupID != "" {
				if _, ok := doc.Groups[t.GroupID]; !ok {
					t.GroupID = ""
					t.UpdatedAt = tx.now
					report.GroupsRepaired++
				}
			}
		}

		want := make(map[string][]string, len(doc.Tasks))
		for _, id := range sortedTaskIDs(doc.Tasks) {
			for _, dep := range doc.Tasks[id].BlockedBy {
				want[dep] = append(want[dep], id)
			}
		}
		for id, t := range doc.Tasks {
			if !sameSet(t.Blocks, want[id]) {
				report.MirrorsFixed++
				t.Blocks = append([]string{}, want[id]...)
				t.UpdatedAt = tx.now
			}
		}

		for _, g := range doc.Groups {
			kept := slices.DeleteFunc(slices.Clone(g.TaskIDs), func(id string) bool {
				t, ok := doc.Tasks[id]
				return !ok || t.GroupID != g.ID
			})
			if len(kept) != len(g.TaskIDs) {
				g.TaskIDs = kept
				g.UpdatedAt = tx.now
				report.GroupsRepaired++
			}
		}

		for _, id := range sortedTaskIDs(doc.Tasks) {
			t := doc.Tasks[id]
			if t.State == task.StateBlocked && len(t.BlockedBy) > 0 && depsCompleted(doc, t) {
				tx.transition(t, task.StateQueued, "sweep: dependencies completed")
				tx.publish(event.NewTaskUnblockedEvent(id, ""))
				report.Requeued = append(report.Requeued, id)
			}
		}

		report.Cycles = dag.ValidateDAG(graphOf(doc))
		if report.DanglingRemoved+report.MirrorsFixed+report.GroupsRepaired+len(report.Requeued) > 0 {
			tx.changed = true
		}
		return nil
	})
	if err != nil {
		return SweepReport{}, err
	}
	report.Changed = report.DanglingRemoved+report.MirrorsFixed+report.GroupsRepaired+len(report.Requeued) > 0
	if report.Changed || len(report.Cycles) > 0 {
		r.logger.Info("sweep repaired store",
			"dangling_removed", report.DanglingRemoved,
			"mirrors_fixed", report.MirrorsFixed,
			"groups_repaired", report.GroupsRepaired,
			"requeued", len(report.Requeued),
			"cycles", len(report.Cycles),
		)
	}
	return report, nil
}

func sortedTaskIDs(tasks map[string]*task.Task) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}
