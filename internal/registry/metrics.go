package registry

import (
	"time"

	"github.com/Iron-Ham/taskgraph/internal/task"
)

// Metrics is a point-in-time summary of the store.
type Metrics struct {
	ByState         map[task.State]int `json:"byState"`
	Total           int                `json:"total"`
	Ready           int                `json:"ready"`
	Groups          int                `json:"groups"`
	AuditEntries    int                `json:"auditEntries"`
	OldestQueuedAge time.Duration      `json:"oldestQueuedAge"`
}

// Metrics summarizes the current snapshot.
func (r *Registry) Metrics() (Metrics, error) {
	doc, err := r.snapshot()
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		ByState:      make(map[task.State]int, len(task.AllStates)),
		Total:        len(doc.Tasks),
		Groups:       len(doc.Groups),
		AuditEntries: len(doc.Audit),
	}
	for _, s := range task.AllStates {
		m.ByState[s] = 0
	}

	now := r.now()
	for _, t := range doc.Tasks {
		m.ByState[t.State]++
		if isReady(doc, t) {
			m.Ready++
		}
		if t.State == task.StateQueued {
			if age := now.Sub(t.CreatedAt); age > m.OldestQueuedAge {
				m.OldestQueuedAge = age
			}
		}
	}
	return m, nil
}

// AuditTrail returns the audit entries in append order, restricted to one
// task when taskID is not empty.
func (r *Registry) AuditTrail(taskID string) ([]task.AuditEntry, error) {
	doc, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]task.AuditEntry, 0, len(doc.Audit))
	for _, e := range doc.Audit {
		if taskID == "" || e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}
