// Package store encodes the task registry's persisted document and writes it
// atomically.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// SchemaVersion is the document version this build reads and writes.
const SchemaVersion = 1

// Document is the complete persisted state of one store.
type Document struct {
	SchemaVersion int                    `json:"schemaVersion"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	Tasks         map[string]*task.Task  `json:"tasks"`
	Groups        map[string]*task.Group `json:"taskGroups"`
	Audit         []task.AuditEntry      `json:"auditTrail"`
}

// NewDocument returns an empty document stamped with now.
func NewDocument(now time.Time) *Document {
	now = now.UTC()
	return &Document{
		SchemaVersion: SchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
		Tasks:         make(map[string]*task.Task),
		Groups:        make(map[string]*task.Group),
		Audit:         []task.AuditEntry{},
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := &Document{
		SchemaVersion: d.SchemaVersion,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		Tasks:         make(map[string]*task.Task, len(d.Tasks)),
		Groups:        make(map[string]*task.Group, len(d.Groups)),
		Audit:         append(make([]task.AuditEntry, 0, len(d.Audit)), d.Audit...),
	}
	for id, t := range d.Tasks {
		c.Tasks[id] = t.Clone()
	}
	for id, g := range d.Groups {
		c.Groups[id] = g.Clone()
	}
	return c
}

// normalize replaces nil collections with empty ones so that a document
// always encodes the same way regardless of how it was built.
func (d *Document) normalize() {
	if d.Tasks == nil {
		d.Tasks = make(map[string]*task.Task)
	}
	if d.Groups == nil {
		d.Groups = make(map[string]*task.Group)
	}
	if d.Audit == nil {
		d.Audit = []task.AuditEntry{}
	}
	for id, t := range d.Tasks {
		if t == nil {
			delete(d.Tasks, id)
			continue
		}
		if t.BlockedBy == nil {
			t.BlockedBy = []string{}
		}
		if t.Blocks == nil {
			t.Blocks = []string{}
		}
	}
	for id, g := range d.Groups {
		if g == nil {
			delete(d.Groups, id)
			continue
		}
		if g.TaskIDs == nil {
			g.TaskIDs = []string{}
		}
	}
}

// Marshal encodes the document as indented JSON with a trailing newline.
// Map keys are sorted by encoding/json, so output is deterministic.
func Marshal(d *Document) ([]byte, error) {
	d.normalize()
	if d.SchemaVersion == 0 {
		d.SchemaVersion = SchemaVersion
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal store document: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a document. Malformed input wraps errors.ErrStoreCorrupted;
// documents from a newer schema wrap errors.ErrSchemaUnsupported.
func Unmarshal(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", errors.ErrStoreCorrupted)
	}

	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreCorrupted, err)
	}
	switch {
	case d.SchemaVersion > SchemaVersion:
		return nil, fmt.Errorf("%w: version %d, this build supports %d",
			errors.ErrSchemaUnsupported, d.SchemaVersion, SchemaVersion)
	case d.SchemaVersion < 0:
		return nil, fmt.Errorf("%w: negative schema version", errors.ErrStoreCorrupted)
	case d.SchemaVersion == 0:
		d.SchemaVersion = SchemaVersion
	}

	for id, t := range d.Tasks {
		if t != nil && t.ID != id {
			return nil, fmt.Errorf("%w: task stored under %q has id %q", errors.ErrStoreCorrupted, id, t.ID)
		}
	}
	d.normalize()
	return &d, nil
}
