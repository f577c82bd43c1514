package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/filelock"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

func sampleDocument() *Document {
	at := time.Date(2026, 3, 4, 5, 6, 7, 890123456, time.UTC)
	done := at.Add(time.Minute)
	doc := NewDocument(at)
	doc.Tasks["a"] = &task.Task{
		ID:           "a",
		Description:  "fetch sources",
		Payload:      json.RawMessage(`{"url": "https://example.com", "depth": [1, 2]}`),
		ExecutorKind: "shell",
		State:        task.StateCompleted,
		CreatedAt:    at,
		UpdatedAt:    done,
		CompletedAt:  &done,
		Blocks:       []string{"b"},
		Result:       json.RawMessage(`"ok"`),
		Attempts:     1,
	}
	doc.Tasks["b"] = &task.Task{
		ID:          "b",
		Description: "build",
		State:       task.StateQueued,
		CreatedAt:   at,
		UpdatedAt:   done,
		BlockedBy:   []string{"a"},
		GroupID:     "g",
		Metadata:    json.RawMessage(`{"labels":["x"]}`),
	}
	doc.Groups["g"] = &task.Group{
		ID:           "g",
		Name:         "build",
		TaskIDs:      []string{"b"},
		JoinStrategy: task.JoinAll,
		OnFailure:    task.FailFast,
		State:        task.GroupPending,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	doc.Audit = append(doc.Audit,
		task.AuditEntry{TaskID: "a", ToState: task.StateQueued, At: at, PID: 10},
		task.AuditEntry{TaskID: "a", FromState: task.StateQueued, ToState: task.StateRunning, At: at, PID: 10},
	)
	return doc
}

func TestCodec_LoadMissingReturnsFreshDocument(t *testing.T) {
	c := NewCodec(afero.NewMemMapFs(), "/data/tasks.json")

	doc, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	assert.Empty(t, doc.Tasks)
	assert.Empty(t, doc.Groups)
	assert.NotNil(t, doc.Audit)
	assert.False(t, doc.CreatedAt.IsZero())
}

func TestCodec_SaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewCodec(fs, "/data/nested/tasks.json")

	require.NoError(t, c.Save(sampleDocument()))

	doc, err := c.Load()
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 2)
	assert.Equal(t, []string{"a"}, doc.Tasks["b"].BlockedBy)
	assert.Equal(t, []string{"b"}, doc.Tasks["a"].Blocks)
	assert.Equal(t, []string{}, doc.Tasks["a"].BlockedBy)
	assert.JSONEq(t, `{"url":"https://example.com","depth":[1,2]}`, string(doc.Tasks["a"].Payload))
	assert.Len(t, doc.Audit, 2)
	assert.Equal(t, "build", doc.Groups["g"].Name)
}

func TestMarshal_RoundTripIsByteIdentical(t *testing.T) {
	first, err := Marshal(sampleDocument())
	require.NoError(t, err)

	doc, err := Unmarshal(first)
	require.NoError(t, err)
	second, err := Marshal(doc)
	require.NoError(t, err)

	doc, err = Unmarshal(second)
	require.NoError(t, err)
	third, err := Marshal(doc)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, string(second), string(third))
}

func TestMarshal_UsesPersistedKeyNames(t *testing.T) {
	data, err := Marshal(sampleDocument())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"schemaVersion", "createdAt", "updatedAt", "tasks", "taskGroups", "auditTrail"} {
		assert.Contains(t, raw, key)
	}
}

func TestUnmarshal_Corrupted(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"truncated", `{"schemaVersion": 1, "tasks": {`},
		{"wrong type", `{"schemaVersion": "one"}`},
		{"mismatched id", `{"schemaVersion": 1, "tasks": {"a": {"id": "b"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			assert.ErrorIs(t, err, errors.ErrStoreCorrupted)
		})
	}
}

func TestUnmarshal_NewerSchemaRejected(t *testing.T) {
	_, err := Unmarshal([]byte(`{"schemaVersion": 99}`))
	assert.ErrorIs(t, err, errors.ErrSchemaUnsupported)
}

func TestCodec_LoadCorruptedNamesPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/tasks.json", []byte("{nope"), 0644))

	_, err := NewCodec(fs, "/data/tasks.json").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStoreCorrupted)

	var storeErr *errors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "/data/tasks.json", storeErr.Path)
	assert.Equal(t, errors.SeverityCritical, storeErr.Severity())
}

func TestCodec_CrashBeforeRenameKeepsPriorDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewCodec(fs, "/data/tasks.json")
	require.NoError(t, c.Save(sampleDocument()))
	before, err := afero.ReadFile(fs, "/data/tasks.json")
	require.NoError(t, err)

	// A writer that died after writing its temp file but before renaming.
	require.NoError(t, afero.WriteFile(fs, "/data/.tasks.json.tmp-123456", []byte(`{"schemaVersion": 1, "tasks": {"half`), 0644))

	doc, err := c.Load()
	require.NoError(t, err)
	assert.Len(t, doc.Tasks, 2)

	after, err := afero.ReadFile(fs, "/data/tasks.json")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCodec_SaveLeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewCodec(fs, "/data/tasks.json")
	require.NoError(t, c.Save(sampleDocument()))
	require.NoError(t, c.Save(sampleDocument()))

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tasks.json", entries[0].Name())
}

func TestCodec_Stat(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewCodec(fs, "/data/tasks.json")

	v, err := c.Stat()
	require.NoError(t, err)
	assert.False(t, v.Exists)

	require.NoError(t, c.Save(sampleDocument()))
	v, err = c.Stat()
	require.NoError(t, err)
	assert.True(t, v.Exists)
	assert.Positive(t, v.Size)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := sampleDocument()
	c := doc.Clone()

	c.Tasks["b"].BlockedBy[0] = "zzz"
	c.Groups["g"].TaskIDs = append(c.Groups["g"].TaskIDs, "x")
	delete(c.Tasks, "a")

	assert.Equal(t, []string{"a"}, doc.Tasks["b"].BlockedBy)
	assert.Equal(t, []string{"b"}, doc.Groups["g"].TaskIDs)
	assert.Contains(t, doc.Tasks, "a")
}

func TestWriteFile_Unlocked(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteFile(context.Background(), fs, "/out/graph.dot", []byte("digraph {}\n")))

	data, err := afero.ReadFile(fs, "/out/graph.dot")
	require.NoError(t, err)
	assert.Equal(t, "digraph {}\n", string(data))
}

func TestWriteFile_FailsOpenOnContention(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.json")

	held, err := filelock.Acquire(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	err = WriteFile(context.Background(), afero.NewOsFs(), path, []byte("{}"), WithLock(30*time.Millisecond))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestWriteFile_LockedReleasesSentinel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.json")

	require.NoError(t, WriteFile(context.Background(), afero.NewOsFs(), path, []byte("{}"), WithLock(time.Second)))

	_, err := os.Stat(path + filelock.Suffix)
	assert.True(t, os.IsNotExist(err), "sentinel should be released, stat err = %v", err)
}
