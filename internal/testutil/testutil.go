// Package testutil provides helpers for tests that work against a real
// store on disk.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/taskgraph/internal/filelock"
)

// DeadPID is above any pid_max Linux accepts, so it never names a live
// process.
const DeadPID = 1 << 30

// StorePath returns a store document path inside a fresh temp directory.
// The document itself is not created.
func StorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "tasks.json")
}

// Hostname returns the local hostname, skipping the test when it is
// unavailable since lock liveness checks depend on it.
func Hostname(t *testing.T) string {
	t.Helper()
	h, err := os.Hostname()
	if err != nil {
		t.Skipf("hostname unavailable: %v", err)
	}
	return h
}

// WriteLock writes a lock sentinel for target owned by owner, as if another
// process held the lock.
func WriteLock(t *testing.T, target string, owner filelock.Owner) {
	t.Helper()
	data, err := json.Marshal(owner)
	if err != nil {
		t.Fatalf("failed to marshal lock owner: %v", err)
	}
	if err := os.WriteFile(target+filelock.Suffix, data, 0644); err != nil {
		t.Fatalf("failed to write lock sentinel: %v", err)
	}
}

// WriteDeadLock writes a sentinel for target left behind by a process on
// this host that no longer exists.
func WriteDeadLock(t *testing.T, target string) {
	t.Helper()
	WriteLock(t, target, filelock.Owner{
		PID:        DeadPID,
		Hostname:   Hostname(t),
		AcquiredAt: time.Now(),
	})
}

// LockExists reports whether a sentinel for target is present.
func LockExists(t *testing.T, target string) bool {
	t.Helper()
	_, err := os.Stat(target + filelock.Suffix)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to stat lock sentinel: %v", err)
	}
	return err == nil
}
