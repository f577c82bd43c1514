package filelock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/taskgraph/internal/logging"
)

// Status describes the sentinel for a target.
type Status struct {
	Path  string        `json:"path"`
	Held  bool          `json:"held"`
	Stale bool          `json:"stale"`
	Owner *Owner        `json:"owner,omitempty"` // nil when the sentinel is unreadable
	Age   time.Duration `json:"age"`

	raw     []byte
	modTime time.Time
}

func (s *Status) ownerPID() int {
	if s.Owner == nil {
		return 0
	}
	return s.Owner.PID
}

// Inspect reports whether target is locked and whether the lock looks stale.
// It never modifies the sentinel.
func Inspect(target string, opts ...Option) (*Status, error) {
	return inspect(target+Suffix, newConfig(opts))
}

func inspect(path string, cfg *config) (*Status, error) {
	st := &Status{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("failed to stat lock file: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	st.Held = true
	st.raw = raw
	st.modTime = info.ModTime()

	now := cfg.now()
	owner, perr := readOwnerBytes(raw)
	if perr != nil {
		// Unreadable, possibly mid-write: judge by mtime only.
		st.Age = now.Sub(info.ModTime())
		st.Stale = st.Age > cfg.staleAfter
		return st, nil
	}

	st.Owner = owner
	st.Age = now.Sub(owner.AcquiredAt)
	hostname, _ := os.Hostname()
	switch {
	case owner.Hostname == hostname && !cfg.alive(owner.PID):
		st.Stale = true
	case st.Age > cfg.staleAfter:
		st.Stale = true
	}
	return st, nil
}

// removeStale deletes the sentinel only if it is unchanged since it was
// inspected, so a lock freshly created by another process survives.
func removeStale(path string, st *Status) bool {
	raw, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(raw, st.raw) {
		return false
	}
	if info, err := os.Stat(path); err != nil || !info.ModTime().Equal(st.modTime) {
		return false
	}
	return os.Remove(path) == nil
}

// CleanStale removes the sentinel for target if it is stale under the given
// threshold. It returns true if a sentinel was removed.
func CleanStale(target string, staleAfter time.Duration, logger *logging.Logger) (bool, error) {
	cfg := newConfig([]Option{WithStaleAfter(staleAfter), WithLogger(logger)})
	st, err := inspect(target+Suffix, cfg)
	if err != nil {
		return false, err
	}
	if !st.Held || !st.Stale {
		return false, nil
	}
	if !removeStale(st.Path, st) {
		return false, nil
	}
	cfg.logger.WithComponent("filelock").Warn("stale lock cleaned",
		"path", st.Path,
		"old_pid", st.ownerPID(),
		"age", st.Age.String(),
	)
	return true, nil
}

func readOwnerBytes(raw []byte) (*Owner, error) {
	var o Owner
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	if o.PID == 0 && o.AcquiredAt.IsZero() {
		return nil, fmt.Errorf("lock file has no owner")
	}
	return &o, nil
}
