package limiter

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/taskgraph/internal/errors"
)

// Names of the limiters every Set provides.
const (
	// NameSpawn throttles child-process launches.
	NameSpawn = "spawn"
	// NameGit serializes operations that contend on a shared repository index.
	NameGit = "git"
	// NameState bounds lightweight bookkeeping such as store refreshes.
	NameState = "state"
)

// DefaultConfigs returns the built-in limiter configurations.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		NameSpawn: {MaxConcurrent: 3, Timeout: 2 * time.Minute, QueueTimeout: time.Minute},
		NameGit:   {MaxConcurrent: 1, Timeout: time.Minute, QueueTimeout: 2 * time.Minute},
		NameState: {MaxConcurrent: 10, Timeout: 10 * time.Second, QueueTimeout: 30 * time.Second},
	}
}

// Set is a fixed collection of named limiters, built once at startup.
type Set struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewSet builds one limiter per entry of DefaultConfigs overlaid with
// configs. Entries in configs replace the default of the same name.
func NewSet(configs map[string]Config, opts ...Option) *Set {
	merged := DefaultConfigs()
	maps.Copy(merged, configs)

	s := &Set{limiters: make(map[string]*Limiter, len(merged))}
	for name, cfg := range merged {
		s.limiters[name] = New(name, cfg, opts...)
	}
	return s
}

// Get returns the limiter with the given name.
func (s *Set) Get(name string) (*Limiter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limiters[name]
	if !ok {
		return nil, errors.NewNotFoundError("limiter", name).WithCause(errors.ErrInvalidInput)
	}
	return l, nil
}

// MustGet is Get for the built-in names, panicking on an unknown name.
func (s *Set) MustGet(name string) *Limiter {
	l, err := s.Get(name)
	if err != nil {
		panic(err)
	}
	return l
}

// Names returns the limiter names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.limiters))
}

// Stats returns the statistics of every limiter, ordered by name.
func (s *Set) Stats() []Stats {
	names := s.Names()
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		out = append(out, s.MustGet(name).Stats())
	}
	return out
}

// Close closes every limiter.
func (s *Set) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.limiters {
		l.Close()
	}
}
