// Package registry is the persistent, multi-process task registry.
//
// A Registry is a passive store: it holds tasks, their blocked-by edges and
// groups in one JSON document shared by any number of processes. Every
// mutation takes the cross-process lock, re-reads the document, validates,
// writes atomically, releases the lock and only then publishes events.
// Reads never take the lock; they serve a snapshot that is reloaded when the
// document changes on disk.
package registry

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/filelock"
	"github.com/Iron-Ham/taskgraph/internal/logging"
	"github.com/Iron-Ham/taskgraph/internal/store"
)

// Registry manages tasks persisted in a single store document.
// All methods are safe for concurrent use, including from several processes.
type Registry struct {
	// mu serializes this process's mutations so its goroutines queue here
	// instead of contending on the file lock.
	mu sync.Mutex

	codec    *store.Codec
	logger   *logging.Logger
	bus      *event.Bus
	lockOpts []filelock.Option
	now      func() time.Time
	newID    func() string
	pid      int

	snapMu  sync.RWMutex
	snap    *store.Document
	snapVer store.Version
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBus sets the bus events are published on. Without one a private bus
// is created, reachable through Bus.
func WithBus(b *event.Bus) Option {
	return func(r *Registry) {
		if b != nil {
			r.bus = b
		}
	}
}

// WithFs sets the filesystem holding the document. The lock sentinel always
// lives on the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Registry) {
		r.codec = store.NewCodec(fs, r.codec.Path())
	}
}

// WithLockOptions passes options to every lock acquisition.
func WithLockOptions(opts ...filelock.Option) Option {
	return func(r *Registry) {
		r.lockOpts = append(r.lockOpts, opts...)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides how task and group IDs are allocated.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// New opens the registry stored at path. The document is not created until
// the first mutation.
func New(path string, opts ...Option) *Registry {
	r := &Registry{
		codec:  store.NewCodec(nil, path),
		logger: logging.NopLogger(),
		bus:    event.NewBus(),
		now:    time.Now,
		newID:  uuid.NewString,
		pid:    os.Getpid(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("registry").WithStore(path)
	r.lockOpts = append([]filelock.Option{filelock.WithLogger(r.logger)}, r.lockOpts...)
	return r
}

// Path returns the store document path.
func (r *Registry) Path() string {
	return r.codec.Path()
}

// Bus returns the bus the registry publishes on.
func (r *Registry) Bus() *event.Bus {
	return r.bus
}

// txn is the state of one locked mutation.
type txn struct {
	doc     *store.Document
	now     time.Time
	pid     int
	changed bool
	events  []event.Event
}

func (tx *txn) publish(e event.Event) {
	tx.events = append(tx.events, e)
}

// mutate runs fn against a freshly loaded document while holding the
// cross-process lock. If fn returns an error nothing is written. Events
// queued by fn are published after the lock is released.
func (r *Registry) mutate(ctx context.Context, op string, fn func(tx *txn) error) error {
	events, err := r.mutateLocked(ctx, op, fn)
	if err != nil {
		return err
	}
	for _, e := range events {
		r.bus.Publish(e)
	}
	return nil
}

func (r *Registry) mutateLocked(ctx context.Context, op string, fn func(tx *txn) error) ([]event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, err := filelock.Acquire(ctx, r.codec.Path(), r.lockOpts...)
	if err != nil {
		r.logger.Warn("mutation aborted", "op", op, "error", err.Error())
		return nil, errors.Wrap(err, op)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			r.logger.Warn("failed to release store lock", "op", op, "error", rerr.Error())
		}
	}()

	doc, err := r.codec.Load()
	if err != nil {
		r.logger.Error("failed to load store", "op", op, "error", err.Error())
		return nil, err
	}

	tx := &txn{doc: doc, now: r.now().UTC(), pid: r.pid}
	if err := fn(tx); err != nil {
		r.logger.Debug("mutation rejected", "op", op, "error", err.Error())
		return nil, err
	}

	if recomputeGroups(doc, tx.now) > 0 {
		tx.changed = true
	}
	if !tx.changed {
		r.setSnapshot(doc)
		return tx.events, nil
	}

	doc.UpdatedAt = tx.now
	if err := r.codec.Save(doc); err != nil {
		r.logger.Error("failed to save store", "op", op, "error", err.Error())
		return nil, err
	}
	r.setSnapshot(doc)
	r.logger.Debug("mutation applied", "op", op, "events", len(tx.events))
	return tx.events, nil
}

// setSnapshot caches doc. Callers hold the store lock, so the file cannot
// change between the write and the stat.
func (r *Registry) setSnapshot(doc *store.Document) {
	ver, err := r.codec.Stat()
	if err != nil {
		ver = store.Version{}
	}
	r.cacheSnapshot(doc, ver)
}

func (r *Registry) cacheSnapshot(doc *store.Document, ver store.Version) {
	r.snapMu.Lock()
	r.snap = doc
	r.snapVer = ver
	r.snapMu.Unlock()
}

// snapshot returns the current document, reloading it when the file's size
// or modification time differs from the cached revision. The returned
// document must not be modified.
func (r *Registry) snapshot() (*store.Document, error) {
	ver, err := r.codec.Stat()
	if err != nil {
		return nil, err
	}

	r.snapMu.RLock()
	snap, cached := r.snap, r.snapVer
	r.snapMu.RUnlock()
	if snap != nil && sameVersion(ver, cached) {
		return snap, nil
	}
	return r.reload()
}

// reload stats before loading so that a write racing with the load leaves
// the cache tagged with the older revision and is picked up next time.
func (r *Registry) reload() (*store.Document, error) {
	ver, err := r.codec.Stat()
	if err != nil {
		return nil, err
	}
	doc, err := r.codec.Load()
	if err != nil {
		return nil, err
	}
	r.cacheSnapshot(doc, ver)
	return doc, nil
}

// Refresh reloads the snapshot from disk unconditionally.
func (r *Registry) Refresh() error {
	_, err := r.reload()
	return err
}

func sameVersion(a, b store.Version) bool {
	return a.Exists == b.Exists && a.Size == b.Size && a.ModTime.Equal(b.ModTime)
}
