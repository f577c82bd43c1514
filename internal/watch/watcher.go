// Package watch turns filesystem notifications about the store document into
// store.changed events, so live views can refresh when any process writes.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/logging"
)

// DefaultDebounce is how long the watcher waits for a burst of events to end.
const DefaultDebounce = 50 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce window. Zero publishes every event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher publishes a StoreChangedEvent whenever the store document is
// written, created or renamed into place.
type Watcher struct {
	path     string
	dir      string
	base     string
	bus      *event.Bus
	logger   *logging.Logger
	debounce time.Duration

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	started bool
}

// New creates a watcher for the document at path. Nothing is watched until
// Start.
func New(path string, bus *event.Bus, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		dir:      filepath.Dir(abs),
		base:     filepath.Base(abs),
		bus:      bus,
		logger:   logging.NopLogger(),
		debounce: DefaultDebounce,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("watch").WithStore(abs)
	return w, nil
}

// Start watches the document's directory, creating it if needed, and runs
// until ctx is done or Close is called. The document itself is not watched
// because atomic saves replace it with a new inode.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.started = true
		go w.watchLoop(ctx)
	}
	return nil
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) relevant(e fsnotify.Event) bool {
	if filepath.Base(e.Name) != w.base {
		return false
	}
	return e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// watchLoop collects relevant events and publishes one StoreChangedEvent per
// quiet period.
func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	defer debounceTimer.Stop()

	var pendingOp fsnotify.Op
	publish := func() {
		if pendingOp == 0 {
			return
		}
		op := pendingOp
		pendingOp = 0
		w.logger.Debug("store changed", "op", op.String())
		w.bus.Publish(event.NewStoreChangedEvent(w.path, op.String()))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case e, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(e) {
				continue
			}
			pendingOp |= e.Op
			if w.debounce == 0 {
				publish()
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			publish()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err.Error())
		}
	}
}
