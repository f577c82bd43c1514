package limiter

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/logging"
)

// Func is an operation run under the limiter. ctx is cancelled when the
// operation times out or the caller's context ends.
type Func func(ctx context.Context) error

// RunOptions describe one submitted operation.
type RunOptions struct {
	// Priority orders the queue; higher starts first.
	Priority int
	// Timeout overrides the limiter's operation timeout when positive.
	Timeout time.Duration
	// Label identifies the operation in errors and logs.
	Label string
}

// Config configures a Limiter.
type Config struct {
	// MaxConcurrent is the ceiling on running operations. 0 means unlimited.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// Timeout bounds a started operation. 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
	// QueueTimeout bounds the wait for a slot. 0 disables it.
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
	// SweepInterval is how often expired queue entries are rejected.
	// Defaults to a quarter of QueueTimeout, clamped to [10ms, 1s].
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func (c Config) sweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	return min(max(c.QueueTimeout/4, 10*time.Millisecond), time.Second)
}

// Option configures a Limiter or a Set.
type Option func(*options)

type options struct {
	logger *logging.Logger
	now    func() time.Time
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for queue ages and statistics.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Stats is a point-in-time view of a limiter.
type Stats struct {
	Name          string        `json:"name"`
	Limit         int           `json:"limit"`
	Running       int           `json:"running"`
	Queued        int           `json:"queued"`
	Submitted     uint64        `json:"submitted"`
	Completed     uint64        `json:"completed"`
	Failed        uint64        `json:"failed"`
	Timeouts      uint64        `json:"timeouts"`
	QueueTimeouts uint64        `json:"queueTimeouts"`
	Drained       uint64        `json:"drained"`
	Canceled      uint64        `json:"canceled"`
	AvgQueueWait  time.Duration `json:"avgQueueWait"`
	AvgRunTime    time.Duration `json:"avgRunTime"`
}

// Limiter runs submitted operations with bounded concurrency.
type Limiter struct {
	name   string
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	limit   int
	running int
	queue   queue
	seq     uint64
	closed  bool
	stats   Stats
	waited  time.Duration
	started uint64
	ran     time.Duration
	settled uint64

	wg       conc.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and starts its queue sweep when cfg has a queue
// timeout.
func New(name string, cfg Config, opts ...Option) *Limiter {
	o := buildOptions(opts)
	if cfg.MaxConcurrent < 0 {
		cfg.MaxConcurrent = 0
	}
	l := &Limiter{
		name:   name,
		cfg:    cfg,
		logger: o.logger.WithComponent("limiter").With("limiter", name),
		now:    o.now,
		limit:  cfg.MaxConcurrent,
		stop:   make(chan struct{}),
	}
	if cfg.QueueTimeout > 0 {
		l.wg.Go(l.sweepLoop)
	}
	return l
}

// Name returns the limiter's name.
func (l *Limiter) Name() string {
	return l.name
}

// Submit queues fn and returns its future. The future is already rejected
// when the limiter is closed. Cancelling ctx rejects a queued operation at
// once and cancels a running one's context.
func (l *Limiter) Submit(ctx context.Context, fn Func, opts RunOptions) *Future {
	fut := newFuture(opts.Label)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		fut.settle(l.reject(errors.LimiterClosed, 0, opts.Label, ""))
		return fut
	}
	if err := ctx.Err(); err != nil {
		fut.settle(l.canceled(err, opts.Label))
		return fut
	}

	l.seq++
	e := &entry{
		ctx:      ctx,
		fn:       fn,
		opts:     opts,
		fut:      fut,
		seq:      l.seq,
		enqueued: l.now(),
	}
	e.stopWatch = context.AfterFunc(ctx, func() { l.cancel(e) })
	l.stats.Submitted++
	heap.Push(&l.queue, e)
	l.dispatchLocked()
	return fut
}

// Run submits fn and waits for it to settle.
func (l *Limiter) Run(ctx context.Context, fn Func, opts RunOptions) error {
	return l.Submit(ctx, fn, opts).Wait(ctx)
}

// Resize sets a new ceiling, starting queued operations at once if it grew.
// 0 means unlimited.
func (l *Limiter) Resize(n int) {
	if n < 0 {
		n = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.limit
	l.limit = n
	l.dispatchLocked()
	l.logger.Info("limiter resized", "from", old, "to", n)
}

// Limit returns the current ceiling.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Drain rejects every queued operation with ErrDrained and returns how many
// were rejected. Running operations are not affected.
func (l *Limiter) Drain(reason string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainLocked(errors.LimiterDrained, reason)
}

func (l *Limiter) drainLocked(kind errors.LimiterErrorKind, reason string) int {
	n := 0
	for l.queue.Len() > 0 {
		e := heap.Pop(&l.queue).(*entry)
		e.stopWatch()
		if e.fut.settle(l.reject(kind, 0, e.opts.Label, reason)) {
			l.stats.Drained++
			n++
		}
	}
	if n > 0 {
		l.logger.Info("limiter queue drained", "rejected", n, "reason", reason)
	}
	return n
}

// Stats returns counters and averages.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Name = l.name
	s.Limit = l.limit
	s.Running = l.running
	s.Queued = l.queue.Len()
	if l.started > 0 {
		s.AvgQueueWait = l.waited / time.Duration(l.started)
	}
	if l.settled > 0 {
		s.AvgRunTime = l.ran / time.Duration(l.settled)
	}
	return s
}

// Close stops the queue sweep, rejects queued operations with
// ErrLimiterClosed and waits for running operations to return. It is safe to
// call more than once.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.drainLocked(errors.LimiterClosed, "limiter closed")
	l.mu.Unlock()

	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
}

// dispatchLocked starts queued operations while slots are free.
func (l *Limiter) dispatchLocked() {
	for l.queue.Len() > 0 && (l.limit == 0 || l.running < l.limit) {
		e := heap.Pop(&l.queue).(*entry)
		l.startLocked(e)
	}
}

func (l *Limiter) startLocked(e *entry) {
	now := l.now()
	l.running++
	l.started++
	l.waited += now.Sub(e.enqueued)

	opCtx, cancel := context.WithCancel(e.ctx)
	timeout := e.opts.Timeout
	if timeout <= 0 {
		timeout = l.cfg.Timeout
	}

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			l.mu.Lock()
			timedOut := e.fut.settle(l.reject(errors.LimiterOperationTimeout, timeout, e.opts.Label, ""))
			if timedOut {
				l.stats.Timeouts++
			}
			l.mu.Unlock()
			if timedOut {
				l.logger.Warn("operation timed out", "label", e.opts.Label, "timeout", timeout.String())
			}
			cancel()
			l.release(e)
		})
	}

	l.wg.Go(func() {
		err := invoke(opCtx, e.fn)
		if timer != nil {
			timer.Stop()
		}
		cancel()
		e.stopWatch()

		// Counters are updated under the lock that also settles the future
		// so Stats observed after Wait include this operation.
		elapsed := l.now().Sub(now)
		l.mu.Lock()
		if e.fut.settle(err) {
			if err != nil {
				l.stats.Failed++
			} else {
				l.stats.Completed++
			}
			l.settled++
			l.ran += elapsed
		}
		l.mu.Unlock()
		l.release(e)
	})
}

// release frees e's slot exactly once and starts the next operation.
func (l *Limiter) release(e *entry) {
	e.releaseOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.running--
		if !l.closed {
			l.dispatchLocked()
		}
	})
}

// cancel runs when a caller's context ends. A queued operation is removed
// and rejected; a running one settles with ErrCanceled wrapping the context
// error and its function sees the cancellation.
func (l *Limiter) cancel(e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue.remove(e)
	if e.fut.settle(l.canceled(e.ctx.Err(), e.opts.Label)) {
		l.stats.Canceled++
	}
}

func (l *Limiter) canceled(cause error, label string) error {
	if label == "" {
		return errors.Wrapf(errors.Canceled(cause), "limiter %s", l.name)
	}
	return errors.Wrapf(errors.Canceled(cause), "limiter %s: %s", l.name, label)
}

// sweepLoop rejects queue entries older than the queue timeout.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.expireQueued()
		}
	}
}

func (l *Limiter) expireQueued() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var expired []*entry
	for _, e := range l.queue {
		if now.Sub(e.enqueued) >= l.cfg.QueueTimeout {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		l.queue.remove(e)
		e.stopWatch()
		if e.fut.settle(l.reject(errors.LimiterQueueTimeout, l.cfg.QueueTimeout, e.opts.Label, "")) {
			l.stats.QueueTimeouts++
		}
	}
	if len(expired) > 0 {
		l.logger.Warn("queued operations expired", "count", len(expired), "queue_timeout", l.cfg.QueueTimeout.String())
	}
	return len(expired)
}

func (l *Limiter) reject(kind errors.LimiterErrorKind, limit time.Duration, label, reason string) error {
	return errors.NewLimiterError(l.name, kind, limit).WithLabel(label).WithReason(reason)
}

// invoke calls fn, turning a panic into an error.
func invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
