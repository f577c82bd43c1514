package filelock

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/logging"
)

// Suffix is appended to the target path to form the sentinel path.
const Suffix = ".lock"

// Defaults for acquisition.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultStaleAfter    = 30 * time.Second
	DefaultRetryInterval = 20 * time.Millisecond
	maxRetryInterval     = 500 * time.Millisecond
)

// ErrNotOwner is returned by Release when the sentinel no longer records
// this lock as its owner.
var ErrNotOwner = errors.New("lock sentinel is owned by someone else")

// Owner is the JSON body of a sentinel file.
type Owner struct {
	PID        int       `json:"ownerProcessId"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Lock is a held cross-process lock.
type Lock struct {
	Owner

	path     string
	logger   *logging.Logger
	released bool
}

// Path returns the sentinel file path.
func (l *Lock) Path() string {
	return l.path
}

type config struct {
	timeout       time.Duration
	staleAfter    time.Duration
	retryInterval time.Duration
	logger        *logging.Logger
	alive         func(pid int) bool
	now           func() time.Time
}

// Option configures Acquire.
type Option func(*config)

// WithTimeout bounds how long Acquire waits for a held lock. A timeout of
// zero makes a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithStaleAfter sets the age past which any sentinel is considered stale.
func WithStaleAfter(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithLogger sets the logger used for acquisition and stale cleanup.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		timeout:       DefaultTimeout,
		staleAfter:    DefaultStaleAfter,
		retryInterval: DefaultRetryInterval,
		logger:        logging.NopLogger(),
		alive:         processAlive,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errHeld signals a live sentinel to the retry loop.
var errHeld = errors.New("lock held")

// Acquire takes the lock for target, waiting up to the configured timeout.
// On contention it returns a *errors.LockError that names the current owner
// and wraps an *errors.TimeoutError whose cause is errors.ErrLockTimeout. If ctx ends first, ctx.Err() is returned.
func Acquire(ctx context.Context, target string, opts ...Option) (*Lock, error) {
	cfg := newConfig(opts)
	path := target + Suffix
	logger := cfg.logger.WithComponent("filelock")

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	start := cfg.now()
	var lastOwner *Owner

	attempt := func() error {
		// A removed stale sentinel earns one immediate retry.
		for range 2 {
			owner := Owner{PID: os.Getpid(), Hostname: hostname, AcquiredAt: cfg.now().UTC()}
			err := create(path, owner)
			if err == nil {
				lastOwner = &owner
				return nil
			}
			if !errors.Is(err, fs.ErrExist) {
				return backoff.Permanent(err)
			}

			st, err := inspect(path, cfg)
			if err != nil {
				return backoff.Permanent(err)
			}
			if !st.Held {
				continue
			}
			lastOwner = st.Owner
			if !st.Stale {
				return errHeld
			}
			if removeStale(path, st) {
				logger.Warn("removed stale lock",
					"path", path,
					"old_pid", st.ownerPID(),
					"age", st.Age.String(),
				)
			}
		}
		return errHeld
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if cfg.timeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = cfg.retryInterval
		eb.MaxInterval = maxRetryInterval
		eb.RandomizationFactor = 0.5
		eb.Multiplier = 2
		eb.MaxElapsedTime = cfg.timeout
		eb.Reset()
		b = eb
	}

	err = backoff.Retry(attempt, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		logger.Debug("lock acquired", "path", path, "waited", cfg.now().Sub(start).String())
		return &Lock{Owner: *lastOwner, path: path, logger: logger}, nil
	case errors.Is(err, errHeld):
		timeout := errors.NewTimeoutError("acquiring "+path, cfg.timeout).WithCause(errors.ErrLockTimeout)
		lerr := errors.NewLockError(path, timeout).WithWaited(cfg.now().Sub(start))
		if lastOwner != nil {
			lerr = lerr.WithOwner(lastOwner.PID, lastOwner.Hostname)
		}
		logger.Warn("lock contention", "path", path, "owner_pid", lerr.OwnerPID)
		return nil, lerr
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil, err
	default:
		return nil, errors.NewLockError(path, err)
	}
}

// create writes a new sentinel, failing with fs.ErrExist if one is present.
func create(path string, owner Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("failed to marshal lock owner: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return f.Close()
}

// Release removes the sentinel if it still records this lock's owner.
// It is safe to call more than once. Callers usually only log the error.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true

	current, err := readOwner(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("lock sentinel vanished before release", "path", l.path)
			return fmt.Errorf("release %s: %w", l.path, ErrNotOwner)
		}
		return errors.NewLockError(l.path, err)
	}
	if current.PID != l.PID || current.Hostname != l.Hostname || !current.AcquiredAt.Equal(l.AcquiredAt) {
		l.logger.Warn("lock sentinel taken over before release",
			"path", l.path,
			"owner_pid", current.PID,
		)
		return fmt.Errorf("release %s: %w", l.path, ErrNotOwner)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.NewLockError(l.path, err)
	}
	l.logger.Debug("lock released", "path", l.path, "held", time.Since(l.AcquiredAt).String())
	return nil
}

// readOwner parses a sentinel file.
func readOwner(path string) (*Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return readOwnerBytes(data)
}
