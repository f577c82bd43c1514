package store

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/taskgraph/internal/errors"
	"github.com/Iron-Ham/taskgraph/internal/filelock"
	"github.com/Iron-Ham/taskgraph/internal/logging"
)

type writeConfig struct {
	lock        bool
	lockTimeout time.Duration
	logger      *logging.Logger
}

// WriteOption configures WriteFile.
type WriteOption func(*writeConfig)

// WithLock makes WriteFile try to take the cross-process lock on path first.
// The lock is taken on the OS filesystem regardless of the afero.Fs given.
func WithLock(timeout time.Duration) WriteOption {
	return func(c *writeConfig) {
		c.lock = true
		c.lockTimeout = timeout
	}
}

// WithWriteLogger sets the logger used to report degraded writes.
func WithWriteLogger(l *logging.Logger) WriteOption {
	return func(c *writeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WriteFile atomically writes data to path. It fails open: when WithLock is
// given and the lock cannot be acquired, a warning is logged and the write
// proceeds unlocked. Only cancellation of ctx aborts the write.
func WriteFile(ctx context.Context, fs afero.Fs, path string, data []byte, opts ...WriteOption) error {
	cfg := &writeConfig{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(cfg)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if cfg.lock {
		lock, err := filelock.Acquire(ctx, path,
			filelock.WithTimeout(cfg.lockTimeout),
			filelock.WithLogger(cfg.logger),
		)
		switch {
		case err == nil:
			defer func() {
				if rerr := lock.Release(); rerr != nil {
					cfg.logger.Warn("failed to release lock", "path", path, "error", rerr.Error())
				}
			}()
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			cfg.logger.Warn("writing without lock",
				"path", path,
				"error", err.Error(),
				"contention", errors.IsContention(err),
			)
		}
	}

	if err := atomicWriteFile(fs, path, data, 0644); err != nil {
		return errors.NewStoreError("write", path, err)
	}
	return nil
}
