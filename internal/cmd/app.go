package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/taskgraph/internal/config"
	"github.com/Iron-Ham/taskgraph/internal/event"
	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/logging"
	"github.com/Iron-Ham/taskgraph/internal/registry"
)

// app is the dependency graph every command runs against. It is built once
// per invocation in the root command's pre-run hook.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	bus      *event.Bus
	reg      *registry.Registry
	limiters *limiter.Set
	out      io.Writer
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var logger *logging.Logger
	if cfg.Logging.Enabled {
		logger, err = logging.NewLoggerWithRotation(cfg.LogDir(), cfg.Logging.Level, cfg.Logging.Rotation())
	} else {
		logger, err = logging.NewLogger("", logging.LevelWarn)
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger.With("command", cmd.CommandPath())
	a.bus = event.NewBus()
	a.reg = registry.New(cfg.Store.Path,
		registry.WithLogger(a.logger),
		registry.WithBus(a.bus),
		registry.WithLockOptions(cfg.Store.LockOptions()...),
	)
	a.limiters = limiter.NewSet(cfg.LimiterConfigs(), limiter.WithLogger(a.logger))
	a.out = cmd.OutOrStdout()
	return nil
}

func (a *app) close() error {
	if a.limiters != nil {
		a.limiters.Close()
		a.limiters = nil
	}
	if a.logger != nil {
		err := a.logger.Close()
		a.logger = nil
		return err
	}
	return nil
}

// runE adapts fn to cobra and releases the app when it returns, including
// on error, which cobra's post-run hooks do not cover.
func (a *app) runE(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer func() { _ = a.close() }()
		return fn(cmd.Context(), args)
	}
}

// state runs fn through the "state" limiter, which bounds how many store
// operations one process has in flight.
func (a *app) state(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	return a.limiters.MustGet(limiter.NameState).Run(ctx, fn, limiter.RunOptions{Label: label})
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	a.printf("%s\n", data)
	return nil
}

// blob turns a flag value into an opaque document value. Valid JSON is kept
// as is, anything else is stored as a JSON string, and "" means unset.
func blob(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	data, _ := json.Marshal(s)
	return data
}

// splitIDs splits a comma separated id list, dropping empty entries.
func splitIDs(values []string) []string {
	var ids []string
	for _, v := range values {
		for id := range strings.SplitSeq(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
