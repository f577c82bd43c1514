// Package logging provides structured logging for taskgraph processes.
//
// This package wraps Go's log/slog to produce JSON-formatted logs with
// persistent context attributes. Several processes usually share one store,
// so every line carries enough context (store path, task ID, component) to
// be untangled after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithComponent("registry").WithTask("t-1").Info("task completed")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task completed","component":"registry","task_id":"t-1"}
//
// # Log Rotation
//
// Long-running watchers and sweepers should rotate:
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	})
//
// Rotated files are named taskgraph.log.1, taskgraph.log.2, and so on, where
// .1 is the most recent backup.
//
// # Testing
//
// Use [NopLogger] to discard all output.
package logging
