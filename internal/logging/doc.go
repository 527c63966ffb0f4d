// Package logging provides structured logging for handoff delegation sessions.
//
// This package wraps Go's log/slog to emit JSON log lines that carry the
// session, task and state they were written under. Logs are meant for
// post-hoc debugging of a delegation run: which tasks were admitted, when a
// worker timed out, why a session aborted.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{Dir: ".handoff", Level: "INFO"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessionLog := logger.WithSession("a1b2c3d4")
//	sessionLog.WithTask("task-2").Info("task admitted", "worker_type", "explore")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task admitted","session_id":"a1b2c3d4","task_id":"task-2","worker_type":"explore"}
//
// # Log Rotation
//
// When Options.MaxSizeMB is positive the log file is written through a
// [RotatingWriter]. Rotated files are named debug.log.1 (newest) through
// debug.log.N, and are gzip compressed when Options.Compress is set.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] to capture lines
// into a buffer for assertions.
package logging
