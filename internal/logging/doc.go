// Package logging provides structured logging for slurmled.
//
// This package wraps Go's log/slog to emit one JSON object per line. Every
// monitor run gets a run ID, and each subsystem gets a component tag, so the
// interleaved output of the poll loop and the render loop can be separated
// after the fact:
//
//	logger, err := logging.NewLogger("/var/log/slurmled/monitor.log", "INFO",
//	    logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithRun(runID)
//	runLogger.WithComponent("indicator").Info("LED changes", "changes", "C1(ON/green)")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"LED changes","run_id":"...","component":"indicator","changes":"C1(ON/green)"}
//
// # Rotation
//
// When a file path is configured the logger writes through [RotatingWriter],
// which renames the active file to file.1 (shifting older backups up to
// MaxBackups) once it would exceed MaxSizeMB.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers share
// the parent's handler and writer.
package logging
