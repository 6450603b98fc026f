// Package logging provides structured logging for the NMR lab core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the engines and the scheduler.
//
// # Features
//
//   - JSON output for unattended runs (machine-parsable)
//   - Text output for bench work (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Append-only logbook file per lab machine
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: ""           # logbook path when output is file
//
// A file output is opened in append mode, so the logbook of a lab machine
// accumulates every run.
//
// # Usage
//
//	logger, closeLog, err := logging.Open(cfg.Logging, "1.0.0")
//	if err != nil {
//	    return err
//	}
//	defer closeLog()
//	logger = logger.ForLab(cfg.Lab.ID)
//	logger.Info("run started", "run_id", id)
//	logger.Component("spectrometer").Error("register write failed", "register", 1, "error", err)
package logging
