package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/nmr-lab-core/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "nmrlab"

// Output destinations accepted in config.LoggingConfig.Output.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// Logger wraps slog.Logger with lab-specific helpers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// Open builds the Logger described by cfg.
//
// With output "file" entries are appended to cfg.File, which is created
// along with its parent directories, so consecutive runs share one lab
// logbook. The returned close func releases the file; for the standard
// streams it does nothing.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for the default field
//
// Returns:
//   - *Logger: Configured logger
//   - func() error: Releases the destination; always non-nil
//   - error: If the log file cannot be opened
func Open(cfg config.LoggingConfig, version string) (*Logger, func() error, error) {
	nop := func() error { return nil }

	switch strings.ToLower(cfg.Output) {
	case OutputFile:
		if cfg.File == "" {
			return nil, nop, fmt.Errorf("logging: output %q needs a file path", OutputFile)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, nop, fmt.Errorf("logging: creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path from operator config
		if err != nil {
			return nil, nop, fmt.Errorf("logging: opening log file: %w", err)
		}
		return NewWithWriter(f, cfg, version), f.Close, nil
	case OutputStderr:
		return NewWithWriter(os.Stderr, cfg, version), nop, nil
	default:
		return NewWithWriter(os.Stdout, cfg, version), nop, nil
	}
}

// New creates a Logger on stdout or stderr. A "file" output falls back
// to stderr; use Open to honour it.
func New(cfg config.LoggingConfig, version string) *Logger {
	if strings.EqualFold(cfg.Output, OutputFile) {
		cfg.Output = OutputStderr
	}
	logger, _, _ := Open(cfg, version)
	return logger
}

// NewWithWriter creates a Logger that writes to w. The Output and File
// fields of cfg are ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel maps debug, info, warn and error to slog levels; anything
// else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	specLogger := logger.With("component", "spectrometer")
//	specLogger.Info("device opened") // Includes component=spectrometer
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// ForLab tags every entry with the lab ID so logbooks from several
// instruments can be merged.
func (l *Logger) ForLab(id string) *Logger {
	if id == "" {
		return l
	}
	return l.With("lab", id)
}

// Default is a JSON info logger on stdout for use before the
// configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: OutputStdout,
	}, "dev")
}
