package environment

import "context"

// Instrument is a text-protocol connection to the environment controller.
//
// Implementations need not be safe for concurrent use; the engine calls
// them from a single goroutine.
type Instrument interface {
	// Command sends a command that has no reply.
	Command(ctx context.Context, cmd string) error

	// Query sends a query and returns its reply line without terminator.
	Query(ctx context.Context, cmd string) (string, error)

	// Close releases the connection.
	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
