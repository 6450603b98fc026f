package spectrometer

import "context"

// Device is the register-programmable pulse generator / digitizer.
//
// Implementations need not be safe for concurrent use; the engine calls
// them from a single goroutine.
type Device interface {
	// WriteRegister writes value to reg under mask and returns the
	// register contents read back afterwards. Mask 0 overwrites the whole
	// register; otherwise only the bits set in mask change.
	WriteRegister(ctx context.Context, reg int, value, mask uint32) (uint32, error)

	// ReadRegister returns the current register contents.
	ReadRegister(ctx context.Context, reg int) (uint32, error)

	// ArmTrigger arms the acquisition trigger. Arming an armed trigger
	// returns ErrAlreadyArmed.
	ArmTrigger(ctx context.Context) error

	// DisarmTrigger disarms the trigger. Disarming a disarmed trigger is
	// not an error.
	DisarmTrigger(ctx context.Context) error

	// ReadBuffer returns the last acquisition: 2*samples values, channel A
	// then channel B.
	ReadBuffer(ctx context.Context, samples int) ([]int16, error)

	// Close releases the device handle.
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
