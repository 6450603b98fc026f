package spectrometer

import "errors"

// Domain errors for the spectrometer package.
var (
	// ErrInvalidRegister is returned for a register index outside the map.
	ErrInvalidRegister = errors.New("spectrometer: invalid register")

	// ErrReadBackMismatch is returned when a register does not hold the
	// value just written to it.
	ErrReadBackMismatch = errors.New("spectrometer: read-back mismatch")

	// ErrAlreadyArmed is returned when the trigger is armed twice without
	// an intervening disarm.
	ErrAlreadyArmed = errors.New("spectrometer: trigger already armed")

	// ErrNotTriggered is returned when a buffer is read before an armed
	// acquisition has run.
	ErrNotTriggered = errors.New("spectrometer: no acquisition captured")

	// ErrBufferSize is returned when a buffer cannot be split into two
	// equal channels.
	ErrBufferSize = errors.New("spectrometer: unexpected buffer size")

	// ErrDeviceClosed is returned by a device after Close.
	ErrDeviceClosed = errors.New("spectrometer: device closed")

	// ErrEngineClosed is returned when submitting to a shut-down engine.
	ErrEngineClosed = errors.New("spectrometer: engine shut down")

	// ErrEngineBusy is returned when a command is submitted while another
	// is still queued.
	ErrEngineBusy = errors.New("spectrometer: engine busy")

	// ErrNotStarted is returned when submitting before Start.
	ErrNotStarted = errors.New("spectrometer: engine not started")

	// ErrInvalidRequest is returned for a request without a valid command.
	ErrInvalidRequest = errors.New("spectrometer: invalid request")
)
