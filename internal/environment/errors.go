package environment

import "errors"

// Domain errors for the environment package.
var (
	// ErrInvalidResponse is returned when an instrument reply cannot be parsed.
	ErrInvalidResponse = errors.New("environment: invalid instrument response")

	// ErrUnknownCommand is returned by the simulated instrument for text it
	// does not understand.
	ErrUnknownCommand = errors.New("environment: unknown instrument command")

	// ErrInstrumentClosed is returned after an instrument is closed.
	ErrInstrumentClosed = errors.New("environment: instrument closed")

	// ErrInstrumentDesync is returned when a reply could not be read. The
	// link is closed and the instrument must be reopened.
	ErrInstrumentDesync = errors.New("environment: instrument reply lost, link closed")

	// ErrSetpointTimeout is reported when a set-point does not stabilise
	// within the configured bound.
	ErrSetpointTimeout = errors.New("environment: set-point did not stabilise")

	// ErrEngineClosed is returned when submitting to a shut-down engine.
	ErrEngineClosed = errors.New("environment: engine shut down")

	// ErrEngineBusy is returned when a message cannot be queued.
	ErrEngineBusy = errors.New("environment: engine busy")

	// ErrNotStarted is returned when submitting before Start.
	ErrNotStarted = errors.New("environment: engine not started")

	// ErrInvalidRequest is returned for a request without a valid command.
	ErrInvalidRequest = errors.New("environment: invalid request")
)
