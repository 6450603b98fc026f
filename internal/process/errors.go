package process

import "errors"

// Domain errors for the process package.
var (
	// ErrNoBinary is returned by New when Config.Binary is empty.
	ErrNoBinary = errors.New("process: no binary configured")

	// ErrAlreadyRunning is returned when Start is called on a running supervisor.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrNotReady is returned when the readiness probe does not succeed
	// before the ready timeout, or the daemon exits before becoming ready.
	ErrNotReady = errors.New("process: daemon not ready")
)
