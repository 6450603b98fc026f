package scheduler

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrNoCommands is returned by Start when the queue is empty.
	ErrNoCommands = errors.New("scheduler: no commands")

	// ErrNoOutputDirectory is returned by Start when no run directory can be created.
	ErrNoOutputDirectory = errors.New("scheduler: no output directory")

	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("scheduler: run already in progress")

	// ErrQueueLocked is returned by Start when another run holds the queue.
	ErrQueueLocked = errors.New("scheduler: queue is locked by another run")

	// ErrNotRunning is returned by Wait when no run was started.
	ErrNotRunning = errors.New("scheduler: no run started")

	// ErrUnsupportedCommand is logged when a queued command has no owning engine.
	ErrUnsupportedCommand = errors.New("scheduler: unsupported command")

	// ErrBufferShape is returned when a repeat's channels do not match the accumulator.
	ErrBufferShape = errors.New("scheduler: buffer shape mismatch")

	// ErrEngineStopped is reported when an engine's event stream closes mid-run.
	ErrEngineStopped = errors.New("scheduler: engine stopped")
)
