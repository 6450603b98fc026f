package command

import "errors"

// Domain errors for the command package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, command.ErrQueueLocked) {
//	    // a run is in progress, try again when it finishes
//	}
var (
	// ErrInvalidSequence is returned when a sequence file cannot be parsed.
	ErrInvalidSequence = errors.New("command: invalid sequence")

	// ErrInvalidCommand is returned when an invalid command is offered to the queue.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrIndexOutOfRange is returned when a queue index does not exist.
	ErrIndexOutOfRange = errors.New("command: index out of range")

	// ErrFieldNotApplicable is returned when an edit targets a field the
	// command's type does not have (e.g. rate on an NMR command).
	ErrFieldNotApplicable = errors.New("command: field not applicable to command type")

	// ErrOutOfRange is returned when a set-point value or rate is outside its legal range.
	ErrOutOfRange = errors.New("command: value out of range")

	// ErrInvalidValue is returned when an edit value cannot be applied
	// (e.g. a fractional or non-positive repeat count).
	ErrInvalidValue = errors.New("command: invalid value")

	// ErrQueueLocked is returned when the queue is mutated while a run is in progress.
	ErrQueueLocked = errors.New("command: queue locked by active run")

	// ErrInvalidQueueFile is returned when a queue file entry cannot be turned into a command.
	ErrInvalidQueueFile = errors.New("command: invalid queue file")
)
