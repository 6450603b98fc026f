package command

import (
	"fmt"
	"math"
	"sync"
)

// EditField names an editable command attribute.
type EditField int

// Editable fields.
const (
	FieldRepeats EditField = iota + 1
	FieldValue
	FieldRate
)

// String returns the field name.
func (f EditField) String() string {
	switch f {
	case FieldRepeats:
		return "repeats"
	case FieldValue:
		return "value"
	case FieldRate:
		return "rate"
	default:
		return "unknown"
	}
}

// Queue is the ordered list of commands a run executes.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - While locked by a run, Add, Delete and Edit return ErrQueueLocked.
type Queue struct {
	mu       sync.RWMutex
	commands []Command
	locked   bool
}

// NewQueue creates a queue holding the given commands in order.
// Invalid commands are not checked here; use Add for that.
func NewQueue(cmds ...Command) *Queue {
	q := &Queue{}
	q.commands = append(q.commands, cmds...)
	return q
}

// Add appends a command.
//
// Returns:
//   - error: ErrInvalidCommand if cmd is nil or not Valid, ErrQueueLocked during a run
func (q *Queue) Add(cmd Command) error {
	if cmd == nil || !cmd.Valid() {
		return ErrInvalidCommand
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return ErrQueueLocked
	}
	q.commands = append(q.commands, cmd)
	return nil
}

// Delete removes the command at index, shifting later commands down.
func (q *Queue) Delete(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return ErrQueueLocked
	}
	if index < 0 || index >= len(q.commands) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(q.commands))
	}
	q.commands = append(q.commands[:index], q.commands[index+1:]...)
	return nil
}

// Get returns the command at index.
func (q *Queue) Get(index int) (Command, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if index < 0 || index >= len(q.commands) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(q.commands))
	}
	return q.commands[index], nil
}

// Type returns the kind of the command at index.
func (q *Queue) Type(index int) (Kind, error) {
	cmd, err := q.Get(index)
	if err != nil {
		return 0, err
	}
	return cmd.Kind(), nil
}

// Edit changes one field of the command at index.
//
// FieldRepeats applies to NMR commands and must be a whole number >= 1.
// FieldValue and FieldRate apply to PPMS commands and must lie in the
// variable's legal range. Any other combination returns ErrFieldNotApplicable
// and leaves the command unchanged.
func (q *Queue) Edit(index int, field EditField, value float64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return ErrQueueLocked
	}
	if index < 0 || index >= len(q.commands) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(q.commands))
	}

	switch cmd := q.commands[index].(type) {
	case *NMRCommand:
		if field != FieldRepeats {
			return fmt.Errorf("%w: %s on %s", ErrFieldNotApplicable, field, cmd.Kind())
		}
		if value < 1 || value != math.Trunc(value) || value > math.MaxInt32 {
			return fmt.Errorf("%w: repeats=%s", ErrInvalidValue, FormatNumber(value))
		}
		cmd.repeats = int(value)
		return nil

	case *PPMSCommand:
		switch field {
		case FieldValue:
			return cmd.setValue(value)
		case FieldRate:
			return cmd.setRate(value)
		default:
			return fmt.Errorf("%w: %s on %s", ErrFieldNotApplicable, field, cmd.Kind())
		}

	default:
		return fmt.Errorf("%w: %s on %T", ErrFieldNotApplicable, field, cmd)
	}
}

// Len returns the number of commands.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.commands)
}

// Commands returns a copy of the command list.
func (q *Queue) Commands() []Command {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Command, len(q.commands))
	copy(out, q.commands)
	return out
}

// Lock freezes the queue for the duration of a run.
// It returns false if the queue was already locked.
func (q *Queue) Lock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return false
	}
	q.locked = true
	return true
}

// Unlock makes the queue editable again.
func (q *Queue) Unlock() {
	q.mu.Lock()
	q.locked = false
	q.mu.Unlock()
}

// Locked reports whether a run currently holds the queue.
func (q *Queue) Locked() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.locked
}

// Records returns the serialisable form of every command, in order.
func (q *Queue) Records() []Record {
	cmds := q.Commands()
	out := make([]Record, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, RecordOf(c))
	}
	return out
}
