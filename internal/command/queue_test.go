package command

import (
	"errors"
	"testing"
)

func mustTemp(t *testing.T, value, rate float64) *PPMSCommand {
	t.Helper()
	cmd, err := NewTemperatureCommand(value, rate)
	if err != nil {
		t.Fatalf("NewTemperatureCommand(%v, %v) error = %v", value, rate, err)
	}
	return cmd
}

func mustField(t *testing.T, value, rate float64) *PPMSCommand {
	t.Helper()
	cmd, err := NewFieldCommand(value, rate)
	if err != nil {
		t.Fatalf("NewFieldCommand(%v, %v) error = %v", value, rate, err)
	}
	return cmd
}

func TestQueue_AddGetType(t *testing.T) {
	q := NewQueue()
	nmr := NewNMRCommand("/s/T1.seq", testSequence(), 2)
	temp := mustTemp(t, 250, 5)
	field := mustField(t, 1000, 100)

	for _, c := range []Command{nmr, temp, field, nmr} {
		if err := q.Add(c); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}

	wantKinds := []Kind{KindNMR, KindTemperature, KindField, KindNMR}
	for i, want := range wantKinds {
		got, err := q.Type(i)
		if err != nil {
			t.Fatalf("Type(%d) error = %v", i, err)
		}
		if got != want {
			t.Errorf("Type(%d) = %v, want %v", i, got, want)
		}
	}

	got, err := q.Get(1)
	if err != nil {
		t.Fatalf("Get(1) error = %v", err)
	}
	if got != temp {
		t.Error("Get(1) returned a different command")
	}
}

func TestQueue_AddRejectsInvalid(t *testing.T) {
	q := NewQueue()

	if err := q.Add(nil); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Add(nil) error = %v, want ErrInvalidCommand", err)
	}
	if err := q.Add(NewNMRCommand("x", testSequence(), 0)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Add(repeats=0) error = %v, want ErrInvalidCommand", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_Delete(t *testing.T) {
	a := NewNMRCommand("a", testSequence(), 1)
	b := mustTemp(t, 10, 2)
	c := mustField(t, 0, 10)
	q := NewQueue(a, b, c)

	if err := q.Delete(1); err != nil {
		t.Fatalf("Delete(1) error = %v", err)
	}
	cmds := q.Commands()
	if len(cmds) != 2 || cmds[0] != a || cmds[1] != c {
		t.Errorf("after Delete(1) = %v, want [a c]", cmds)
	}

	for _, idx := range []int{-1, 2, 100} {
		if err := q.Delete(idx); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Delete(%d) error = %v, want ErrIndexOutOfRange", idx, err)
		}
	}
}

func TestQueue_GetOutOfRange(t *testing.T) {
	q := NewQueue()
	if _, err := q.Get(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Get(0) error = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := q.Type(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Type(-1) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestQueue_Edit(t *testing.T) {
	tests := []struct {
		name    string
		cmd     func(t *testing.T) Command
		field   EditField
		value   float64
		wantErr error
		check   func(t *testing.T, c Command)
	}{
		{
			name:  "nmr repeats",
			cmd:   func(*testing.T) Command { return NewNMRCommand("a", testSequence(), 1) },
			field: FieldRepeats,
			value: 8,
			check: func(t *testing.T, c Command) {
				if got := c.(*NMRCommand).Repeats(); got != 8 {
					t.Errorf("Repeats() = %d, want 8", got)
				}
			},
		},
		{
			name:    "nmr rate not applicable",
			cmd:     func(*testing.T) Command { return NewNMRCommand("a", testSequence(), 1) },
			field:   FieldRate,
			value:   5,
			wantErr: ErrFieldNotApplicable,
		},
		{
			name:    "nmr value not applicable",
			cmd:     func(*testing.T) Command { return NewNMRCommand("a", testSequence(), 1) },
			field:   FieldValue,
			value:   5,
			wantErr: ErrFieldNotApplicable,
		},
		{
			name:    "nmr zero repeats",
			cmd:     func(*testing.T) Command { return NewNMRCommand("a", testSequence(), 1) },
			field:   FieldRepeats,
			value:   0,
			wantErr: ErrInvalidValue,
		},
		{
			name:    "nmr fractional repeats",
			cmd:     func(*testing.T) Command { return NewNMRCommand("a", testSequence(), 1) },
			field:   FieldRepeats,
			value:   2.5,
			wantErr: ErrInvalidValue,
		},
		{
			name:    "ppms repeats not applicable",
			cmd:     func(t *testing.T) Command { return mustTemp(t, 250, 5) },
			field:   FieldRepeats,
			value:   3,
			wantErr: ErrFieldNotApplicable,
		},
		{
			name:  "field value",
			cmd:   func(t *testing.T) Command { return mustField(t, 0, 10) },
			field: FieldValue,
			value: -5000,
			check: func(t *testing.T, c Command) {
				if got := c.(*PPMSCommand).Value(); got != -5000 {
					t.Errorf("Value() = %v, want -5000", got)
				}
			},
		},
		{
			name:    "temperature value out of range",
			cmd:     func(t *testing.T) Command { return mustTemp(t, 250, 5) },
			field:   FieldValue,
			value:   401,
			wantErr: ErrOutOfRange,
			check: func(t *testing.T, c Command) {
				if got := c.(*PPMSCommand).Value(); got != 250 {
					t.Errorf("Value() = %v after rejected edit, want 250", got)
				}
			},
		},
		{
			name:    "field rate out of range",
			cmd:     func(t *testing.T) Command { return mustField(t, 0, 10) },
			field:   FieldRate,
			value:   501,
			wantErr: ErrOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cmd(t)
			q := NewQueue(c)
			err := q.Edit(0, tt.field, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Edit() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("Edit() error = %v", err)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestQueue_EditOutOfRangeIndex(t *testing.T) {
	q := NewQueue()
	if err := q.Edit(0, FieldRepeats, 2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Edit() error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestQueue_LockBlocksMutation(t *testing.T) {
	nmr := NewNMRCommand("a", testSequence(), 1)
	q := NewQueue(nmr)

	if !q.Lock() {
		t.Fatal("Lock() = false on idle queue")
	}
	if q.Lock() {
		t.Error("second Lock() = true, want false")
	}

	if err := q.Add(mustTemp(t, 10, 2)); !errors.Is(err, ErrQueueLocked) {
		t.Errorf("Add() error = %v, want ErrQueueLocked", err)
	}
	if err := q.Delete(0); !errors.Is(err, ErrQueueLocked) {
		t.Errorf("Delete() error = %v, want ErrQueueLocked", err)
	}
	if err := q.Edit(0, FieldRepeats, 5); !errors.Is(err, ErrQueueLocked) {
		t.Errorf("Edit() error = %v, want ErrQueueLocked", err)
	}
	if nmr.Repeats() != 1 {
		t.Errorf("Repeats() = %d after locked edit, want 1", nmr.Repeats())
	}

	// Reads still work.
	if _, err := q.Get(0); err != nil {
		t.Errorf("Get() error = %v while locked", err)
	}

	q.Unlock()
	if err := q.Edit(0, FieldRepeats, 5); err != nil {
		t.Errorf("Edit() after Unlock error = %v", err)
	}
}

func TestQueue_CommandsIsCopy(t *testing.T) {
	q := NewQueue(NewNMRCommand("a", testSequence(), 1))
	cmds := q.Commands()
	cmds[0] = nil

	if c, _ := q.Get(0); c == nil {
		t.Error("mutating Commands() result changed the queue")
	}
}
