package spectrometer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/command"
	"github.com/nerrad567/nmr-lab-core/internal/output"
)

// fakeDevice records every call and returns a buffer whose samples equal
// the number of successful reads so far.
type fakeDevice struct {
	mu    sync.Mutex
	regs  [RegisterCount]uint32
	calls []string
	armed bool
	reads int

	failReads    int // fail this many buffer reads first
	corruptReg   int // register whose read-back is wrong; -1 for none
	closed       bool
	doubleArmErr bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{corruptReg: -1}
}

func (d *fakeDevice) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) WriteRegister(_ context.Context, reg int, value, mask uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("write %d=%d/%#x", reg, value, mask)
	d.regs[reg] = ApplyMask(d.regs[reg], value, mask)
	if reg == d.corruptReg {
		return d.regs[reg] ^ 1, nil
	}
	return d.regs[reg], nil
}

func (d *fakeDevice) ReadRegister(_ context.Context, reg int) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[reg], nil
}

func (d *fakeDevice) ArmTrigger(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("arm")
	if d.armed {
		d.doubleArmErr = true
		return ErrAlreadyArmed
	}
	d.armed = true
	return nil
}

func (d *fakeDevice) DisarmTrigger(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("disarm")
	d.armed = false
	return nil
}

func (d *fakeDevice) ReadBuffer(_ context.Context, samples int) ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("read %d", samples)
	if d.failReads > 0 {
		d.failReads--
		return nil, errors.New("dma timeout")
	}
	d.reads++
	buf := make([]int16, 2*samples)
	for i := range samples {
		buf[i] = int16(d.reads)
		buf[samples+i] = int16(-d.reads)
	}
	return buf, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func testSequence() *command.Sequence {
	return command.NewSequence("T1", command.SequenceParams{
		Frequency: 1000, TXPhase: 90, RXPhase: 180,
		P1: 10, G1: 20, P2: 30, G2: 40, P3: 50, Rec: 60,
	})
}

func startEngine(t *testing.T, dev Device, cfg Config) *Engine {
	t.Helper()
	if cfg.RecordLength == 0 {
		cfg.RecordLength = 8
	}
	e := NewEngine(dev, cfg)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

// collect reads events until EventFinished.
func collect(t *testing.T, e *Engine) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				t.Fatal("event channel closed before finished")
			}
			got = append(got, ev)
			if ev.Type == EventFinished {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out; events so far: %d", len(got))
		}
	}
}

func ofType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestEngine_RunsAllRepeats(t *testing.T) {
	dev := newFakeDevice()
	e := startEngine(t, dev, Config{})

	run, err := output.Create(t.TempDir(), "S")
	if err != nil {
		t.Fatal(err)
	}

	cmd := command.NewNMRCommand("/seqs/T1.seq", testSequence(), 3)
	if err := e.Submit(context.Background(), Request{Index: 4, Command: cmd, Run: run}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collect(t, e)
	data := ofType(events, EventRepeatData)
	if len(data) != 3 {
		t.Fatalf("got %d data events, want 3", len(data))
	}
	for i, ev := range data {
		if ev.Index != 4 || ev.Repeat != i+1 || ev.Repeats != 3 {
			t.Errorf("event %d = index %d repeat %d/%d", i, ev.Index, ev.Repeat, ev.Repeats)
		}
		if len(ev.A) != 8 || len(ev.B) != 8 {
			t.Fatalf("channel lengths = %d, %d", len(ev.A), len(ev.B))
		}
		if ev.A[0] != int16(i+1) || ev.B[0] != int16(-(i+1)) {
			t.Errorf("repeat %d channels = %d, %d", i+1, ev.A[0], ev.B[0])
		}
		if _, err := os.Stat(ev.Path); err != nil {
			t.Errorf("raw artifact missing: %v", err)
		}
	}

	if len(ofType(events, EventRepeatStarted)) != 3 {
		t.Error("want one started event per repeat")
	}
	last := events[len(events)-1]
	if last.Aborted {
		t.Error("finished event marked aborted")
	}

	stats := e.Stats()
	if stats.CommandsRun != 1 || stats.RepeatsAcquired != 3 || stats.RepeatsFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEngine_ProtocolOrder(t *testing.T) {
	dev := newFakeDevice()
	e := startEngine(t, dev, Config{RecordLength: 4})

	cmd := command.NewNMRCommand("", testSequence(), 1)
	if err := e.Submit(context.Background(), Request{Command: cmd}); err != nil {
		t.Fatal(err)
	}
	collect(t, e)

	want := []string{
		"write 1=1000/0x0",
		"write 2=10/0x0",
		"write 3=30/0x0",
		"write 4=50/0x0",
		"write 5=20/0x0",
		"write 6=40/0x0",
		"write 7=60/0x0",
		"write 10=1/0x3",
		"write 10=8/0xc",
		"disarm",
		"arm",
		"write 0=1/0x0",
		"write 0=0/0x0",
		"read 4",
		"disarm",
	}
	got := dev.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls =\n%v\nwant\n%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEngine_NeverArmsTwice(t *testing.T) {
	dev := newFakeDevice()
	e := startEngine(t, dev, Config{})

	for i := range 2 {
		cmd := command.NewNMRCommand("", testSequence(), 3)
		if err := e.Submit(context.Background(), Request{Index: i, Command: cmd}); err != nil {
			t.Fatal(err)
		}
		collect(t, e)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.doubleArmErr {
		t.Error("trigger armed twice without disarm")
	}
}

func TestEngine_ReadFailureContinues(t *testing.T) {
	dev := newFakeDevice()
	dev.failReads = 1
	e := startEngine(t, dev, Config{MaxAttempts: 1})

	cmd := command.NewNMRCommand("", testSequence(), 2)
	if err := e.Submit(context.Background(), Request{Command: cmd}); err != nil {
		t.Fatal(err)
	}
	events := collect(t, e)

	failed := ofType(events, EventRepeatFailed)
	if len(failed) != 1 || failed[0].Repeat != 1 || failed[0].Err == nil {
		t.Fatalf("failed events = %+v", failed)
	}
	data := ofType(events, EventRepeatData)
	if len(data) != 1 || data[0].Repeat != 2 {
		t.Fatalf("data events = %+v", data)
	}
	if events[len(events)-1].Aborted {
		t.Error("device failure must not abort the command")
	}
	if s := e.Stats(); s.RepeatsFailed != 1 || s.RepeatsAcquired != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestEngine_RetryWithinRepeat(t *testing.T) {
	dev := newFakeDevice()
	dev.failReads = 1
	e := startEngine(t, dev, Config{MaxAttempts: 2})

	cmd := command.NewNMRCommand("", testSequence(), 1)
	if err := e.Submit(context.Background(), Request{Command: cmd}); err != nil {
		t.Fatal(err)
	}
	events := collect(t, e)

	if len(ofType(events, EventRepeatFailed)) != 0 {
		t.Error("second attempt should have succeeded")
	}
	data := ofType(events, EventRepeatData)
	if len(data) != 1 || data[0].Repeat != 1 {
		t.Fatalf("data events = %+v", data)
	}
}

func TestEngine_ReadBackMismatch(t *testing.T) {
	dev := newFakeDevice()
	dev.corruptReg = RegP2
	e := startEngine(t, dev, Config{})

	cmd := command.NewNMRCommand("", testSequence(), 2)
	if err := e.Submit(context.Background(), Request{Command: cmd}); err != nil {
		t.Fatal(err)
	}
	events := collect(t, e)

	failed := ofType(events, EventRepeatFailed)
	if len(failed) != 2 {
		t.Fatalf("got %d failed repeats, want 2", len(failed))
	}
	if !errors.Is(failed[0].Err, ErrReadBackMismatch) {
		t.Errorf("error = %v, want ErrReadBackMismatch", failed[0].Err)
	}
	if e.Stats().ReadBackErrors != 2 {
		t.Errorf("ReadBackErrors = %d, want 2", e.Stats().ReadBackErrors)
	}

	for _, call := range dev.snapshot() {
		if call == "arm" {
			t.Fatal("trigger armed despite programming failure")
		}
	}
}

func TestEngine_AbortAtRepeatBoundary(t *testing.T) {
	dev := newFakeDevice()
	e := startEngine(t, dev, Config{Settle: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := command.NewNMRCommand("", testSequence(), 10)
	if err := e.Submit(ctx, Request{Command: cmd}); err != nil {
		t.Fatal(err)
	}

	var events []Event
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case ev := <-e.Events():
			events = append(events, ev)
			if ev.Type == EventRepeatData && ev.Repeat == 1 {
				cancel()
			}
			if ev.Type == EventFinished {
				break loop
			}
		case <-timeout:
			t.Fatal("timed out")
		}
	}

	if !events[len(events)-1].Aborted {
		t.Error("finished event not marked aborted")
	}
	if n := len(ofType(events, EventRepeatData)); n != 1 {
		t.Errorf("got %d repeats after abort, want 1", n)
	}

	// The engine stays usable for the next command.
	next := command.NewNMRCommand("", testSequence(), 1)
	if err := e.Submit(context.Background(), Request{Index: 1, Command: next}); err != nil {
		t.Fatalf("Submit() after abort error = %v", err)
	}
	if evs := collect(t, e); len(ofType(evs, EventRepeatData)) != 1 {
		t.Error("engine did not run the next command")
	}
}

func TestEngine_Shutdown(t *testing.T) {
	dev := newFakeDevice()
	e := NewEngine(dev, Config{RecordLength: 4})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	e.Shutdown()
	e.Shutdown()

	if !dev.isClosed() {
		t.Error("device not released on shutdown")
	}
	if _, ok := <-e.Events(); ok {
		t.Error("event channel still open after shutdown")
	}

	cmd := command.NewNMRCommand("", testSequence(), 1)
	if err := e.Submit(context.Background(), Request{Command: cmd}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Submit() after Shutdown error = %v, want ErrEngineClosed", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Start() after Shutdown error = %v, want ErrEngineClosed", err)
	}
}

func TestEngine_ShutdownBeforeStart(t *testing.T) {
	dev := newFakeDevice()
	e := NewEngine(dev, Config{})
	e.Shutdown()
	if !dev.isClosed() {
		t.Error("device not released")
	}
}

func TestEngine_SubmitErrors(t *testing.T) {
	dev := newFakeDevice()
	e := NewEngine(dev, Config{})
	valid := command.NewNMRCommand("", testSequence(), 1)

	if err := e.Submit(context.Background(), Request{Command: valid}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Submit() before Start error = %v, want ErrNotStarted", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	tests := []struct {
		name string
		cmd  *command.NMRCommand
	}{
		{"nil command", nil},
		{"zero repeats", command.NewNMRCommand("", testSequence(), 0)},
		{"invalid sequence", command.NewNMRCommand("", command.NewSequence("x", command.SequenceParams{RXPhase: 1}), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Submit(context.Background(), Request{Command: tt.cmd}); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Submit() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestEngine_WithSimulatedDevice(t *testing.T) {
	dev := NewSimulatedDevice(0, 7)
	e := startEngine(t, dev, Config{RecordLength: 256})

	cmd := command.NewNMRCommand("", testSequence(), 2)
	if err := e.Submit(context.Background(), Request{Command: cmd}); err != nil {
		t.Fatal(err)
	}
	events := collect(t, e)
	if n := len(ofType(events, EventRepeatData)); n != 2 {
		t.Fatalf("got %d repeats, want 2", n)
	}
	if dev.Armed() {
		t.Error("trigger left armed after the command")
	}
}

func TestEngine_Window(t *testing.T) {
	e := NewEngine(newFakeDevice(), Config{MinWindow: time.Millisecond})

	short := command.NewSequence("s", command.SequenceParams{Rec: 500})
	if got := e.window(short); got != time.Millisecond {
		t.Errorf("window(rec=500ns) = %v, want 1ms", got)
	}
	long := command.NewSequence("l", command.SequenceParams{Rec: 5_000_000})
	if got := e.window(long); got != 5*time.Millisecond {
		t.Errorf("window(rec=5ms) = %v, want 5ms", got)
	}
}

func TestEventType_String(t *testing.T) {
	if EventRepeatData.String() != "repeat_data" || EventType(99).String() != "event(99)" {
		t.Error("unexpected event type names")
	}
}
