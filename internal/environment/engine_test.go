package environment

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/command"
	"github.com/nerrad567/nmr-lab-core/internal/output"
)

// fakeInstrument reports ramping until stableAfter status queries have been
// answered, then stable.
type fakeInstrument struct {
	mu          sync.Mutex
	commands    []string
	queries     []string
	statusPolls int
	stableAfter int
	temperature float64
	field       float64
	commandErr  error
	queryErr    error
	closed      bool
}

func newFakeInstrument(stableAfter int) *fakeInstrument {
	return &fakeInstrument{stableAfter: stableAfter, temperature: 300}
}

func (f *fakeInstrument) Command(_ context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.commandErr
}

func (f *fakeInstrument) Query(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, cmd)
	if f.queryErr != nil {
		return "", f.queryErr
	}
	switch cmd {
	case QueryStatus:
		f.statusPolls++
		st := Status{Temperature: SimStatusRamping, Field: SimStatusRamping, Chamber: 1, Position: 1}
		if f.stableAfter >= 0 && f.statusPolls >= f.stableAfter {
			st.Temperature = StatusStable
			st.Field = StatusStable
		}
		return FormatReading(maskStatus, 0, float64(st.Encode())), nil
	case QueryTemperature:
		return FormatReading(maskTemperature, 0, f.temperature), nil
	case QueryField:
		return FormatReading(maskField, 0, f.field), nil
	}
	return "", ErrUnknownCommand
}

func (f *fakeInstrument) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeInstrument) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeInstrument) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordingTelemetry captures condition samples.
type recordingTelemetry struct {
	mu   sync.Mutex
	tags []string
}

func (r *recordingTelemetry) WriteConditions(tag string, _, _ float64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
}

func (r *recordingTelemetry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tags)
}

func startEngine(t *testing.T, inst Instrument, cfg Config) *Engine {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	e := NewEngine(inst, cfg)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func nextEvent(t *testing.T, e *Engine) Event {
	t.Helper()
	select {
	case ev, ok := <-e.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// collectUntilFinished reads events until EventFinished.
func collectUntilFinished(t *testing.T, e *Engine) []Event {
	t.Helper()
	var got []Event
	for {
		ev := nextEvent(t, e)
		got = append(got, ev)
		if ev.Type == EventFinished {
			return got
		}
	}
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func tempCommand(t *testing.T, value, rate float64) *command.PPMSCommand {
	t.Helper()
	c, err := command.NewTemperatureCommand(value, rate)
	if err != nil {
		t.Fatalf("NewTemperatureCommand() error = %v", err)
	}
	return c
}

func newRun(t *testing.T) *output.Run {
	t.Helper()
	run, err := output.Create(t.TempDir(), "YBCO")
	if err != nil {
		t.Fatalf("output.Create() error = %v", err)
	}
	return run
}

func TestEngine_SetpointCompletes(t *testing.T) {
	inst := newFakeInstrument(3)
	e := startEngine(t, inst, Config{})
	run := newRun(t)

	err := e.Submit(context.Background(), Request{Index: 2, Command: tempCommand(t, 250, 5), Run: run})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collectUntilFinished(t, e)
	finished := events[len(events)-1]
	if finished.Aborted || finished.Err != nil {
		t.Fatalf("finished = %+v, want clean completion", finished)
	}
	if finished.Index != 2 {
		t.Errorf("finished.Index = %d, want 2", finished.Index)
	}
	if got := countType(events, EventProgress); got != 3 {
		t.Errorf("progress events = %d, want 3", got)
	}
	last := events[len(events)-2]
	if last.Substatus != StatusStable || last.Value != 300 {
		t.Errorf("last progress = %+v, want stable at 300", last)
	}

	if cmds := inst.sentCommands(); len(cmds) != 1 || cmds[0] != "TEMP 250 5 0" {
		t.Errorf("commands = %v, want one TEMP command", cmds)
	}

	data, err := os.ReadFile(run.SetpointPath(2))
	if err != nil {
		t.Fatalf("reading set-point log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("set-point log has %d lines, want 3", len(lines))
	}
	if !strings.HasSuffix(lines[0], ",300,2") || !strings.HasSuffix(lines[2], ",300,1") {
		t.Errorf("set-point log = %q", lines)
	}

	if got := e.Stats().SetpointsRun; got != 1 {
		t.Errorf("SetpointsRun = %d, want 1", got)
	}
}

func TestEngine_FieldUsesFieldSubstate(t *testing.T) {
	inst := newFakeInstrument(1)
	inst.field = -500
	e := startEngine(t, inst, Config{})

	cmd, err := command.NewFieldCommand(-500, 50)
	if err != nil {
		t.Fatalf("NewFieldCommand() error = %v", err)
	}
	if err := e.Submit(context.Background(), Request{Command: cmd}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collectUntilFinished(t, e)
	if events[0].Variable != command.Field || events[0].Value != -500 {
		t.Errorf("progress = %+v, want field reading", events[0])
	}
	if cmds := inst.sentCommands(); cmds[0] != "FIELD -500 50 0" {
		t.Errorf("command = %q", cmds[0])
	}
}

func TestEngine_PollWhileIdle(t *testing.T) {
	inst := newFakeInstrument(0)
	inst.field = 1000
	tel := &recordingTelemetry{}
	e := startEngine(t, inst, Config{})
	e.SetTelemetry(tel)
	run := newRun(t)

	if err := e.Poll(PollRequest{Tag: "T1", Run: run}); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	ev := nextEvent(t, e)
	if ev.Type != EventConditions || ev.Tag != "T1" {
		t.Fatalf("event = %+v, want conditions for T1", ev)
	}
	if ev.Temperature != 300 || ev.Field != 1000 {
		t.Errorf("conditions = %v K / %v Oe", ev.Temperature, ev.Field)
	}

	data, err := os.ReadFile(run.ConditionsPath("T1"))
	if err != nil {
		t.Fatalf("reading conditions log: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(data)), ",300,1000") {
		t.Errorf("conditions log = %q", data)
	}
	if tel.count() != 1 {
		t.Errorf("telemetry samples = %d, want 1", tel.count())
	}
	if got := e.Stats().PollsServed; got != 1 {
		t.Errorf("PollsServed = %d, want 1", got)
	}
}

func TestEngine_PollServedDuringSetpoint(t *testing.T) {
	inst := newFakeInstrument(-1)
	e := startEngine(t, inst, Config{PollInterval: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Submit(ctx, Request{Command: tempCommand(t, 10, 2)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ev := nextEvent(t, e); ev.Type != EventProgress {
		t.Fatalf("first event = %v, want progress", ev.Type)
	}

	if err := e.Poll(PollRequest{Tag: "CPMG"}); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	for {
		ev := nextEvent(t, e)
		if ev.Type == EventConditions {
			if ev.Tag != "CPMG" {
				t.Errorf("conditions tag = %q, want CPMG", ev.Tag)
			}
			break
		}
		if ev.Type == EventFinished {
			t.Fatal("set-point finished before the poll was served")
		}
	}

	cancel()
	events := collectUntilFinished(t, e)
	if finished := events[len(events)-1]; !finished.Aborted {
		t.Errorf("finished = %+v, want aborted", finished)
	}
}

func TestEngine_AbortStopsWaiting(t *testing.T) {
	inst := newFakeInstrument(-1)
	e := startEngine(t, inst, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Submit(ctx, Request{Command: tempCommand(t, 250, 5)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	nextEvent(t, e)
	cancel()

	events := collectUntilFinished(t, e)
	finished := events[len(events)-1]
	if !finished.Aborted {
		t.Errorf("finished.Aborted = false, want true")
	}
	if finished.Err != nil {
		t.Errorf("finished.Err = %v, want nil", finished.Err)
	}
}

func TestEngine_SetpointTimeout(t *testing.T) {
	inst := newFakeInstrument(-1)
	e := startEngine(t, inst, Config{SetpointTimeout: 30 * time.Millisecond})

	if err := e.Submit(context.Background(), Request{Command: tempCommand(t, 250, 5)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collectUntilFinished(t, e)
	finished := events[len(events)-1]
	if !errors.Is(finished.Err, ErrSetpointTimeout) {
		t.Errorf("finished.Err = %v, want ErrSetpointTimeout", finished.Err)
	}
	if finished.Aborted {
		t.Error("finished.Aborted = true, want false")
	}
}

func TestEngine_CommandFailure(t *testing.T) {
	inst := newFakeInstrument(0)
	inst.commandErr = errors.New("bus error")
	e := startEngine(t, inst, Config{})

	if err := e.Submit(context.Background(), Request{Command: tempCommand(t, 250, 5)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collectUntilFinished(t, e)
	if len(events) != 1 {
		t.Errorf("events = %d, want only EventFinished", len(events))
	}
	if events[0].Err == nil {
		t.Error("finished.Err = nil, want the command error")
	}
}

func TestEngine_QueryErrorsKeepPolling(t *testing.T) {
	inst := newFakeInstrument(0)
	inst.queryErr = errors.New("no reply")
	e := startEngine(t, inst, Config{SetpointTimeout: 40 * time.Millisecond})

	if err := e.Submit(context.Background(), Request{Command: tempCommand(t, 250, 5)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collectUntilFinished(t, e)
	if got := countType(events, EventProgress); got != 0 {
		t.Errorf("progress events = %d, want 0", got)
	}
	if !errors.Is(events[len(events)-1].Err, ErrSetpointTimeout) {
		t.Errorf("finished.Err = %v, want ErrSetpointTimeout", events[len(events)-1].Err)
	}
	if e.Stats().QueryErrors < 2 {
		t.Errorf("QueryErrors = %d, want at least 2", e.Stats().QueryErrors)
	}
}

func TestEngine_Shutdown(t *testing.T) {
	inst := newFakeInstrument(-1)
	e := NewEngine(inst, Config{PollInterval: time.Millisecond})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Submit(context.Background(), Request{Command: tempCommand(t, 250, 5)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	e.Shutdown()
	e.Shutdown()

	for range e.Events() {
	}
	if !inst.isClosed() {
		t.Error("instrument not closed after Shutdown")
	}
	if err := e.Poll(PollRequest{}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Poll() after Shutdown error = %v, want ErrEngineClosed", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Start() after Shutdown error = %v, want ErrEngineClosed", err)
	}
}

func TestEngine_ShutdownBeforeStart(t *testing.T) {
	inst := newFakeInstrument(0)
	e := NewEngine(inst, Config{})
	e.Shutdown()

	if !inst.isClosed() {
		t.Error("instrument not closed after Shutdown before Start")
	}
}

func TestEngine_SubmitErrors(t *testing.T) {
	e := NewEngine(newFakeInstrument(0), Config{})
	t.Cleanup(e.Shutdown)

	if err := e.Submit(context.Background(), Request{Command: tempCommand(t, 250, 5)}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Submit() before Start error = %v, want ErrNotStarted", err)
	}
	if err := e.Poll(PollRequest{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Poll() before Start error = %v, want ErrNotStarted", err)
	}
	if err := e.Submit(context.Background(), Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Submit(nil command) error = %v, want ErrInvalidRequest", err)
	}
	if err := e.Submit(context.Background(), Request{Command: &command.PPMSCommand{}}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Submit(zero command) error = %v, want ErrInvalidRequest", err)
	}
}

func TestEngine_WithSimulatedPPMS(t *testing.T) {
	sim := NewSimulatedPPMS(1000)
	e := startEngine(t, sim, Config{PollInterval: 10 * time.Millisecond})

	if err := e.Submit(context.Background(), Request{Command: tempCommand(t, 290, 10)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := collectUntilFinished(t, e)
	finished := events[len(events)-1]
	if finished.Err != nil || finished.Aborted {
		t.Fatalf("finished = %+v", finished)
	}
	last := events[len(events)-2]
	if last.Value != 290 || last.Substatus != StatusStable {
		t.Errorf("last progress = %+v, want stable at 290", last)
	}
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EventProgress, "progress"},
		{EventConditions, "conditions"},
		{EventFinished, "finished"},
		{EventType(9), "event(9)"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.typ), got, tt.want)
		}
	}
}
