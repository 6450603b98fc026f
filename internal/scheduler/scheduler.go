package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/nmr-lab-core/internal/command"
	"github.com/nerrad567/nmr-lab-core/internal/environment"
	"github.com/nerrad567/nmr-lab-core/internal/output"
	"github.com/nerrad567/nmr-lab-core/internal/spectrometer"
)

// Code is a run's terminal status.
type Code int

// Terminal codes. Negative codes mean the run never dispatched a command
// or stopped early.
const (
	CodeCompleted         Code = 0
	CodeNoCommands        Code = -1
	CodeNoOutputDirectory Code = -2
	CodeAborted           Code = -3
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeCompleted:
		return "completed"
	case CodeNoCommands:
		return "no_commands"
	case CodeNoOutputDirectory:
		return "no_output_directory"
	case CodeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Completion is delivered exactly once per Start, except a Start refused
// with ErrAlreadyRunning or ErrQueueLocked.
type Completion struct {
	Code Code

	// LastIndex is the last command dispatched, or -1 when none was.
	LastIndex int

	RunID string
	Dir   string

	// Err explains CodeAborted runs that stopped for a reason other than
	// Abort, and carries the cause of start-up failures.
	Err error
}

// State is the scheduler's position in its state machine.
type State int

// Scheduler states.
const (
	StateIdle State = iota
	StateDispatching
	StateRunning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Spectrometer is the scheduler's view of the spectrometer engine.
type Spectrometer interface {
	Submit(ctx context.Context, req spectrometer.Request) error
	Events() <-chan spectrometer.Event
}

// Environment is the scheduler's view of the environment engine.
type Environment interface {
	Submit(ctx context.Context, req environment.Request) error
	Poll(req environment.PollRequest) error
	Events() <-chan environment.Event
}

// RepeatTelemetry receives a summary of every NMR repeat.
type RepeatTelemetry interface {
	WriteRepeat(sequence string, index, repeat int, rmsA, rmsB float64, at time.Time)
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

// Config holds the run's output settings.
type Config struct {
	// BaseDir is where the run directory is created.
	BaseDir string

	// Sample names the run directory and is recorded in the info file.
	Sample *command.Sample
}

// activeRun is the state of one Start, owned by the run goroutine.
type activeRun struct {
	id       string
	run      *output.Run
	commands []command.Command
	acc      Accumulator
}

// Scheduler runs a command queue across the two engines.
//
// Thread Safety: all methods are safe for concurrent use. Run state is
// owned by a single goroutine per Start.
type Scheduler struct {
	queue *command.Queue
	spec  Spectrometer
	env   Environment

	listeners listenerSet

	mu        sync.Mutex
	cfg       Config
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	result    Completion
	logger    Logger
	telemetry RepeatTelemetry

	// now is replaced in tests.
	now func() time.Time
}

// New creates a scheduler over queue. Both engines must already be started.
func New(queue *command.Queue, spec Spectrometer, env Environment, cfg Config) *Scheduler {
	return &Scheduler{
		queue:  queue,
		spec:   spec,
		env:    env,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for this scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// SetTelemetry sets an optional sink for repeat summaries.
func (s *Scheduler) SetTelemetry(t RepeatTelemetry) {
	s.mu.Lock()
	s.telemetry = t
	s.mu.Unlock()
}

// SetConfig replaces the output settings used by the next Start.
func (s *Scheduler) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// AddListener registers a listener for all future events.
func (s *Scheduler) AddListener(l Listener) {
	s.listeners.add(l)
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) log() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// Start begins a run and returns once the run directory and info file are
// written; commands then execute on a background goroutine. Cancelling ctx
// aborts the run like Abort.
//
// Configuration problems are reported both as the returned error and as a
// Completion delivered to listeners, and leave the engines untouched:
//
//	ErrNoCommands         -> CodeNoCommands
//	ErrNoOutputDirectory  -> CodeNoOutputDirectory
//
// Returns:
//   - error: The sentinels above, ErrAlreadyRunning or ErrQueueLocked
func (s *Scheduler) Start(ctx context.Context) error {
	// The run context exists before anything else so that an Abort racing
	// with Start is never lost.
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	prevDone, prevResult := s.done, s.result
	s.state = StateDispatching
	s.done = make(chan struct{})
	s.result = Completion{}
	s.cancel = cancel
	cfg := s.cfg
	s.mu.Unlock()

	if s.queue == nil || s.queue.Len() == 0 {
		s.complete(Completion{Code: CodeNoCommands, LastIndex: -1}, false)
		return ErrNoCommands
	}
	if cfg.BaseDir == "" || cfg.Sample == nil || !cfg.Sample.ValidName() {
		s.complete(Completion{Code: CodeNoOutputDirectory, LastIndex: -1}, false)
		return ErrNoOutputDirectory
	}

	// Another owner holds the queue: nothing ran, so Wait keeps reporting
	// the previous run.
	if !s.queue.Lock() {
		s.mu.Lock()
		s.state = StateIdle
		s.done, s.result = prevDone, prevResult
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		return ErrQueueLocked
	}

	r, err := s.prepare(cfg)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNoOutputDirectory, err)
		s.complete(Completion{Code: CodeNoOutputDirectory, LastIndex: -1, Err: err}, true)
		return err
	}

	s.log().Info("run started", "run_id", r.id, "dir", r.run.Dir, "commands", len(r.commands))
	go s.run(runCtx, r)
	return nil
}

// prepare creates the run directory and writes the info file.
func (s *Scheduler) prepare(cfg Config) (*activeRun, error) {
	run, err := output.Create(cfg.BaseDir, cfg.Sample.Name)
	if err != nil {
		return nil, err
	}

	r := &activeRun{
		id:       uuid.NewString(),
		run:      run,
		commands: s.queue.Commands(),
	}
	info := output.Info{
		RunID:    r.id,
		Start:    s.now(),
		Sample:   cfg.Sample,
		Commands: s.queue.Records(),
	}
	if err := run.WriteInfo(info); err != nil {
		return nil, err
	}
	return r, nil
}

// Abort stops the run at the next repeat or poll boundary. The run then
// completes with CodeAborted. An Abort that lands while Start is still
// writing the run directory stops the run before its first command.
// No-op when idle.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current or most recent run completes.
//
// Returns:
//   - Completion: The run's terminal status
//   - error: ErrNotRunning if Start was never called, or ctx's error
func (s *Scheduler) Wait(ctx context.Context) (Completion, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return Completion{}, ErrNotRunning
	}

	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// complete delivers the terminal status, returns to Idle and releases the
// queue when this run held it.
func (s *Scheduler) complete(c Completion, unlockQueue bool) {
	if unlockQueue {
		s.queue.Unlock()
	}

	s.log().Info("run complete",
		"code", c.Code.String(),
		"last_index", c.LastIndex,
		"run_id", c.RunID,
		"error", c.Err,
	)
	s.listeners.Complete(c)

	s.mu.Lock()
	s.result = c
	s.state = StateIdle
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	close(s.done)
	s.mu.Unlock()
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// run dispatches every command in order, waiting for each to finish before
// the next is sent.
func (s *Scheduler) run(ctx context.Context, r *activeRun) {
	result := Completion{Code: CodeCompleted, LastIndex: -1, RunID: r.id, Dir: r.run.Dir}

	for i, cmd := range r.commands {
		if ctx.Err() != nil {
			result.Code = CodeAborted
			break
		}

		s.setState(StateDispatching)
		s.listeners.ActiveIndex(i, cmd)

		if err := s.dispatch(ctx, r, i, cmd); err != nil {
			s.log().Error("dispatch failed", "index", i, "kind", cmd.Kind().String(), "error", err)
			result.Code = CodeAborted
			result.Err = err
			break
		}
		result.LastIndex = i
		s.setState(StateRunning)

		aborted, err := s.await(r, i, cmd)
		r.acc.Reset()
		if err != nil {
			result.Code = CodeAborted
			result.Err = err
			break
		}
		if aborted {
			result.Code = CodeAborted
			break
		}
	}

	s.complete(result, true)
}

// dispatch hands one command to its owning engine.
func (s *Scheduler) dispatch(ctx context.Context, r *activeRun, index int, cmd command.Command) error {
	switch c := cmd.(type) {
	case *command.NMRCommand:
		s.log().Info("dispatching NMR command", "index", index, "sequence", c.SequenceName(), "repeats", c.Repeats())
		return s.spec.Submit(ctx, spectrometer.Request{Index: index, Command: c, Run: r.run})
	case *command.PPMSCommand:
		s.log().Info("dispatching set-point", "index", index, "variable", c.Variable().String(), "value", c.Value(), "rate", c.Rate())
		return s.env.Submit(ctx, environment.Request{Index: index, Command: c, Run: r.run})
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedCommand, cmd)
	}
}

// await consumes both engines' events until the active command finishes.
// Condition samples from the environment engine are forwarded whichever
// engine owns the active command.
func (s *Scheduler) await(r *activeRun, index int, cmd command.Command) (aborted bool, err error) {
	specEvents := s.spec.Events()
	envEvents := s.env.Events()
	nmr := cmd.Kind() == command.KindNMR

	for {
		select {
		case ev, ok := <-specEvents:
			if !ok {
				specEvents = nil
				if nmr {
					return false, fmt.Errorf("%w: spectrometer", ErrEngineStopped)
				}
				continue
			}
			if ev.Index != index || !nmr {
				s.log().Debug("ignoring stale spectrometer event", "index", ev.Index, "type", ev.Type.String())
				continue
			}
			if done, aborted := s.handleSpectrometer(r, cmd.(*command.NMRCommand), ev); done {
				return aborted, nil
			}

		case ev, ok := <-envEvents:
			if !ok {
				envEvents = nil
				if !nmr {
					return false, fmt.Errorf("%w: environment", ErrEngineStopped)
				}
				continue
			}
			if done, aborted := s.handleEnvironment(r, index, nmr, ev); done {
				return aborted, nil
			}
		}
	}
}

func (s *Scheduler) handleSpectrometer(r *activeRun, cmd *command.NMRCommand, ev spectrometer.Event) (done, aborted bool) {
	switch ev.Type {
	case spectrometer.EventRepeatStarted:
		s.log().Debug("repeat started", "index", ev.Index, "repeat", ev.Repeat, "repeats", ev.Repeats)
	case spectrometer.EventRepeatData:
		s.onRepeat(r, cmd, ev)
	case spectrometer.EventRepeatFailed:
		s.log().Warn("repeat failed", "index", ev.Index, "repeat", ev.Repeat, "error", ev.Err)
	case spectrometer.EventFinished:
		s.log().Info("NMR command finished", "index", ev.Index, "averaged", r.acc.Count(), "aborted", ev.Aborted)
		return true, ev.Aborted
	}
	return false, false
}

// onRepeat folds one repeat into the running average, persists it, tells
// listeners and requests a condition sample.
func (s *Scheduler) onRepeat(r *activeRun, cmd *command.NMRCommand, ev spectrometer.Event) {
	seqName := cmd.SequenceName()
	logger := s.log()

	if err := r.acc.Add(ev.A, ev.B); err != nil {
		logger.Error("discarding repeat", "index", ev.Index, "repeat", ev.Repeat, "error", err)
		return
	}
	avgA, avgB := r.acc.Average()

	avgPath, err := r.run.WriteAverage(seqName, ev.Index, r.acc.Count(), avgA, avgB)
	if err != nil {
		logger.Error("writing average", "index", ev.Index, "repeat", ev.Repeat, "error", err)
	}

	s.listeners.Repeat(RepeatData{
		RunID:       r.id,
		Index:       ev.Index,
		Sequence:    seqName,
		Repeat:      ev.Repeat,
		Repeats:     ev.Repeats,
		Count:       r.acc.Count(),
		A:           ev.A,
		B:           ev.B,
		AverageA:    avgA,
		AverageB:    avgB,
		RawPath:     ev.Path,
		AveragePath: avgPath,
	})

	s.mu.Lock()
	telemetry := s.telemetry
	s.mu.Unlock()
	if telemetry != nil {
		telemetry.WriteRepeat(seqName, ev.Index, ev.Repeat, RMS(ev.A), RMS(ev.B), s.now())
	}

	if err := s.env.Poll(environment.PollRequest{Tag: seqName, Run: r.run}); err != nil {
		logger.Warn("condition poll not queued", "sequence", seqName, "error", err)
	}
}

func (s *Scheduler) handleEnvironment(r *activeRun, index int, nmr bool, ev environment.Event) (done, aborted bool) {
	switch ev.Type {
	case environment.EventConditions:
		s.listeners.Conditions(Conditions{
			RunID:       r.id,
			Tag:         ev.Tag,
			Temperature: ev.Temperature,
			Field:       ev.Field,
			At:          ev.At,
		})
	case environment.EventProgress:
		s.log().Debug("set-point progress", "index", ev.Index, "value", ev.Value, "substatus", ev.Substatus)
	case environment.EventFinished:
		if nmr || ev.Index != index {
			s.log().Debug("ignoring stale set-point event", "index", ev.Index)
			return false, false
		}
		switch {
		case ev.Aborted:
			s.log().Info("set-point aborted", "index", ev.Index)
		case ev.Err != nil:
			logSetpointError(s.log(), ev)
		default:
			s.log().Info("set-point reached", "index", ev.Index)
		}
		return true, ev.Aborted
	}
	return false, false
}

// logSetpointError reports a set-point that ended without stabilising. The
// run continues with the next command.
func logSetpointError(logger Logger, ev environment.Event) {
	if errors.Is(ev.Err, environment.ErrSetpointTimeout) {
		logger.Warn("set-point not reached before timeout, continuing", "index", ev.Index)
		return
	}
	logger.Error("set-point failed, continuing", "index", ev.Index, "error", ev.Err)
}
