package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/command"
	"github.com/nerrad567/nmr-lab-core/internal/output"
)

// Engine queue sizes.
const (
	eventBufferSize = 16
	pollQueueSize   = 4
)

// defaultPollInterval is used when Config.PollInterval is unset.
const defaultPollInterval = 2 * time.Second

// Config holds engine settings.
type Config struct {
	// PollInterval is the fixed delay between status polls.
	PollInterval time.Duration

	// SetpointTimeout bounds the wait for stability. 0 waits indefinitely.
	SetpointTimeout time.Duration
}

// Telemetry receives condition samples.
type Telemetry interface {
	WriteConditions(tag string, temperature, field float64, at time.Time)
}

// Request asks the engine to reach a set-point.
type Request struct {
	// Index is the command's position in the queue.
	Index int

	// Command is the set-point command.
	Command *command.PPMSCommand

	// Run receives the set-point progress log. Nil disables it.
	Run *output.Run
}

// PollRequest asks the engine to sample current conditions.
type PollRequest struct {
	// Tag labels the sample, usually the active sequence name.
	Tag string

	// Run receives the condition log. Nil disables it.
	Run *output.Run
}

// EventType identifies an engine event.
type EventType int

// Engine event types.
const (
	// EventProgress is emitted after every status poll of a set-point.
	EventProgress EventType = iota

	// EventConditions carries one condition sample.
	EventConditions

	// EventFinished is emitted once per set-point request.
	EventFinished
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventConditions:
		return "conditions"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted by the engine goroutine.
type Event struct {
	Type  EventType
	Index int

	// Set-point progress.
	Variable  command.Variable
	Value     float64
	Status    Status
	Substatus uint8

	// Condition samples.
	Tag         string
	Temperature float64
	Field       float64

	At time.Time

	// Aborted is set on EventFinished when the wait was cancelled.
	Aborted bool

	// Err is set on EventFinished when the set-point failed.
	Err error
}

// Stats holds engine counters.
type Stats struct {
	SetpointsRun uint64
	PollsServed  uint64
	QueryErrors  uint64
}

type envelope struct {
	ctx context.Context //nolint:containedctx // scopes one queued command
	req Request
}

// Engine runs set-point commands and condition polls against an Instrument
// on one long-lived goroutine.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	inst Instrument
	cfg  Config

	inbox  chan envelope
	polls  chan PollRequest
	events chan Event

	// Lifecycle
	started     atomic.Bool
	quit        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once

	// Logger and telemetry (optional)
	logger    Logger
	telemetry Telemetry
	mu        sync.RWMutex

	// Statistics
	setpointsRun atomic.Uint64
	pollsServed  atomic.Uint64
	queryErrors  atomic.Uint64
}

// NewEngine creates an engine that owns inst. The instrument is closed when
// the engine shuts down.
func NewEngine(inst Instrument, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Engine{
		inst:   inst,
		cfg:    cfg,
		inbox:  make(chan envelope, 1),
		polls:  make(chan PollRequest, pollQueueSize),
		events: make(chan Event, eventBufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for this engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
}

// SetTelemetry sets an optional sink for condition samples.
func (e *Engine) SetTelemetry(t Telemetry) {
	e.mu.Lock()
	e.telemetry = t
	e.mu.Unlock()
}

func (e *Engine) log() Logger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logger
}

// Start launches the engine goroutine.
func (e *Engine) Start(ctx context.Context) error {
	select {
	case <-e.quit:
		return ErrEngineClosed
	default:
	}
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	go e.loop(ctx)
	return nil
}

// Events returns the outbound event channel. It is closed when the engine
// goroutine exits.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Submit queues a set-point request and returns immediately. Cancelling
// ctx ends the stability wait at the next poll boundary.
func (e *Engine) Submit(ctx context.Context, req Request) error {
	if req.Command == nil || !req.Command.Valid() {
		return ErrInvalidRequest
	}
	if err := e.accepting(); err != nil {
		return err
	}

	select {
	case e.inbox <- envelope{ctx: ctx, req: req}:
		return nil
	default:
		return ErrEngineBusy
	}
}

// Poll queues a condition sample and returns immediately. Samples are
// served between set-point polls as well as when idle.
func (e *Engine) Poll(req PollRequest) error {
	if err := e.accepting(); err != nil {
		return err
	}

	select {
	case e.polls <- req:
		return nil
	default:
		return ErrEngineBusy
	}
}

func (e *Engine) accepting() error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-e.quit:
		return ErrEngineClosed
	case <-e.done:
		return ErrEngineClosed
	default:
		return nil
	}
}

// Shutdown stops the engine at the next poll boundary, closes the
// instrument and waits for the goroutine to exit. Safe to call more than
// once and before Start.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.quit) })
	if e.started.Load() {
		<-e.done
		return
	}
	e.release()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		SetpointsRun: e.setpointsRun.Load(),
		PollsServed:  e.pollsServed.Load(),
		QueryErrors:  e.queryErrors.Load(),
	}
}

func (e *Engine) release() {
	e.releaseOnce.Do(func() {
		if err := e.inst.Close(); err != nil {
			e.log().Error("closing environment instrument", "error", err)
		}
	})
}

func (e *Engine) loop(parent context.Context) {
	defer close(e.done)
	defer close(e.events)
	defer e.release()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-e.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	e.log().Info("environment engine started", "poll_interval", e.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			e.log().Info("environment engine stopped")
			return
		case env := <-e.inbox:
			e.runSetpoint(ctx, env)
		case p := <-e.polls:
			e.poll(ctx, p)
		}
	}
}

// runSetpoint writes the set-point and polls until the relevant sub-state
// is stable.
func (e *Engine) runSetpoint(ctx context.Context, env envelope) {
	req := env.req
	cmd := req.Command
	variable := cmd.Variable()

	reqCtx := env.ctx
	if reqCtx == nil {
		reqCtx = context.Background()
	}
	cmdCtx, cancel := context.WithCancel(reqCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var timeout <-chan time.Time
	if e.cfg.SetpointTimeout > 0 {
		timer := time.NewTimer(e.cfg.SetpointTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	e.setpointsRun.Add(1)
	finished := Event{Type: EventFinished, Index: req.Index, Variable: variable}

	text := SetpointCommand(cmd)
	if err := e.inst.Command(ctx, text); err != nil {
		e.log().Error("set-point command failed", "command", text, "error", err)
		finished.Err = err
		finished.At = time.Now()
		e.emit(ctx, finished)
		return
	}
	e.log().Info("set-point sent", "index", req.Index, "command", text)

	for {
		if e.checkSetpoint(ctx, req, variable) {
			break
		}

		err := e.wait(ctx, cmdCtx, timeout)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrSetpointTimeout) {
			e.log().Warn("set-point timed out", "index", req.Index, "timeout", e.cfg.SetpointTimeout)
			finished.Err = err
		} else {
			e.log().Info("set-point wait aborted", "index", req.Index)
			finished.Aborted = true
		}
		break
	}

	finished.At = time.Now()
	e.emit(ctx, finished)
}

// checkSetpoint polls status once, logs progress and reports stability.
func (e *Engine) checkSetpoint(ctx context.Context, req Request, variable command.Variable) bool {
	resp, err := e.inst.Query(ctx, QueryStatus)
	if err != nil {
		e.queryFailed(QueryStatus, err)
		return false
	}
	st, err := ParseStatus(resp)
	if err != nil {
		e.queryFailed(QueryStatus, err)
		return false
	}
	value, err := e.read(ctx, variable)
	if err != nil {
		e.queryFailed(ReadingQuery(variable), err)
		return false
	}

	at := time.Now()
	sub := st.For(variable)
	if req.Run != nil {
		if err := req.Run.AppendSetpoint(req.Index, at, value, int(sub)); err != nil {
			e.log().Error("logging set-point progress", "error", err)
		}
	}

	e.log().Debug("set-point status", "index", req.Index, "value", value, "status", st.String())
	e.emit(ctx, Event{
		Type:      EventProgress,
		Index:     req.Index,
		Variable:  variable,
		Value:     value,
		Status:    st,
		Substatus: sub,
		At:        at,
	})
	return sub == StatusStable
}

// wait sleeps one poll interval, serving condition polls meanwhile.
func (e *Engine) wait(ctx, cmdCtx context.Context, timeout <-chan time.Time) error {
	timer := time.NewTimer(e.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return nil
		case p := <-e.polls:
			e.poll(ctx, p)
		case <-timeout:
			return ErrSetpointTimeout
		case <-cmdCtx.Done():
			return cmdCtx.Err()
		}
	}
}

// poll samples temperature and field without touching instrument state.
func (e *Engine) poll(ctx context.Context, p PollRequest) {
	at := time.Now()
	temperature, terr := e.read(ctx, command.Temperature)
	field, ferr := e.read(ctx, command.Field)
	if err := errors.Join(terr, ferr); err != nil {
		e.queryFailed("conditions", err)
		return
	}
	e.pollsServed.Add(1)

	if p.Run != nil {
		if err := p.Run.AppendConditions(p.Tag, at, temperature, field); err != nil {
			e.log().Error("logging conditions", "tag", p.Tag, "error", err)
		}
	}

	e.mu.RLock()
	telemetry := e.telemetry
	e.mu.RUnlock()
	if telemetry != nil {
		telemetry.WriteConditions(p.Tag, temperature, field, at)
	}

	e.emit(ctx, Event{
		Type:        EventConditions,
		Tag:         p.Tag,
		Temperature: temperature,
		Field:       field,
		At:          at,
	})
}

func (e *Engine) read(ctx context.Context, v command.Variable) (float64, error) {
	resp, err := e.inst.Query(ctx, ReadingQuery(v))
	if err != nil {
		return 0, err
	}
	return ParseReading(resp)
}

func (e *Engine) queryFailed(query string, err error) {
	e.queryErrors.Add(1)
	e.log().Warn("instrument query failed", "query", query, "error", err)
}

func (e *Engine) emit(ctx context.Context, ev Event) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
