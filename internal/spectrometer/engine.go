package spectrometer

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

// eventBufferSize is the capacity of the outbound event channel.
const eventBufferSize = 16

// Config holds engine settings.
type Config struct {
	// RecordLength is the number of samples per channel per repeat.
	// Default: DefaultRecordLength.
	RecordLength int

	// MinWindow is the shortest enable hold. The hold is the sequence's
	// rec time, raised to MinWindow when shorter.
	MinWindow time.Duration

	// Settle is the wait between repeats.
	Settle time.Duration

	// MaxAttempts bounds acquisition attempts per repeat. Default: 1.
	MaxAttempts int
}

// Request asks the engine to run one NMR command.
type Request struct {
	// Index is the command's position in the queue.
	Index int

	// Command is the command to run. It must be valid.
	Command *command.NMRCommand

	// Run receives raw per-repeat artifacts. Nil disables persistence.
	Run *output.Run
}

// EventType identifies an engine event.
type EventType int

// Engine event types.
const (
	// EventRepeatStarted is emitted before each repeat.
	EventRepeatStarted EventType = iota

	// EventRepeatData carries one repeat's channels.
	EventRepeatData

	// EventRepeatFailed is emitted when every attempt at a repeat failed.
	EventRepeatFailed

	// EventFinished is emitted once per command after the last repeat.
	EventFinished
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventRepeatStarted:
		return "repeat_started"
	case EventRepeatData:
		return "repeat_data"
	case EventRepeatFailed:
		return "repeat_failed"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted by the engine goroutine.
type Event struct {
	Type    EventType
	Index   int
	Repeat  int
	Repeats int

	// A and B hold the repeat's channels (EventRepeatData only).
	A []int16
	B []int16

	// Path is the raw artifact path, empty when not persisted.
	Path string

	// Err is the last attempt's error (EventRepeatFailed only).
	Err error

	// Aborted is set on EventFinished when the command stopped early.
	Aborted bool
}

// Stats holds engine counters.
type Stats struct {
	CommandsRun     uint64
	RepeatsAcquired uint64
	RepeatsFailed   uint64
	RegisterWrites  uint64
	ReadBackErrors  uint64
}

type envelope struct {
	ctx context.Context //nolint:containedctx // scopes one queued command
	req Request
}

// Engine runs NMR commands against a Device on one long-lived goroutine.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	dev Device
	cfg Config

	inbox  chan envelope
	events chan Event

	// Lifecycle
	started     atomic.Bool
	quit        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics
	commandsRun     atomic.Uint64
	repeatsAcquired atomic.Uint64
	repeatsFailed   atomic.Uint64
	registerWrites  atomic.Uint64
	readBackErrors  atomic.Uint64
}

// NewEngine creates an engine that owns dev. The device is closed when the
// engine shuts down.
func NewEngine(dev Device, cfg Config) *Engine {
	if cfg.RecordLength <= 0 {
		cfg.RecordLength = DefaultRecordLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Engine{
		dev:    dev,
		cfg:    cfg,
		inbox:  make(chan envelope, 1),
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
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) log() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// Start launches the engine goroutine. It runs until Shutdown is called or
// ctx is cancelled.
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

// Submit queues a command for the engine goroutine and returns immediately.
//
// ctx scopes the command, not the call: when it is cancelled the engine
// stops at the next repeat boundary and emits EventFinished with Aborted
// set. A repeat in progress always completes.
//
// Returns:
//   - error: nil once queued, or:
//   - ErrInvalidRequest if the command is missing or invalid
//   - ErrNotStarted before Start
//   - ErrEngineClosed after Shutdown
//   - ErrEngineBusy if a command is already waiting
func (e *Engine) Submit(ctx context.Context, req Request) error {
	if req.Command == nil || !req.Command.Valid() {
		return ErrInvalidRequest
	}
	if !e.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-e.quit:
		return ErrEngineClosed
	case <-e.done:
		return ErrEngineClosed
	default:
	}

	select {
	case e.inbox <- envelope{ctx: ctx, req: req}:
		return nil
	default:
		return ErrEngineBusy
	}
}

// Shutdown stops the engine at the next repeat boundary, closes the device
// and waits for the goroutine to exit. It is safe to call more than once and
// before Start.
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
		CommandsRun:     e.commandsRun.Load(),
		RepeatsAcquired: e.repeatsAcquired.Load(),
		RepeatsFailed:   e.repeatsFailed.Load(),
		RegisterWrites:  e.registerWrites.Load(),
		ReadBackErrors:  e.readBackErrors.Load(),
	}
}

func (e *Engine) release() {
	e.releaseOnce.Do(func() {
		if err := e.dev.Close(); err != nil {
			e.log().Error("closing spectrometer device", "error", err)
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

	e.log().Info("spectrometer engine started", "record_length", e.cfg.RecordLength)

	for {
		select {
		case <-ctx.Done():
			e.log().Info("spectrometer engine stopped")
			return
		case env := <-e.inbox:
			e.runCommand(ctx, env)
		}
	}
}

// runCommand executes every repeat of one command. Device calls use the
// engine context so an abort never interrupts a repeat midway; the command
// context is only checked between repeats.
func (e *Engine) runCommand(ctx context.Context, env envelope) {
	req := env.req
	cmd := req.Command
	seqName := cmd.SequenceName()
	repeats := cmd.Repeats()

	reqCtx := env.ctx
	if reqCtx == nil {
		reqCtx = context.Background()
	}
	cmdCtx, cancel := context.WithCancel(reqCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	e.commandsRun.Add(1)

	writes, err := Program(cmd.Sequence)
	if err != nil {
		e.log().Error("invalid sequence", "sequence", seqName, "error", err)
		e.emit(ctx, Event{Type: EventFinished, Index: req.Index, Repeats: repeats, Aborted: true})
		return
	}
	hold := e.window(cmd.Sequence)

	e.log().Info("acquisition started",
		"index", req.Index,
		"sequence", seqName,
		"repeats", repeats,
		"hold", hold,
	)

	aborted := false
	for repeat := 1; repeat <= repeats; repeat++ {
		if cmdCtx.Err() != nil {
			aborted = true
			break
		}

		if !e.emit(ctx, Event{Type: EventRepeatStarted, Index: req.Index, Repeat: repeat, Repeats: repeats}) {
			return
		}

		a, b, err := e.acquireWithRetry(ctx, writes, hold, seqName, repeat)
		if err != nil {
			e.repeatsFailed.Add(1)
			e.log().Error("repeat failed",
				"sequence", seqName,
				"repeat", repeat,
				"attempts", e.cfg.MaxAttempts,
				"error", err,
			)
			if !e.emit(ctx, Event{Type: EventRepeatFailed, Index: req.Index, Repeat: repeat, Repeats: repeats, Err: err}) {
				return
			}
		} else {
			e.repeatsAcquired.Add(1)
			path := e.persist(req, seqName, repeat, a, b)
			ev := Event{
				Type:    EventRepeatData,
				Index:   req.Index,
				Repeat:  repeat,
				Repeats: repeats,
				A:       a,
				B:       b,
				Path:    path,
			}
			if !e.emit(ctx, ev) {
				return
			}
		}

		if repeat < repeats && !sleepContext(cmdCtx, e.cfg.Settle) {
			aborted = true
			break
		}
	}

	e.log().Info("acquisition finished", "index", req.Index, "sequence", seqName, "aborted", aborted)
	e.emit(ctx, Event{Type: EventFinished, Index: req.Index, Repeats: repeats, Aborted: aborted})
}

func (e *Engine) acquireWithRetry(ctx context.Context, writes []RegisterWrite, hold time.Duration, seqName string, repeat int) (a, b []int16, err error) {
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		a, b, err = e.acquire(ctx, writes, hold)
		if err == nil {
			return a, b, nil
		}
		if ctx.Err() != nil {
			return nil, nil, err
		}
		e.log().Warn("acquisition attempt failed",
			"sequence", seqName,
			"repeat", repeat,
			"attempt", attempt,
			"error", err,
		)
	}
	return nil, nil, err
}

// acquire runs one pass of the per-repeat protocol.
func (e *Engine) acquire(ctx context.Context, writes []RegisterWrite, hold time.Duration) ([]int16, []int16, error) {
	for _, w := range writes {
		if err := e.writeChecked(ctx, w); err != nil {
			return nil, nil, err
		}
	}

	if err := e.dev.DisarmTrigger(ctx); err != nil {
		return nil, nil, fmt.Errorf("disarming trigger: %w", err)
	}
	if err := e.dev.ArmTrigger(ctx); err != nil {
		return nil, nil, fmt.Errorf("arming trigger: %w", err)
	}

	if err := e.writeChecked(ctx, RegisterWrite{Register: RegEnable, Value: 1}); err != nil {
		e.disarm(ctx)
		return nil, nil, err
	}
	holdErr := holdFor(ctx, hold)
	if err := e.writeChecked(ctx, RegisterWrite{Register: RegEnable, Value: 0}); err != nil {
		e.disarm(ctx)
		return nil, nil, err
	}
	if holdErr != nil {
		e.disarm(ctx)
		return nil, nil, holdErr
	}

	buf, err := e.dev.ReadBuffer(ctx, e.cfg.RecordLength)
	e.disarm(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading buffer: %w", err)
	}
	if len(buf) != 2*e.cfg.RecordLength {
		return nil, nil, fmt.Errorf("%w: got %d samples, want %d", ErrBufferSize, len(buf), 2*e.cfg.RecordLength)
	}
	return SplitBuffer(buf)
}

func (e *Engine) writeChecked(ctx context.Context, w RegisterWrite) error {
	e.registerWrites.Add(1)
	readBack, err := e.dev.WriteRegister(ctx, w.Register, w.Value, w.Mask)
	if err != nil {
		e.log().Warn("register write failed", "register", w.Register, "error", err)
		return fmt.Errorf("writing register %d: %w", w.Register, err)
	}
	if !w.Matches(readBack) {
		e.readBackErrors.Add(1)
		e.log().Warn("register read-back mismatch",
			"register", w.Register,
			"value", w.Value,
			"mask", w.Mask,
			"read_back", readBack,
		)
		return fmt.Errorf("%w: register %d wrote %#x read %#x", ErrReadBackMismatch, w.Register, w.Value, readBack)
	}
	return nil
}

func (e *Engine) disarm(ctx context.Context) {
	if err := e.dev.DisarmTrigger(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.log().Warn("disarming trigger", "error", err)
	}
}

func (e *Engine) persist(req Request, seqName string, repeat int, a, b []int16) string {
	if req.Run == nil {
		return ""
	}
	path, err := req.Run.WriteRepeat(seqName, req.Index, repeat, a, b)
	if err != nil {
		e.log().Error("persisting repeat", "sequence", seqName, "repeat", repeat, "error", err)
		return ""
	}
	return path
}

// window returns the enable hold for a sequence.
func (e *Engine) window(seq *command.Sequence) time.Duration {
	hold := time.Duration(seq.Rec) * time.Nanosecond
	if hold < e.cfg.MinWindow {
		hold = e.cfg.MinWindow
	}
	return hold
}

// emit delivers an event unless the engine is stopping.
func (e *Engine) emit(ctx context.Context, ev Event) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// holdFor waits for d. Only engine shutdown cuts it short.
func holdFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquisition window: %w", ctx.Err())
	}
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
