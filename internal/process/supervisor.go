package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the supervisor's view of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay    = 2 * time.Second
	defaultGracefulTimeout = 5 * time.Second
	defaultReadyTimeout    = 10 * time.Second
	defaultReadyInterval   = 100 * time.Millisecond

	// maxLineLength bounds one logged output line; longer lines are split.
	maxLineLength = 4096
)

// Config describes the supervised daemon.
type Config struct {
	// Name identifies the daemon in logs.
	Name string

	// Binary is the executable path.
	Binary string

	// Args are passed to Binary.
	Args []string

	// Env is appended to the parent environment.
	Env []string

	// RestartOnFailure restarts the daemon after an unexpected exit.
	RestartOnFailure bool

	// RestartDelay is the pause before each restart. Default: 2 seconds.
	RestartDelay time.Duration

	// MaxRestarts bounds restarts over the supervisor's life. 0 is unlimited.
	MaxRestarts int

	// GracefulTimeout is the wait between SIGTERM and SIGKILL. Default: 5 seconds.
	GracefulTimeout time.Duration

	// Ready reports whether the daemon accepts clients. Start polls it every
	// ReadyInterval until it succeeds. nil means ready once spawned.
	Ready func(ctx context.Context) error

	// ReadyTimeout bounds the wait for Ready. Default: 10 seconds.
	ReadyTimeout time.Duration

	// ReadyInterval is the probe period. Default: 100ms.
	ReadyInterval time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs one daemon.
//
// Thread Safety: all methods are safe for concurrent use.
type Supervisor struct {
	cfg Config

	mu       sync.RWMutex
	logger   Logger
	cmd      *exec.Cmd
	status   Status
	restarts int
	lastErr  error
	stopping bool
	started  time.Time
	done     chan struct{}
}

// New validates cfg and applies defaults.
//
// Returns:
//   - *Supervisor: Stopped supervisor
//   - error: ErrNoBinary if cfg.Binary is empty
func New(cfg Config) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, ErrNoBinary
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = defaultReadyInterval
	}
	return &Supervisor{cfg: cfg, logger: noopLogger{}, status: StatusStopped}, nil
}

// SetLogger sets the logger for this supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

func (s *Supervisor) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Start spawns the daemon and blocks until the readiness probe passes.
// Cancelling ctx kills the daemon and stops restarts.
//
// Returns:
//   - error: ErrAlreadyRunning, a spawn error, or ErrNotReady (the daemon
//     is stopped before returning)
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopping = false
	s.lastErr = nil
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	if err := s.spawn(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		close(done)
		s.mu.Unlock()
		return err
	}
	go s.monitor(ctx, done)

	if err := s.waitReady(ctx, done); err != nil {
		_ = s.Stop()
		return fmt.Errorf("%w: %s: %w", ErrNotReady, s.cfg.Name, err)
	}
	s.log().Info("daemon ready", "name", s.cfg.Name, "pid", s.PID())
	return nil
}

// spawn starts one instance of the daemon.
func (s *Supervisor) spawn(ctx context.Context) error {
	logger := s.log()

	cmd := exec.CommandContext(ctx, s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = &lineLogger{logger: logger, name: s.cfg.Name, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: logger, name: s.cfg.Name, stream: "stderr"}
	cmd.WaitDelay = s.cfg.GracefulTimeout
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	logger.Info("daemon started", "name", s.cfg.Name, "binary", s.cfg.Binary, "pid", cmd.Process.Pid)
	return nil
}

// monitor waits for each instance to exit and restarts it when allowed.
// done is closed when supervision ends.
func (s *Supervisor) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := cmd.Wait()

		s.mu.Lock()
		if s.stopping {
			s.status = StatusStopped
			s.mu.Unlock()
			s.log().Info("daemon stopped", "name", s.cfg.Name)
			return
		}
		s.status = StatusFailed
		s.lastErr = err
		restarts := s.restarts
		s.mu.Unlock()

		logger := s.log()
		logger.Warn("daemon exited unexpectedly", "name", s.cfg.Name, "error", err)

		switch {
		case !s.cfg.RestartOnFailure:
			return
		case ctx.Err() != nil:
			return
		case s.cfg.MaxRestarts > 0 && restarts >= s.cfg.MaxRestarts:
			logger.Error("daemon restart limit reached", "name", s.cfg.Name, "restarts", restarts)
			return
		}

		logger.Info("restarting daemon", "name", s.cfg.Name, "attempt", restarts+1, "delay", s.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDelay):
		}

		s.mu.Lock()
		if s.stopping {
			s.status = StatusStopped
			s.mu.Unlock()
			return
		}
		s.restarts++
		s.mu.Unlock()

		if err := s.spawn(ctx); err != nil {
			logger.Error("daemon restart failed", "name", s.cfg.Name, "error", err)
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			return
		}
	}
}

// waitReady polls the probe until it succeeds, the timeout elapses or
// supervision ends.
func (s *Supervisor) waitReady(ctx context.Context, done <-chan struct{}) error {
	if s.cfg.Ready == nil {
		return nil
	}

	deadline := time.NewTimer(s.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.ReadyInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyInterval*10)
		lastErr = s.cfg.Ready(probeCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			if err := s.LastError(); err != nil {
				return fmt.Errorf("exited: %w", err)
			}
			return errors.New("exited")
		case <-deadline.C:
			return fmt.Errorf("timed out after %v: %w", s.cfg.ReadyTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Stop terminates the daemon and ends supervision. Safe to call when not
// running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.stopping = true
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.log().Info("stopping daemon", "name", s.cfg.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.log().Warn("SIGTERM failed", "name", s.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.log().Warn("daemon ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
	}
	<-done
	return nil
}

// Done is closed when supervision ends: after Stop, or when the daemon
// exits and will not be restarted. nil before the first Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError returns the most recent exit or restart error.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// PID returns the current instance's process ID, or 0.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd != nil && s.cmd.Process != nil && s.status == StatusRunning {
		return s.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Name: s.cfg.Name, Status: s.status, Restarts: s.restarts}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
		stats.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	return stats
}

// lineLogger logs daemon output one line at a time at debug level.
type lineLogger struct {
	logger Logger
	name   string
	stream string
	buf    []byte
}

// Write implements io.Writer. exec calls it from a single goroutine per
// stream.
func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLineLength {
		w.emit(w.buf[:maxLineLength])
		w.buf = w.buf[maxLineLength:]
	}
	return len(p), nil
}

func (w *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Debug("daemon output", "name", w.name, "stream", w.stream, "line", string(line))
}
