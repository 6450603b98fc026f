package environment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// lineTerminator ends every command sent over RS-232.
const lineTerminator = "\r\n"

// SerialConfig holds RS-232 line settings.
type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

var _ Instrument = (*LineInstrument)(nil)

// LineInstrument speaks the controller's line-terminated text protocol over
// any byte stream.
type LineInstrument struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	closed bool
	// desynced is set once a reply went unread. A late reply would
	// otherwise answer the next query.
	desynced bool
}

// OpenSerial opens a direct RS-232 connection: 8 data bits, no parity,
// one stop bit.
func OpenSerial(cfg SerialConfig) (*LineInstrument, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.Port, err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flushing serial port %s: %w", cfg.Port, err)
	}
	return NewLineInstrument(port), nil
}

// NewLineInstrument wraps an open byte stream.
func NewLineInstrument(rw io.ReadWriteCloser) *LineInstrument {
	return &LineInstrument{rw: rw, reader: bufio.NewReader(rw)}
}

// Command implements Instrument.
func (l *LineInstrument) Command(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.send(cmd)
}

// Query implements Instrument.
func (l *LineInstrument) Query(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.send(cmd); err != nil {
		return "", err
	}
	line, err := l.reader.ReadString('\n')
	if err != nil {
		l.desynced = true
		_ = l.rw.Close()
		return "", fmt.Errorf("%w: reading reply to %q: %w", ErrInstrumentDesync, cmd, err)
	}
	return strings.TrimSpace(line), nil
}

func (l *LineInstrument) send(cmd string) error {
	if l.closed {
		return ErrInstrumentClosed
	}
	if l.desynced {
		return ErrInstrumentDesync
	}
	if _, err := io.WriteString(l.rw, cmd+lineTerminator); err != nil {
		return fmt.Errorf("writing %q: %w", cmd, err)
	}
	return nil
}

// Close implements Instrument.
func (l *LineInstrument) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.desynced {
		return nil
	}
	return l.rw.Close()
}
