package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gotmc/prologix"
	"github.com/gotmc/prologix/driver/vcp"
)

var _ Instrument = (*GPIBInstrument)(nil)

// GPIBInstrument talks to the controller through a Prologix GPIB-USB
// adapter on a virtual COM port.
type GPIBInstrument struct {
	mu     sync.Mutex
	port   io.Closer
	ctrl   *prologix.Controller
	closed bool
}

// OpenGPIB opens the adapter on port and addresses the instrument at the
// given GPIB primary address. The instrument is sent a Selected Device
// Clear before use.
func OpenGPIB(port string, address int) (*GPIBInstrument, error) {
	v, err := vcp.NewVCP(port)
	if err != nil {
		return nil, fmt.Errorf("opening prologix port %s: %w", port, err)
	}

	g, err := newGPIBInstrument(v, address)
	if err != nil {
		v.Close()
		return nil, err
	}
	return g, nil
}

// newGPIBInstrument configures a controller on an open adapter link.
func newGPIBInstrument(link io.ReadWriteCloser, address int) (*GPIBInstrument, error) {
	ctrl, err := prologix.NewController(link, address, false)
	if err != nil {
		return nil, fmt.Errorf("creating prologix controller: %w", err)
	}
	if err := ctrl.ClearDevice(); err != nil {
		return nil, fmt.Errorf("clearing gpib device %d: %w", address, err)
	}
	return &GPIBInstrument{port: link, ctrl: ctrl}, nil
}

// Command implements Instrument.
func (g *GPIBInstrument) Command(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrInstrumentClosed
	}
	// cmd is sent verbatim, never used as a format string.
	if err := g.ctrl.Command("%s", cmd); err != nil {
		return fmt.Errorf("gpib command %q: %w", cmd, err)
	}
	return nil
}

// Query implements Instrument.
func (g *GPIBInstrument) Query(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return "", ErrInstrumentClosed
	}
	// The adapter reports EOF once the reply's terminator has been read.
	resp, err := g.ctrl.Query(cmd)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("gpib query %q: %w", cmd, err)
	}
	return strings.TrimSpace(resp), nil
}

// Close implements Instrument.
func (g *GPIBInstrument) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	return g.port.Close()
}
