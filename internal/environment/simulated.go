package environment

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/command"
)

// Simulated sub-states reported while a quantity is moving.
const (
	SimStatusRamping  = 2
	SimStatusChamber  = 1
	SimStatusPosition = 1
)

// Simulated power-up conditions.
const (
	simInitialTemperature = 300.0
	simInitialField       = 0.0
)

var _ Instrument = (*SimulatedPPMS)(nil)

type ramp struct {
	from   float64
	target float64
	rate   float64
	since  time.Time
}

func (r ramp) value(elapsed float64) float64 {
	step := r.rate * elapsed
	diff := r.target - r.from
	if math.Abs(diff) <= step {
		return r.target
	}
	return r.from + math.Copysign(step, diff)
}

// SimulatedPPMS is an in-memory controller that understands the TEMP,
// FIELD and GetDat? text protocol. Quantities ramp linearly toward their
// set-point at the commanded rate and report stable once reached.
type SimulatedPPMS struct {
	mu      sync.Mutex
	now     func() time.Time
	start   time.Time
	speedup float64
	temp    ramp
	field   ramp
	closed  bool
}

// NewSimulatedPPMS creates a simulated controller at 300 K and 0 Oe.
// speedup scales elapsed time; 1 is real time.
func NewSimulatedPPMS(speedup float64) *SimulatedPPMS {
	if speedup <= 0 {
		speedup = 1
	}
	now := time.Now()
	return &SimulatedPPMS{
		now:     time.Now,
		start:   now,
		speedup: speedup,
		temp:    ramp{from: simInitialTemperature, target: simInitialTemperature, since: now},
		field:   ramp{from: simInitialField, target: simInitialField, since: now},
	}
}

func (s *SimulatedPPMS) elapsed(since time.Time) float64 {
	return s.now().Sub(since).Seconds() * s.speedup
}

func (s *SimulatedPPMS) current(r ramp) float64 {
	return r.value(s.elapsed(r.since))
}

// Command implements Instrument.
func (s *SimulatedPPMS) Command(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fields := strings.Fields(cmd)
	if len(fields) != 4 {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnknownCommand, cmd, err)
	}
	rate, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || rate <= 0 {
		return fmt.Errorf("%w: %q: bad rate", ErrUnknownCommand, cmd)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrInstrumentClosed
	}

	now := s.now()
	switch strings.ToUpper(fields[0]) {
	case "TEMP":
		if !command.TemperatureRange.Contains(value) {
			return fmt.Errorf("%w: temperature %v out of range", ErrUnknownCommand, value)
		}
		s.temp = ramp{from: s.current(s.temp), target: value, rate: rate, since: now}
	case "FIELD":
		if !command.FieldRange.Contains(value) {
			return fmt.Errorf("%w: field %v out of range", ErrUnknownCommand, value)
		}
		s.field = ramp{from: s.current(s.field), target: value, rate: rate, since: now}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return nil
}

// Query implements Instrument.
func (s *SimulatedPPMS) Query(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrInstrumentClosed
	}

	ts := s.now().Sub(s.start).Seconds()
	switch strings.Join(strings.Fields(cmd), " ") {
	case QueryStatus:
		return FormatReading(maskStatus, ts, float64(s.status().Encode())), nil
	case QueryTemperature:
		return FormatReading(maskTemperature, ts, s.current(s.temp)), nil
	case QueryField:
		return FormatReading(maskField, ts, s.current(s.field)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

func (s *SimulatedPPMS) status() Status {
	st := Status{
		Temperature: StatusStable,
		Field:       StatusStable,
		Chamber:     SimStatusChamber,
		Position:    SimStatusPosition,
	}
	if s.current(s.temp) != s.temp.target {
		st.Temperature = SimStatusRamping
	}
	if s.current(s.field) != s.field.target {
		st.Field = SimStatusRamping
	}
	return st
}

// Close implements Instrument.
func (s *SimulatedPPMS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
