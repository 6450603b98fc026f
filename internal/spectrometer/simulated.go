package spectrometer

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// Simulated signal parameters.
const (
	simAmplitude = 8000.0
	simNoise     = 150.0

	// simDefaultDecay is the echo decay constant when rec is 0.
	simDefaultDecay = 20e-6

	// simMaxOffsetHz bounds the synthetic offset frequency so the signal
	// stays well sampled.
	simMaxOffsetHz = 25_000_000
)

var _ Device = (*SimulatedDevice)(nil)

// SimulatedDevice is an in-memory digitizer. It keeps a register file with
// the real mask semantics and produces a damped quadrature echo whose
// frequency, phase and decay follow the programmed registers.
//
// An acquisition is captured when the enable register goes to 1 while the
// trigger is armed; ReadBuffer returns the capture.
type SimulatedDevice struct {
	mu         sync.Mutex
	regs       [RegisterCount]uint32
	armed      bool
	captured   bool
	closed     bool
	sampleRate float64
	rng        *rand.Rand
}

// NewSimulatedDevice creates a simulated digitizer with reset register
// values. The noise generator is seeded so output is reproducible.
func NewSimulatedDevice(sampleRateHz int, seed uint64) *SimulatedDevice {
	if sampleRateHz <= 0 {
		sampleRateHz = DefaultSampleRateHz
	}
	return &SimulatedDevice{
		regs:       ResetValues,
		sampleRate: float64(sampleRateHz),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// WriteRegister implements Device.
func (d *SimulatedDevice) WriteRegister(ctx context.Context, reg int, value, mask uint32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validRegister(reg); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrDeviceClosed
	}

	prev := d.regs[reg]
	d.regs[reg] = ApplyMask(prev, value, mask)

	if reg == RegEnable && prev == 0 && d.regs[reg] == 1 && d.armed {
		d.captured = true
	}
	return d.regs[reg], nil
}

// ReadRegister implements Device.
func (d *SimulatedDevice) ReadRegister(ctx context.Context, reg int) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validRegister(reg); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrDeviceClosed
	}
	return d.regs[reg], nil
}

// ArmTrigger implements Device.
func (d *SimulatedDevice) ArmTrigger(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if d.armed {
		return ErrAlreadyArmed
	}
	d.armed = true
	d.captured = false
	return nil
}

// DisarmTrigger implements Device.
func (d *SimulatedDevice) DisarmTrigger(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	d.armed = false
	return nil
}

// ReadBuffer implements Device.
func (d *SimulatedDevice) ReadBuffer(ctx context.Context, samples int) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if samples <= 0 {
		return nil, fmt.Errorf("%w: %d samples requested", ErrBufferSize, samples)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDeviceClosed
	}
	if !d.captured {
		return nil, ErrNotTriggered
	}

	offset := float64(d.regs[RegFrequency] % simMaxOffsetHz)
	phase := float64((d.regs[RegPhase]&RXPhaseMask)>>rxPhaseShift) * math.Pi / 2
	decay := simDefaultDecay
	if rec := d.regs[RegRec]; rec > 0 {
		decay = float64(rec) * 1e-9 / 3
	}

	buf := make([]int16, 2*samples)
	for i := range samples {
		t := float64(i) / d.sampleRate
		env := simAmplitude * math.Exp(-t/decay)
		arg := 2*math.Pi*offset*t + phase
		buf[i] = clampInt16(env*math.Cos(arg) + d.rng.NormFloat64()*simNoise)
		buf[samples+i] = clampInt16(env*math.Sin(arg) + d.rng.NormFloat64()*simNoise)
	}
	return buf, nil
}

// Close implements Device.
func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.armed = false
	return nil
}

// Armed reports the trigger state.
func (d *SimulatedDevice) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func clampInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}
