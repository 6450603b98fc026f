package spectrometer

import (
	"fmt"

	"github.com/nerrad567/nmr-lab-core/internal/command"
)

// Register indices.
const (
	RegEnable    = 0
	RegFrequency = 1
	RegP1        = 2
	RegP2        = 3
	RegP3        = 4
	RegG1        = 5
	RegG2        = 6
	RegRec       = 7
	RegTrigger   = 8
	RegDecimate  = 9
	RegPhase     = 10

	// RegisterCount is the number of user registers on the device.
	RegisterCount = 16
)

// Phase register bit fields.
const (
	// TXPhaseMask selects the TX phase code in RegPhase.
	TXPhaseMask uint32 = 0x3

	// RXPhaseMask selects the RX phase code in RegPhase.
	RXPhaseMask uint32 = 0xC

	rxPhaseShift = 2
)

// Acquisition constants.
const (
	// DefaultSampleRateHz is the fixed digitizer sample clock.
	DefaultSampleRateHz = 800_000_000

	// DefaultRecordLength is the number of samples per channel per repeat.
	DefaultRecordLength = 65536
)

// ResetValues holds the register contents after power-up or reset.
var ResetValues = [RegisterCount]uint32{
	RegFrequency: 20_000_000,
	RegTrigger:   65537,
	RegDecimate:  1,
}

// RegisterWrite is one masked register write.
type RegisterWrite struct {
	Register int
	Value    uint32
	Mask     uint32
}

// EffectiveMask returns the bits a write touches: all of them for mask 0.
func (w RegisterWrite) EffectiveMask() uint32 {
	if w.Mask == 0 {
		return ^uint32(0)
	}
	return w.Mask
}

// Matches reports whether readBack holds the written bits.
func (w RegisterWrite) Matches(readBack uint32) bool {
	m := w.EffectiveMask()
	return readBack&m == w.Value&m
}

// ApplyMask returns the register contents after writing value with mask to
// a register holding current.
func ApplyMask(current, value, mask uint32) uint32 {
	if mask == 0 {
		return value
	}
	return (current &^ mask) | (value & mask)
}

// PhaseCode converts a phase in degrees to its two-bit register code.
func PhaseCode(deg int64) uint32 {
	return uint32(deg/90) & 0x3
}

// Program returns the register writes for a sequence, in the order they are
// applied. The sequence must be valid.
func Program(seq *command.Sequence) ([]RegisterWrite, error) {
	if !seq.Valid() {
		return nil, fmt.Errorf("programming registers: %w", seq.Err())
	}

	return []RegisterWrite{
		{Register: RegFrequency, Value: uint32(seq.Frequency)},
		{Register: RegP1, Value: uint32(seq.P1)},
		{Register: RegP2, Value: uint32(seq.P2)},
		{Register: RegP3, Value: uint32(seq.P3)},
		{Register: RegG1, Value: uint32(seq.G1)},
		{Register: RegG2, Value: uint32(seq.G2)},
		{Register: RegRec, Value: uint32(seq.Rec)},
		{Register: RegPhase, Value: PhaseCode(seq.TXPhase), Mask: TXPhaseMask},
		{Register: RegPhase, Value: PhaseCode(seq.RXPhase) << rxPhaseShift, Mask: RXPhaseMask},
	}, nil
}

// SplitBuffer splits a combined buffer into channel A (first half) and
// channel B (second half). The returned slices share buf's backing array.
func SplitBuffer(buf []int16) (a, b []int16, err error) {
	if len(buf) == 0 || len(buf)%2 != 0 {
		return nil, nil, fmt.Errorf("%w: %d samples", ErrBufferSize, len(buf))
	}
	n := len(buf) / 2
	return buf[:n:n], buf[n:], nil
}

func validRegister(reg int) error {
	if reg < 0 || reg >= RegisterCount {
		return fmt.Errorf("%w: %d", ErrInvalidRegister, reg)
	}
	return nil
}
