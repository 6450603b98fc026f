package command

import (
	"fmt"
	"strconv"
)

// Kind identifies the runtime type of a command and the engine that owns it.
type Kind int

// Command kinds.
const (
	KindNMR Kind = iota + 1
	KindTemperature
	KindField
)

// String returns the display type name.
func (k Kind) String() string {
	switch k {
	case KindNMR:
		return "NMR"
	case KindTemperature:
		return "PPMS-Temp"
	case KindField:
		return "PPMS-Field"
	default:
		return "unknown"
	}
}

// Key returns the lowercase identifier used in queue files and the info file.
func (k Kind) Key() string {
	switch k {
	case KindNMR:
		return "nmr"
	case KindTemperature:
		return "temperature"
	case KindField:
		return "field"
	default:
		return ""
	}
}

// IsEnvironment reports whether commands of this kind run on the environment controller.
func (k Kind) IsEnvironment() bool {
	return k == KindTemperature || k == KindField
}

// Command is one experiment step.
type Command interface {
	// Kind returns the command's runtime type.
	Kind() Kind

	// Label returns a derived, human-readable description.
	Label() string

	// Valid reports whether the command may be queued.
	Valid() bool
}

var (
	_ Command = (*NMRCommand)(nil)
	_ Command = (*PPMSCommand)(nil)
)

// NMRCommand runs a Sequence on the spectrometer a number of times.
type NMRCommand struct {
	// SequencePath is where the sequence was loaded from.
	SequencePath string

	// Sequence is the pulse program. It is never modified by the command.
	Sequence *Sequence

	repeats int
}

// NewNMRCommand creates an NMR command. No validation error is returned;
// check Valid before queueing.
func NewNMRCommand(sequencePath string, seq *Sequence, repeats int) *NMRCommand {
	return &NMRCommand{
		SequencePath: sequencePath,
		Sequence:     seq,
		repeats:      repeats,
	}
}

// Kind implements Command.
func (c *NMRCommand) Kind() Kind { return KindNMR }

// Repeats returns the number of acquisitions to average.
func (c *NMRCommand) Repeats() int { return c.repeats }

// SequenceName returns the sequence display name, or "" if no sequence is set.
func (c *NMRCommand) SequenceName() string {
	if c.Sequence == nil {
		return ""
	}
	return c.Sequence.Name
}

// Valid reports repeats > 0 and a valid sequence.
func (c *NMRCommand) Valid() bool {
	return c.repeats > 0 && c.Sequence.Valid()
}

// Label implements Command.
func (c *NMRCommand) Label() string {
	return fmt.Sprintf("%s\nRepeats=%d", c.SequenceName(), c.repeats)
}

// Variable is the physical quantity a PPMS command controls.
type Variable int

// PPMS variables.
const (
	Temperature Variable = iota + 1
	Field
)

// Range is a closed interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Legal set-point limits.
var (
	TemperatureRange     = Range{Min: 2, Max: 400}
	TemperatureRateRange = Range{Min: 2, Max: 20}
	FieldRange           = Range{Min: -70000, Max: 70000}
	FieldRateRange       = Range{Min: 10, Max: 500}
)

// String returns the variable name.
func (v Variable) String() string {
	switch v {
	case Temperature:
		return "temperature"
	case Field:
		return "field"
	default:
		return "unknown"
	}
}

// Symbol returns the label symbol: T or B.
func (v Variable) Symbol() string {
	if v == Field {
		return "B"
	}
	return "T"
}

// Unit returns the set-point unit: K or Oe.
func (v Variable) Unit() string {
	if v == Field {
		return "Oe"
	}
	return "K"
}

// ValueRange returns the legal set-point range.
func (v Variable) ValueRange() Range {
	if v == Field {
		return FieldRange
	}
	return TemperatureRange
}

// RateRange returns the legal ramp-rate range.
func (v Variable) RateRange() Range {
	if v == Field {
		return FieldRateRange
	}
	return TemperatureRateRange
}

// PPMSCommand drives the environment controller to a set-point.
// Value and rate are always inside their legal ranges.
type PPMSCommand struct {
	variable Variable
	value    float64
	rate     float64
}

// NewTemperatureCommand creates a temperature set-point command.
//
// Parameters:
//   - value: target temperature in K, within [2, 400]
//   - rate: ramp rate in K/s, within [2, 20]
//
// Returns:
//   - error: ErrOutOfRange if either value is outside its range
func NewTemperatureCommand(value, rate float64) (*PPMSCommand, error) {
	return newPPMSCommand(Temperature, value, rate)
}

// NewFieldCommand creates a field set-point command.
//
// Parameters:
//   - value: target field in Oe, within [-70000, 70000]
//   - rate: ramp rate in Oe/s, within [10, 500]
//
// Returns:
//   - error: ErrOutOfRange if either value is outside its range
func NewFieldCommand(value, rate float64) (*PPMSCommand, error) {
	return newPPMSCommand(Field, value, rate)
}

func newPPMSCommand(v Variable, value, rate float64) (*PPMSCommand, error) {
	c := &PPMSCommand{variable: v}
	if err := c.setValue(value); err != nil {
		return nil, err
	}
	if err := c.setRate(rate); err != nil {
		return nil, err
	}
	return c, nil
}

// Kind implements Command.
func (c *PPMSCommand) Kind() Kind {
	if c.variable == Field {
		return KindField
	}
	return KindTemperature
}

// Variable returns the controlled quantity.
func (c *PPMSCommand) Variable() Variable { return c.variable }

// Value returns the set-point.
func (c *PPMSCommand) Value() float64 { return c.value }

// Rate returns the ramp rate.
func (c *PPMSCommand) Rate() float64 { return c.rate }

// Valid implements Command.
func (c *PPMSCommand) Valid() bool {
	return c.variable.ValueRange().Contains(c.value) && c.variable.RateRange().Contains(c.rate)
}

// Label implements Command.
//
// Example: "Set T=250K\nRate=5K/s"
func (c *PPMSCommand) Label() string {
	unit := c.variable.Unit()
	return fmt.Sprintf("Set %s=%s%s\nRate=%s%s/s",
		c.variable.Symbol(), FormatNumber(c.value), unit, FormatNumber(c.rate), unit)
}

func (c *PPMSCommand) setValue(v float64) error {
	r := c.variable.ValueRange()
	if !r.Contains(v) {
		return fmt.Errorf("%w: %s %s%s outside [%s, %s]", ErrOutOfRange,
			c.variable, FormatNumber(v), c.variable.Unit(), FormatNumber(r.Min), FormatNumber(r.Max))
	}
	c.value = v
	return nil
}

func (c *PPMSCommand) setRate(v float64) error {
	r := c.variable.RateRange()
	if !r.Contains(v) {
		return fmt.Errorf("%w: %s rate %s%s/s outside [%s, %s]", ErrOutOfRange,
			c.variable, FormatNumber(v), c.variable.Unit(), FormatNumber(r.Min), FormatNumber(r.Max))
	}
	c.rate = v
	return nil
}

// FormatNumber formats v with the fewest digits that round-trip,
// without exponent notation.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
