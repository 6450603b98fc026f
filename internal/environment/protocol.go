package environment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/nmr-lab-core/internal/command"
)

// Instrument queries.
const (
	QueryStatus      = "GetDat? 1"
	QueryTemperature = "GetDat? 2"
	QueryField       = "GetDat? 4"
)

// GetDat data masks.
const (
	maskStatus      = 1
	maskTemperature = 2
	maskField       = 4
)

// StatusStable is the sub-state value that marks a stable quantity.
const StatusStable = 1

// Status is a decoded status word.
type Status struct {
	Temperature uint8
	Field       uint8
	Chamber     uint8
	Position    uint8
}

// DecodeStatus splits a status word into its four nibbles.
func DecodeStatus(word uint16) Status {
	return Status{
		Temperature: uint8(word & 0xF),
		Field:       uint8((word >> 4) & 0xF),
		Chamber:     uint8((word >> 8) & 0xF),
		Position:    uint8((word >> 12) & 0xF),
	}
}

// Encode packs the status back into a word.
func (s Status) Encode() uint16 {
	return uint16(s.Temperature&0xF) |
		uint16(s.Field&0xF)<<4 |
		uint16(s.Chamber&0xF)<<8 |
		uint16(s.Position&0xF)<<12
}

// For returns the sub-state governing v.
func (s Status) For(v command.Variable) uint8 {
	if v == command.Field {
		return s.Field
	}
	return s.Temperature
}

// String returns a compact representation.
func (s Status) String() string {
	return fmt.Sprintf("T=%d H=%d chamber=%d position=%d", s.Temperature, s.Field, s.Chamber, s.Position)
}

// SetpointCommand renders the instrument text for a set-point command.
func SetpointCommand(c *command.PPMSCommand) string {
	keyword := "TEMP"
	if c.Variable() == command.Field {
		keyword = "FIELD"
	}
	return fmt.Sprintf("%s %s %s 0", keyword, command.FormatNumber(c.Value()), command.FormatNumber(c.Rate()))
}

// ReadingQuery returns the GetDat query for a variable's current value.
func ReadingQuery(v command.Variable) string {
	if v == command.Field {
		return QueryField
	}
	return QueryTemperature
}

// ParseReading extracts the value from a GetDat reply. Replies are
// comma-separated "<mask>,<timestamp>,<value>;" and the value is the last
// field with the trailing semicolon removed.
func ParseReading(resp string) (float64, error) {
	resp = strings.TrimSpace(resp)
	idx := strings.LastIndexByte(resp, ',')
	if idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResponse, resp)
	}
	field := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(resp[idx+1:]), ";"))
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidResponse, resp, err)
	}
	return v, nil
}

// ParseStatus parses a GetDat? 1 reply into a status word.
func ParseStatus(resp string) (Status, error) {
	v, err := ParseReading(resp)
	if err != nil {
		return Status{}, err
	}
	if v < 0 || v > 0xFFFF || v != float64(int64(v)) {
		return Status{}, fmt.Errorf("%w: status %v is not a 16-bit word", ErrInvalidResponse, v)
	}
	return DecodeStatus(uint16(v)), nil
}

// FormatReading renders a GetDat reply; the inverse of ParseReading.
func FormatReading(mask int, timestamp, value float64) string {
	return fmt.Sprintf("%d,%s,%s;", mask,
		strconv.FormatFloat(timestamp, 'f', 3, 64),
		strconv.FormatFloat(value, 'g', -1, 64))
}
