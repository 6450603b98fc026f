package command

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sequenceFieldCount is the number of integers in a .seq file.
const sequenceFieldCount = 9

// SequenceExt is the file extension for sequence files.
const SequenceExt = ".seq"

// maxRegisterValue is the largest value a digitizer register can hold.
const maxRegisterValue = math.MaxUint32

// SequenceParams holds the numeric fields of a pulse program.
// Frequencies are in Hz, phases in degrees, all widths in ns.
type SequenceParams struct {
	Frequency int64
	TXPhase   int64
	RXPhase   int64
	P1        int64
	G1        int64
	P2        int64
	G2        int64
	P3        int64
	Rec       int64
}

// values returns the fields in file order.
func (p SequenceParams) values() [sequenceFieldCount]int64 {
	return [sequenceFieldCount]int64{
		p.Frequency, p.TXPhase, p.RXPhase,
		p.P1, p.G1, p.P2, p.G2, p.P3, p.Rec,
	}
}

// fieldNames matches values() order.
var fieldNames = [sequenceFieldCount]string{
	"frequency", "tx_phase", "rx_phase", "p1", "g1", "p2", "g2", "p3", "rec",
}

// Sequence is one pulse program. Treat it as immutable once constructed:
// the validity result is computed by NewSequence and not recomputed.
type Sequence struct {
	Name string
	SequenceParams

	err error
}

// NewSequence builds a Sequence and validates it once.
//
// Every numeric field must be a non-negative integer that fits a 32-bit
// register, and both phases must be one of 0, 90, 180 or 270.
func NewSequence(name string, p SequenceParams) *Sequence {
	return &Sequence{
		Name:           name,
		SequenceParams: p,
		err:            validateParams(p),
	}
}

func validateParams(p SequenceParams) error {
	for i, v := range p.values() {
		if v < 0 || v > maxRegisterValue {
			return fmt.Errorf("%w: %s=%d outside [0, %d]", ErrInvalidSequence, fieldNames[i], v, int64(maxRegisterValue))
		}
	}
	if !ValidPhase(p.TXPhase) {
		return fmt.Errorf("%w: tx_phase=%d not one of 0, 90, 180, 270", ErrInvalidSequence, p.TXPhase)
	}
	if !ValidPhase(p.RXPhase) {
		return fmt.Errorf("%w: rx_phase=%d not one of 0, 90, 180, 270", ErrInvalidSequence, p.RXPhase)
	}
	return nil
}

// ValidPhase reports whether deg is a supported phase setting.
func ValidPhase(deg int64) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	default:
		return false
	}
}

// Valid reports whether every field passed validation at construction.
func (s *Sequence) Valid() bool {
	return s != nil && s.err == nil
}

// Err returns the validation failure, or nil for a valid sequence.
func (s *Sequence) Err() error {
	if s == nil {
		return fmt.Errorf("%w: nil sequence", ErrInvalidSequence)
	}
	return s.err
}

// Save writes the sequence in .seq format: one integer per line in the
// order frequency, TX phase, RX phase, p1, g1, p2, g2, p3, rec.
// The name is not stored; it comes from the file name.
func (s *Sequence) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, v := range s.values() {
		if _, err := fmt.Fprintf(bw, "%d\n", v); err != nil {
			return fmt.Errorf("writing sequence %q: %w", s.Name, err)
		}
	}
	return bw.Flush()
}

// SaveFile writes the sequence to path, creating or truncating it.
func (s *Sequence) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating sequence file: %w", err)
	}
	if err := s.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParseSequence reads nine whitespace-separated integers from r.
//
// Values written in exponent notation by older tooling
// ("2.000000000000000000e+07") are accepted when they are integral.
// A token that is not an integer, or a wrong token count, is an error;
// negative values or bad phases produce a Sequence with Valid() == false.
func ParseSequence(name string, r io.Reader) (*Sequence, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)

	var vals []int64
	for scanner.Scan() {
		v, err := parseInteger(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: field %d: %w", ErrInvalidSequence, name, len(vals)+1, err)
		}
		vals = append(vals, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading sequence %q: %w", name, err)
	}
	if len(vals) != sequenceFieldCount {
		return nil, fmt.Errorf("%w: %s: got %d fields, want %d", ErrInvalidSequence, name, len(vals), sequenceFieldCount)
	}

	return NewSequence(name, SequenceParams{
		Frequency: vals[0],
		TXPhase:   vals[1],
		RXPhase:   vals[2],
		P1:        vals[3],
		G1:        vals[4],
		P2:        vals[5],
		G2:        vals[6],
		P3:        vals[7],
		Rec:       vals[8],
	}), nil
}

// LoadSequence reads a .seq file. The sequence name is the file's base
// name without extension.
func LoadSequence(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sequence file: %w", err)
	}
	defer f.Close()

	return ParseSequence(SequenceName(path), f)
}

// SequenceName derives the display name from a sequence file path.
func SequenceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func parseInteger(tok string) (int64, error) {
	if v, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", tok)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/2 {
		return 0, fmt.Errorf("%q is not an integer", tok)
	}
	return int64(f), nil
}
