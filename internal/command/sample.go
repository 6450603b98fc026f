package command

import (
	"strconv"
	"strings"
)

// Sample describes the specimen under test. The run directory is named
// after it.
type Sample struct {
	Name  string
	Mass  string // mg, as entered
	Shape string
}

// NewSample trims and stores the sample fields. Check ValidName and
// ValidMass before starting a run.
func NewSample(name, mass, shape string) *Sample {
	return &Sample{
		Name:  strings.TrimSpace(name),
		Mass:  strings.TrimSpace(mass),
		Shape: strings.TrimSpace(shape),
	}
}

// ValidName reports whether the sample has a non-blank name that can
// be used as a directory name.
func (s *Sample) ValidName() bool {
	if s == nil || s.Name == "" || s.Name == "." || s.Name == ".." {
		return false
	}
	return !strings.ContainsAny(s.Name, `/\`)
}

// ValidMass reports whether Mass parses as a number.
func (s *Sample) ValidMass() bool {
	_, ok := s.MassMG()
	return ok
}

// MassMG returns the parsed mass in mg.
func (s *Sample) MassMG() (float64, bool) {
	if s == nil || s.Mass == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s.Mass, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
