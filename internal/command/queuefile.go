package command

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Record is the flat, serialisable form of a command. It is the schema of
// queue files and of the COMMANDS line in a run's info file.
type Record struct {
	Type     string   `yaml:"type" json:"type"`
	Sequence string   `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	Name     string   `yaml:"-" json:"name,omitempty"`
	Repeats  int      `yaml:"repeats,omitempty" json:"repeats,omitempty"`
	Value    *float64 `yaml:"value,omitempty" json:"value,omitempty"`
	Rate     *float64 `yaml:"rate,omitempty" json:"rate,omitempty"`
	Unit     string   `yaml:"-" json:"unit,omitempty"`
}

// RecordOf flattens a command.
func RecordOf(c Command) Record {
	switch cmd := c.(type) {
	case *NMRCommand:
		return Record{
			Type:     KindNMR.Key(),
			Sequence: cmd.SequencePath,
			Name:     cmd.SequenceName(),
			Repeats:  cmd.Repeats(),
		}
	case *PPMSCommand:
		value, rate := cmd.Value(), cmd.Rate()
		return Record{
			Type:  cmd.Kind().Key(),
			Value: &value,
			Rate:  &rate,
			Unit:  cmd.Variable().Unit(),
		}
	default:
		return Record{Type: "unknown"}
	}
}

// Build turns a record into a command. Relative sequence paths are
// resolved against baseDir.
func (r Record) Build(baseDir string) (Command, error) {
	switch r.Type {
	case KindNMR.Key():
		if r.Sequence == "" {
			return nil, errors.New("nmr entry needs a sequence path")
		}
		path := r.Sequence
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		seq, err := LoadSequence(path)
		if err != nil {
			return nil, err
		}
		if !seq.Valid() {
			return nil, seq.Err()
		}
		cmd := NewNMRCommand(path, seq, r.Repeats)
		if !cmd.Valid() {
			return nil, fmt.Errorf("%w: repeats=%d", ErrInvalidValue, r.Repeats)
		}
		return cmd, nil

	case KindTemperature.Key(), KindField.Key():
		if r.Value == nil || r.Rate == nil {
			return nil, fmt.Errorf("%s entry needs value and rate", r.Type)
		}
		if r.Type == KindField.Key() {
			return NewFieldCommand(*r.Value, *r.Rate)
		}
		return NewTemperatureCommand(*r.Value, *r.Rate)

	default:
		return nil, fmt.Errorf("unknown command type %q", r.Type)
	}
}

// SampleRecord is the sample block of a queue file.
type SampleRecord struct {
	Name  string `yaml:"name"`
	Mass  string `yaml:"mass"`
	Shape string `yaml:"shape"`
}

// QueueFile is the on-disk description of a run: the sample and its commands.
//
//	sample: {name: "YBCO-3", mass: "12.5", shape: "pellet"}
//	commands:
//	  - {type: temperature, value: 250, rate: 5}
//	  - {type: nmr, sequence: "seqs/T1.seq", repeats: 3}
type QueueFile struct {
	Sample   *SampleRecord `yaml:"sample,omitempty"`
	Commands []Record      `yaml:"commands"`
}

// LoadQueueFile reads a queue file and builds its commands.
//
// Returns:
//   - *Queue: commands in file order
//   - *Sample: the sample block, or nil if absent
//   - error: ErrInvalidQueueFile naming the first bad entry, or an I/O/parse error
func LoadQueueFile(path string) (*Queue, *Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading queue file: %w", err)
	}

	var qf QueueFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&qf); err != nil {
		return nil, nil, fmt.Errorf("parsing queue file: %w", err)
	}

	baseDir := filepath.Dir(path)
	q := NewQueue()
	for i, rec := range qf.Commands {
		cmd, err := rec.Build(baseDir)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidQueueFile, i+1, err)
		}
		if err := q.Add(cmd); err != nil {
			return nil, nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidQueueFile, i+1, err)
		}
	}

	var sample *Sample
	if qf.Sample != nil {
		sample = NewSample(qf.Sample.Name, qf.Sample.Mass, qf.Sample.Shape)
	}

	return q, sample, nil
}

// SaveQueueFile writes the queue and sample in queue file format.
func SaveQueueFile(path string, q *Queue, sample *Sample) error {
	qf := QueueFile{Commands: q.Records()}
	if sample != nil {
		qf.Sample = &SampleRecord{Name: sample.Name, Mass: sample.Mass, Shape: sample.Shape}
	}

	data, err := yaml.Marshal(&qf)
	if err != nil {
		return fmt.Errorf("encoding queue file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing queue file: %w", err)
	}
	return nil
}
