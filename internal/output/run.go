package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/command"
)

// File names and formats.
const (
	// InfoFileName is the run metadata file.
	InfoFileName = "info.txt"

	// TimestampLayout formats timestamps in condition and set-point logs.
	TimestampLayout = "2006-01-02-15:04:05"

	// maxSuffix bounds the directory name search.
	maxSuffix = 10000

	dirPerm  = 0o755
	filePerm = 0o644
)

// Run is one run's output directory.
type Run struct {
	// Dir is the absolute path of the run directory.
	Dir string

	mu sync.Mutex
}

// Create claims a new run directory under baseDir named after name.
//
// If baseDir/name exists, baseDir/name_1, baseDir/name_2, ... are tried in
// order. Existing directories are never written to.
//
// Parameters:
//   - baseDir: Parent directory, created if missing
//   - name: Run name, usually the sample name
//
// Returns:
//   - *Run: The claimed directory
//   - error: ErrNoBaseDir, ErrInvalidName, ErrNamesExhausted or an I/O error
func Create(baseDir, name string) (*Run, error) {
	if baseDir == "" {
		return nil, ErrNoBaseDir
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if err := os.MkdirAll(baseDir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating output base directory: %w", err)
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output base directory: %w", err)
	}

	for i := 0; i < maxSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = name + "_" + strconv.Itoa(i)
		}
		dir := filepath.Join(base, candidate)

		err := os.Mkdir(dir, dirPerm)
		if err == nil {
			return &Run{Dir: dir}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating run directory: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNamesExhausted, name)
}

// Info is the run metadata written before the first command is dispatched.
type Info struct {
	RunID    string
	Start    time.Time
	Sample   *command.Sample
	Commands []command.Record
}

// WriteInfo writes info.txt: newline-delimited "KEY, value" pairs ending
// with one COMMANDS line holding the JSON-encoded queue.
func (r *Run) WriteInfo(info Info) error {
	var b strings.Builder

	writePair := func(key, value string) {
		b.WriteString(key)
		b.WriteString(", ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	if info.RunID != "" {
		writePair("RUN ID", info.RunID)
	}
	writePair("START TIME", info.Start.Format(TimestampLayout))
	if s := info.Sample; s != nil {
		if s.ValidName() {
			writePair("SAMPLE NAME", s.Name)
		}
		if s.ValidMass() {
			writePair("SAMPLE MASS (mg)", s.Mass)
		}
		if s.Shape != "" {
			writePair("SAMPLE SHAPE", s.Shape)
		}
	}

	cmds := info.Commands
	if cmds == nil {
		cmds = []command.Record{}
	}
	encoded, err := json.Marshal(cmds)
	if err != nil {
		return fmt.Errorf("encoding command queue: %w", err)
	}
	writePair("COMMANDS", string(encoded))

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.WriteFile(filepath.Join(r.Dir, InfoFileName), []byte(b.String()), filePerm); err != nil {
		return fmt.Errorf("writing info file: %w", err)
	}
	return nil
}

// RepeatPath returns the raw artifact path for one repeat.
func (r *Run) RepeatPath(sequence string, cmdIndex, repeat int) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%s_%d_%d.txt", sequence, cmdIndex, repeat))
}

// AveragePath returns the running-average artifact path for a command.
func (r *Run) AveragePath(sequence string, cmdIndex int) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%s_%d_average.txt", sequence, cmdIndex))
}

// ConditionsPath returns the condition log path for a sequence.
func (r *Run) ConditionsPath(sequence string) string {
	return filepath.Join(r.Dir, "PPMS_conditions_"+sequence+".txt")
}

// SetpointPath returns the set-point progress log path for a command.
func (r *Run) SetpointPath(cmdIndex int) string {
	return filepath.Join(r.Dir, fmt.Sprintf("PPMS_setpoint_%d.txt", cmdIndex))
}

// WriteRepeat stores one repeat's raw channels.
//
// Returns:
//   - string: The artifact path
//   - error: ErrChannelMismatch or an I/O error
func (r *Run) WriteRepeat(sequence string, cmdIndex, repeat int, a, b []int16) (string, error) {
	if len(a) != len(b) {
		return "", fmt.Errorf("%w: %d vs %d", ErrChannelMismatch, len(a), len(b))
	}

	header := fmt.Sprintf("sequence=%s command=%d repeat=%d samples=%d rows=channelA,channelB",
		sequence, cmdIndex, repeat, len(a))
	data := encodeArtifact(header, appendInts(nil, a), appendInts(nil, b))

	path := r.RepeatPath(sequence, cmdIndex, repeat)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.WriteFile(path, data, filePerm); err != nil {
		return "", fmt.Errorf("writing repeat artifact: %w", err)
	}
	return path, nil
}

// WriteAverage replaces the running-average artifact for a command. The file
// is written to a temporary name and renamed, so readers never see a partial
// average.
func (r *Run) WriteAverage(sequence string, cmdIndex, repeats int, a, b []float64) (string, error) {
	if len(a) != len(b) {
		return "", fmt.Errorf("%w: %d vs %d", ErrChannelMismatch, len(a), len(b))
	}

	header := fmt.Sprintf("sequence=%s command=%d average_of=%d samples=%d rows=channelA,channelB",
		sequence, cmdIndex, repeats, len(a))
	data := encodeArtifact(header, appendFloats(nil, a), appendFloats(nil, b))

	path := r.AveragePath(sequence, cmdIndex)
	tmp := path + ".tmp"

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return "", fmt.Errorf("writing average artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("replacing average artifact: %w", err)
	}
	return path, nil
}

// AppendConditions logs one "timestamp,T,H" line for a sequence.
func (r *Run) AppendConditions(sequence string, at time.Time, temperature, field float64) error {
	line := fmt.Sprintf("%s,%s,%s\n", at.Format(TimestampLayout),
		strconv.FormatFloat(temperature, 'g', -1, 64), strconv.FormatFloat(field, 'g', -1, 64))
	return r.appendLine(r.ConditionsPath(sequence), line)
}

// AppendSetpoint logs one "timestamp,value,substatus" line for a set-point command.
func (r *Run) AppendSetpoint(cmdIndex int, at time.Time, value float64, substatus int) error {
	line := fmt.Sprintf("%s,%s,%d\n", at.Format(TimestampLayout),
		strconv.FormatFloat(value, 'g', -1, 64), substatus)
	return r.appendLine(r.SetpointPath(cmdIndex), line)
}

func (r *Run) appendLine(path, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
