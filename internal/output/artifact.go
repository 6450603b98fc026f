package output

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// headerPrefix starts the single comment line of an artifact.
const headerPrefix = "# "

// maxRowBytes bounds one artifact row when reading (65536 samples of up to
// 24 characters each, with headroom).
const maxRowBytes = 4 << 20

// Artifact is a parsed data file: the header text and the two channel rows.
type Artifact struct {
	Header   string
	ChannelA []float64
	ChannelB []float64
}

func encodeArtifact(header string, rowA, rowB []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(header) + len(rowA) + len(rowB) + 8)
	buf.WriteString(headerPrefix)
	buf.WriteString(header)
	buf.WriteByte('\n')
	buf.Write(rowA)
	buf.WriteByte('\n')
	buf.Write(rowB)
	buf.WriteByte('\n')
	return buf.Bytes()
}

func appendInts(dst []byte, vals []int16) []byte {
	for i, v := range vals {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendInt(dst, int64(v), 10)
	}
	return dst
}

func appendFloats(dst []byte, vals []float64) []byte {
	for i, v := range vals {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendFloat(dst, v, 'g', -1, 64)
	}
	return dst
}

// ReadArtifact parses a raw or average artifact.
func ReadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRowBytes)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	if len(lines) != 3 || !strings.HasPrefix(lines[0], headerPrefix) {
		return nil, fmt.Errorf("%w: want header and two rows, got %d lines", ErrMalformedArtifact, len(lines))
	}

	a, err := parseRow(lines[1])
	if err != nil {
		return nil, fmt.Errorf("%w: channel A: %w", ErrMalformedArtifact, err)
	}
	b, err := parseRow(lines[2])
	if err != nil {
		return nil, fmt.Errorf("%w: channel B: %w", ErrMalformedArtifact, err)
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrChannelMismatch, len(a), len(b))
	}

	return &Artifact{
		Header:   strings.TrimPrefix(lines[0], headerPrefix),
		ChannelA: a,
		ChannelB: b,
	}, nil
}

func parseRow(line string) ([]float64, error) {
	if line == "" {
		return []float64{}, nil
	}
	fields := strings.Split(line, ",")
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
