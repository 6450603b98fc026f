package command

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadQueueFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "seqs", "T1.seq"), "20000000 90 270 1500 20000 3000 40000 0 81920\n")
	writeFile(t, filepath.Join(dir, "queue.yaml"), `
sample:
  name: "YBCO-3"
  mass: "12.5"
  shape: "pellet"
commands:
  - {type: temperature, value: 250, rate: 5}
  - {type: nmr, sequence: "seqs/T1.seq", repeats: 3}
  - {type: field, value: -1000, rate: 100}
`)

	q, sample, err := LoadQueueFile(filepath.Join(dir, "queue.yaml"))
	if err != nil {
		t.Fatalf("LoadQueueFile() error = %v", err)
	}

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	if sample == nil || sample.Name != "YBCO-3" || !sample.ValidMass() {
		t.Errorf("sample = %+v", sample)
	}

	c, _ := q.Get(1)
	nmr, ok := c.(*NMRCommand)
	if !ok {
		t.Fatalf("entry 2 is %T, want *NMRCommand", c)
	}
	if nmr.Repeats() != 3 || nmr.SequenceName() != "T1" {
		t.Errorf("nmr = repeats %d, name %q", nmr.Repeats(), nmr.SequenceName())
	}
	if !filepath.IsAbs(nmr.SequencePath) {
		t.Errorf("SequencePath %q not absolute", nmr.SequencePath)
	}

	c, _ = q.Get(2)
	if c.Kind() != KindField || c.(*PPMSCommand).Value() != -1000 {
		t.Errorf("entry 3 = %v %v", c.Kind(), c.Label())
	}
}

func TestLoadQueueFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "temperature out of range",
			content: "commands:\n  - {type: temperature, value: 500, rate: 5}\n",
			wantErr: ErrInvalidQueueFile,
		},
		{
			name:    "missing rate",
			content: "commands:\n  - {type: field, value: 500}\n",
			wantErr: ErrInvalidQueueFile,
		},
		{
			name:    "unknown type",
			content: "commands:\n  - {type: laser}\n",
			wantErr: ErrInvalidQueueFile,
		},
		{
			name:    "missing sequence file",
			content: "commands:\n  - {type: nmr, sequence: nope.seq, repeats: 1}\n",
			wantErr: ErrInvalidQueueFile,
		},
		{
			name:    "unknown key",
			content: "commands:\n  - {type: nmr, sequense: a.seq}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "queue.yaml")
			writeFile(t, path, tt.content)

			_, _, err := LoadQueueFile(path)
			if err == nil {
				t.Fatal("LoadQueueFile() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadQueueFile_ZeroRepeats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "T1.seq"), "20000000 90 270 1500 20000 3000 40000 0 81920\n")
	writeFile(t, filepath.Join(dir, "queue.yaml"), "commands:\n  - {type: nmr, sequence: T1.seq, repeats: 0}\n")

	_, _, err := LoadQueueFile(filepath.Join(dir, "queue.yaml"))
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("error = %v, want ErrInvalidValue", err)
	}
}

func TestSaveQueueFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	seqPath := filepath.Join(dir, "T2.seq")
	writeFile(t, seqPath, "1000 0 180 1 2 3 4 5 6\n")
	seq, err := LoadSequence(seqPath)
	if err != nil {
		t.Fatal(err)
	}

	q := NewQueue(
		NewNMRCommand(seqPath, seq, 7),
		mustTemp(t, 4.2, 2),
	)
	path := filepath.Join(dir, "out", "queue.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := SaveQueueFile(path, q, NewSample("S", "1", "")); err != nil {
		t.Fatalf("SaveQueueFile() error = %v", err)
	}

	got, sample, err := LoadQueueFile(path)
	if err != nil {
		t.Fatalf("LoadQueueFile() error = %v", err)
	}
	if sample.Name != "S" {
		t.Errorf("sample name = %q", sample.Name)
	}
	if got.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", got.Len())
	}
	c0, _ := got.Get(0)
	if c0.Label() != "T2\nRepeats=7" {
		t.Errorf("entry 1 label = %q", c0.Label())
	}
	c1, _ := got.Get(1)
	if c1.Label() != "Set T=4.2K\nRate=2K/s" {
		t.Errorf("entry 2 label = %q", c1.Label())
	}
}

func TestRecord_JSON(t *testing.T) {
	rec := RecordOf(mustField(t, 500, 50))
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"field","value":500,"rate":50,"unit":"Oe"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
