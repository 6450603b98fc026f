package spectrometer

import (
	"errors"
	"testing"

	"github.com/nerrad567/nmr-lab-core/internal/command"
)

func TestApplyMask(t *testing.T) {
	tests := []struct {
		name    string
		current uint32
		value   uint32
		mask    uint32
		want    uint32
	}{
		{"mask 0 overwrites", 0xFFFF_FFFF, 0x1234, 0, 0x1234},
		{"tx bits only", 0b1100, 0b0001, TXPhaseMask, 0b1101},
		{"rx bits only", 0b0011, 0b1000, RXPhaseMask, 0b1011},
		{"value bits outside mask ignored", 0, 0xFF, 0x0F, 0x0F},
		{"clear inside mask", 0xFF, 0, 0xF0, 0x0F},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyMask(tt.current, tt.value, tt.mask); got != tt.want {
				t.Errorf("ApplyMask(%#x, %#x, %#x) = %#x, want %#x", tt.current, tt.value, tt.mask, got, tt.want)
			}
		})
	}
}

func TestApplyMask_PreservesOutsideBits(t *testing.T) {
	priors := []uint32{0, 1, 0xA5A5_A5A5, 0xFFFF_FFFF, 0x8000_0001}
	masks := []uint32{1, 0x3, 0xC, 0xF0F0, 0xFFFF_0000}
	values := []uint32{0, 0xFFFF_FFFF, 0x1234_5678}

	for _, prior := range priors {
		for _, mask := range masks {
			for _, v := range values {
				got := ApplyMask(prior, v, mask)
				if got&^mask != prior&^mask {
					t.Errorf("prior %#x mask %#x value %#x: outside bits changed to %#x", prior, mask, v, got)
				}
				if got&mask != v&mask {
					t.Errorf("prior %#x mask %#x value %#x: masked bits = %#x", prior, mask, v, got&mask)
				}
			}
		}
	}
}

func TestRegisterWrite_Matches(t *testing.T) {
	full := RegisterWrite{Register: RegFrequency, Value: 42}
	if !full.Matches(42) || full.Matches(43) {
		t.Error("mask 0 write must compare every bit")
	}

	masked := RegisterWrite{Register: RegPhase, Value: 0b1000, Mask: RXPhaseMask}
	if !masked.Matches(0b1011) {
		t.Error("masked write must ignore bits outside the mask")
	}
	if masked.Matches(0b0100) {
		t.Error("masked write must detect wrong bits inside the mask")
	}
}

func TestPhaseCode(t *testing.T) {
	for deg, want := range map[int64]uint32{0: 0, 90: 1, 180: 2, 270: 3} {
		if got := PhaseCode(deg); got != want {
			t.Errorf("PhaseCode(%d) = %d, want %d", deg, got, want)
		}
	}
}

func TestProgram(t *testing.T) {
	seq := command.NewSequence("T1", command.SequenceParams{
		Frequency: 20_000_000, TXPhase: 90, RXPhase: 270,
		P1: 1500, G1: 20000, P2: 3000, G2: 40000, P3: 0, Rec: 81920,
	})

	writes, err := Program(seq)
	if err != nil {
		t.Fatalf("Program() error = %v", err)
	}

	want := map[int]uint32{
		RegFrequency: 20_000_000,
		RegP1:        1500,
		RegP2:        3000,
		RegP3:        0,
		RegG1:        20000,
		RegG2:        40000,
		RegRec:       81920,
	}

	var phase uint32 = 0xF0
	for _, w := range writes {
		if w.Register == RegPhase {
			if w.Mask == 0 {
				t.Errorf("phase write without mask: %+v", w)
			}
			phase = ApplyMask(phase, w.Value, w.Mask)
			continue
		}
		if w.Mask != 0 {
			t.Errorf("register %d written with mask %#x, want 0", w.Register, w.Mask)
		}
		v, ok := want[w.Register]
		if !ok {
			t.Errorf("unexpected register %d", w.Register)
			continue
		}
		if w.Value != v {
			t.Errorf("register %d = %d, want %d", w.Register, w.Value, v)
		}
		delete(want, w.Register)
	}
	if len(want) != 0 {
		t.Errorf("registers not programmed: %v", want)
	}
	if phase != 0xF0|1|3<<2 {
		t.Errorf("phase register = %#x, want %#x", phase, 0xF0|1|3<<2)
	}
}

func TestProgram_InvalidSequence(t *testing.T) {
	seq := command.NewSequence("bad", command.SequenceParams{TXPhase: 45})
	if _, err := Program(seq); !errors.Is(err, command.ErrInvalidSequence) {
		t.Errorf("Program() error = %v, want ErrInvalidSequence", err)
	}
}

func TestSplitBuffer(t *testing.T) {
	a, b, err := SplitBuffer([]int16{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 3 || a[0] != 1 || a[2] != 3 {
		t.Errorf("channel A = %v", a)
	}
	if len(b) != 3 || b[0] != 4 || b[2] != 6 {
		t.Errorf("channel B = %v", b)
	}

	// Appending to A must not clobber B.
	_ = append(a, 99)
	if b[0] != 4 {
		t.Error("channel A shares capacity with channel B")
	}

	for _, n := range []int{0, 3} {
		if _, _, err := SplitBuffer(make([]int16, n)); !errors.Is(err, ErrBufferSize) {
			t.Errorf("SplitBuffer(len %d) error = %v, want ErrBufferSize", n, err)
		}
	}
}
