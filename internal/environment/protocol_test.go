package environment

import (
	"errors"
	"testing"

	"github.com/nerrad567/nmr-lab-core/internal/command"
)

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name string
		word uint16
		want Status
	}{
		{"zero", 0, Status{}},
		{"all stable", 0x1111, Status{1, 1, 1, 1}},
		{"temperature ramping", 0x1112, Status{Temperature: 2, Field: 1, Chamber: 1, Position: 1}},
		{"field nibble", 0x0040, Status{Field: 4}},
		{"chamber nibble", 0x0500, Status{Chamber: 5}},
		{"position nibble", 0xF000, Status{Position: 15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeStatus(tt.word)
			if got != tt.want {
				t.Errorf("DecodeStatus(%#x) = %+v, want %+v", tt.word, got, tt.want)
			}
			if back := got.Encode(); back != tt.word {
				t.Errorf("Encode() = %#x, want %#x", back, tt.word)
			}
		})
	}
}

func TestStatus_For(t *testing.T) {
	st := Status{Temperature: 1, Field: 3}
	if got := st.For(command.Temperature); got != 1 {
		t.Errorf("For(Temperature) = %d, want 1", got)
	}
	if got := st.For(command.Field); got != 3 {
		t.Errorf("For(Field) = %d, want 3", got)
	}
}

func TestSetpointCommand(t *testing.T) {
	temp, err := command.NewTemperatureCommand(250, 5)
	if err != nil {
		t.Fatalf("NewTemperatureCommand() error = %v", err)
	}
	field, err := command.NewFieldCommand(-1000.5, 100)
	if err != nil {
		t.Fatalf("NewFieldCommand() error = %v", err)
	}

	if got := SetpointCommand(temp); got != "TEMP 250 5 0" {
		t.Errorf("SetpointCommand(temp) = %q", got)
	}
	if got := SetpointCommand(field); got != "FIELD -1000.5 100 0" {
		t.Errorf("SetpointCommand(field) = %q", got)
	}
}

func TestReadingQuery(t *testing.T) {
	if got := ReadingQuery(command.Temperature); got != QueryTemperature {
		t.Errorf("ReadingQuery(Temperature) = %q", got)
	}
	if got := ReadingQuery(command.Field); got != QueryField {
		t.Errorf("ReadingQuery(Field) = %q", got)
	}
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		name    string
		resp    string
		want    float64
		wantErr bool
	}{
		{"temperature", "2,1234.500,299.87;", 299.87, false},
		{"negative field", "4,0.000,-7000;", -7000, false},
		{"trailing whitespace", "2,1.0,4.2;\r\n", 4.2, false},
		{"no semicolon", "2,1.0,10", 10, false},
		{"exponent", "4,1.0,1e+04;", 10000, false},
		{"no separator", "299.87", 0, true},
		{"empty value", "2,1.0,;", 0, true},
		{"garbage", "2,1.0,abc;", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReading(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReading(%q) error = %v, wantErr %v", tt.resp, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidResponse) {
					t.Errorf("error = %v, want ErrInvalidResponse", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseReading(%q) = %v, want %v", tt.resp, got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("1,10.000,4369;")
	if err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	if st != (Status{1, 1, 1, 1}) {
		t.Errorf("ParseStatus() = %+v, want all stable", st)
	}

	for _, bad := range []string{"1,0,-1;", "1,0,65536;", "1,0,1.5;"} {
		if _, err := ParseStatus(bad); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("ParseStatus(%q) error = %v, want ErrInvalidResponse", bad, err)
		}
	}
}

func TestFormatReading(t *testing.T) {
	got := FormatReading(maskTemperature, 12.3456, 250.25)
	if got != "2,12.346,250.25;" {
		t.Errorf("FormatReading() = %q", got)
	}
	v, err := ParseReading(got)
	if err != nil || v != 250.25 {
		t.Errorf("ParseReading(FormatReading()) = %v, %v", v, err)
	}
}
