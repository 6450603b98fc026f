package adq

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/nmr-lab-core/internal/spectrometer"
)

// Gateway message types.
const (
	MsgOpen       uint16 = 0x0001
	MsgClose      uint16 = 0x0002
	MsgWriteReg   uint16 = 0x0101
	MsgReadReg    uint16 = 0x0102
	MsgArm        uint16 = 0x0110
	MsgDisarm     uint16 = 0x0111
	MsgReadBuffer uint16 = 0x0120
)

// Gateway status codes.
const (
	StatusOK              byte = 0x00
	StatusInvalidRegister byte = 0x01
	StatusAlreadyArmed    byte = 0x02
	StatusNotTriggered    byte = 0x03
)

// Framing constants.
const (
	// sizeFieldLen is the length of the leading size field.
	sizeFieldLen = 4

	// headerSize is the size field plus the message type.
	headerSize = sizeFieldLen + 2

	// maxFrameSize bounds a frame (size field value). A full two-channel
	// record at the largest supported length fits with room to spare.
	maxFrameSize = 16 << 20
)

// EncodeMessage wraps a payload in a gateway frame.
func EncodeMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(2+len(payload))) //nolint:gosec // bounded by maxFrameSize
	binary.BigEndian.PutUint16(buf[4:6], msgType)
	copy(buf[headerSize:], payload)
	return buf
}

// ParseMessage parses a complete frame.
//
// Returns:
//   - msgType: The message type
//   - payload: The payload, aliasing data
//   - error: ErrInvalidMessage if the frame is short or its size field is wrong
func ParseMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidMessage, len(data))
	}

	declared := binary.BigEndian.Uint32(data[0:4])
	if int64(declared) != int64(len(data)-sizeFieldLen) {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, actual %d)",
			ErrInvalidMessage, declared, len(data)-sizeFieldLen)
	}

	msgType = binary.BigEndian.Uint16(data[4:6])
	return msgType, data[headerSize:], nil
}

func encodeOpen(device int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(device)) //nolint:gosec // device index is small
	return buf
}

func encodeWriteReg(reg int, value, mask uint32) []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint16(buf[0:2], uint16(reg)) //nolint:gosec // validated register index
	binary.BigEndian.PutUint32(buf[2:6], mask)
	binary.BigEndian.PutUint32(buf[6:10], value)
	return buf
}

func encodeReadReg(reg int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(reg)) //nolint:gosec // validated register index
	return buf
}

func encodeReadBuffer(samples int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(samples)) //nolint:gosec // validated sample count
	return buf
}

// splitStatus separates the status byte from a response payload and maps a
// non-zero status to an error.
func splitStatus(payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidMessage)
	}
	if err := statusError(payload[0]); err != nil {
		return nil, err
	}
	return payload[1:], nil
}

func statusError(status byte) error {
	switch status {
	case StatusOK:
		return nil
	case StatusInvalidRegister:
		return spectrometer.ErrInvalidRegister
	case StatusAlreadyArmed:
		return spectrometer.ErrAlreadyArmed
	case StatusNotTriggered:
		return spectrometer.ErrNotTriggered
	default:
		return fmt.Errorf("%w: status 0x%02X", ErrDeviceStatus, status)
	}
}

func decodeUint32(body []byte) (uint32, error) {
	if len(body) != 4 {
		return 0, fmt.Errorf("%w: want 4-byte value, got %d bytes", ErrInvalidMessage, len(body))
	}
	return binary.BigEndian.Uint32(body), nil
}

func decodeSamples(body []byte) ([]int16, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: buffer response too short", ErrInvalidMessage)
	}
	count := int(binary.BigEndian.Uint32(body[0:4]))
	data := body[4:]
	if len(data) != 2*count {
		return nil, fmt.Errorf("%w: declared %d samples, got %d bytes", ErrInvalidMessage, count, len(data))
	}

	out := make([]int16, count)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(data[2*i:])) //nolint:gosec // two's complement sample
	}
	return out, nil
}

// EncodeSamples is the gateway's buffer response body: count then samples.
// Exported for gateway fakes and tooling.
func EncodeSamples(samples []int16) []byte {
	buf := make([]byte, 4+2*len(samples))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(samples))) //nolint:gosec // bounded by maxFrameSize
	for i, s := range samples {
		binary.BigEndian.PutUint16(buf[4+2*i:], uint16(s)) //nolint:gosec // two's complement sample
	}
	return buf
}
