package message

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrFieldTooLong      = errors.New("message: field exceeds encoded length")
	ErrAgentIDOutOfRange = errors.New("message: agent id out of range")
	ErrUnknownTag        = errors.New("message: unknown tag")
	ErrShortPayload      = errors.New("message: payload too short")
)

const (
	addressFieldSize  = 64
	deviceIDFieldSize = 32
	modeFieldSize     = 32
	nameFieldSize     = 128

	// MaxAddressLength is the longest host or IP address that fits in an
	// address field; one byte is kept for the terminating zero.
	MaxAddressLength = addressFieldSize - 1

	MinAgentID = 0
	MaxAgentID = 255
)

// ValidateAddress reports whether addr fits the encoded address field.
//
// Parameters:
//   - addr: Host name or IP address
//
// Returns:
//   - nil if it fits, otherwise an error wrapping ErrFieldTooLong
func ValidateAddress(addr string) error {
	return validateString("address", addr, addressFieldSize)
}

// ValidateAgentID reports whether id is within [MinAgentID, MaxAgentID].
//
// Parameters:
//   - id: Agent identifier
//
// Returns:
//   - nil if it is in range, otherwise an error wrapping ErrAgentIDOutOfRange
func ValidateAgentID(id int) error {
	if id < MinAgentID || id > MaxAgentID {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrAgentIDOutOfRange, id, MinAgentID, MaxAgentID)
	}

	return nil
}

func validateString(field, s string, size int) error {
	if len(s) > size-1 {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFieldTooLong, field, len(s), size-1)
	}

	return nil
}

// putString writes s into a zero-padded field of the given size.
func putString(b []byte, s string, size int) []byte {
	field := make([]byte, size)
	copy(field, s)
	return append(b, field...)
}

// getString reads a zero-terminated string from a field of the given size and
// returns the remaining bytes.
func getString(b []byte, size int) (string, []byte, error) {
	if len(b) < size {
		return "", nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortPayload, size, len(b))
	}

	field := b[:size]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}

	return string(field), b[size:], nil
}

func getByte(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, nil, fmt.Errorf("%w: need 1 byte, have 0", ErrShortPayload)
	}

	return b[0], b[1:], nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}

	return 0
}
