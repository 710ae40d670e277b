package channel

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
)

type frameKind byte

const (
	frameHello   frameKind = 1 // [nonce][identity]
	frameWelcome frameKind = 2 // [nonce][session id]
	frameData    frameKind = 3 // [encoded message]
	frameBye     frameKind = 4
)

const (
	nonceSize    = 16
	identitySize = 32
	sessionSize  = 64
)

var errBadFrame = errors.New("channel: malformed frame")

func helloFrame(nonce uuid.UUID, identity string) []byte {
	b := make([]byte, 1+nonceSize+identitySize)
	b[0] = byte(frameHello)
	copy(b[1:], nonce[:])
	copy(b[1+nonceSize:], identity)
	return b
}

func welcomeFrame(nonce uuid.UUID, sessionID string) []byte {
	b := make([]byte, 1+nonceSize+sessionSize)
	b[0] = byte(frameWelcome)
	copy(b[1:], nonce[:])
	copy(b[1+nonceSize:], sessionID)
	return b
}

func dataFrame(payload []byte) []byte {
	b := make([]byte, 0, 1+len(payload))
	b = append(b, byte(frameData))
	return append(b, payload...)
}

func byeFrame() []byte {
	return []byte{byte(frameBye)}
}

// parseNonced splits a hello or welcome body into its nonce and text field.
func parseNonced(body []byte, size int) (uuid.UUID, string, error) {
	var nonce uuid.UUID
	if len(body) < nonceSize+size {
		return nonce, "", errBadFrame
	}

	copy(nonce[:], body[:nonceSize])
	text := body[nonceSize : nonceSize+size]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}

	return nonce, string(text), nil
}
