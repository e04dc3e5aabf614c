// Package apdu frames device commands and responses.
//
//	command:  CLA(0x80) | INS | P1 | P2 | LC | DATA[LC]
//	response: DATA | SW (u16 big-endian)
package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const CLA uint8 = 0x80 // Always the same for every command

// Instructions
const (
	InsVersion               uint8 = 0x00 // Get version information
	InsAuthorizeBaking       uint8 = 0x01 // Authorize baking
	InsGetPublicKey          uint8 = 0x02 // Get a public key
	InsPromptPublicKey       uint8 = 0x03 // Show a public key to the operator and return it
	InsSign                  uint8 = 0x04 // Sign a baking payload
	InsReset                 uint8 = 0x06 // Reset high water marks
	InsQueryAuthKey          uint8 = 0x07 // Get the authorized baking key path
	InsQueryMainHWM          uint8 = 0x08 // Get the main chain high water mark
	InsGitCommit             uint8 = 0x09 // Get the commit the firmware was built from
	InsSetup                 uint8 = 0x0a // Setup chain id, high water marks and key
	InsQueryAllHWM           uint8 = 0x0b // Get both high water marks and the chain id
	InsDeauthorize           uint8 = 0x0c // Deauthorize baking
	InsQueryAuthKeyWithCurve uint8 = 0x0d // Get the authorized baking key with its curve
	InsSignWithHash          uint8 = 0x0f // Sign and prepend the payload hash
)

// Sign packet markers carried in P1.
const (
	P1First uint8 = 0x00 // selects the key, path in DATA
	P1Next  uint8 = 0x01
	P1Last  uint8 = 0x80 // or-ed into P1 on the final packet
)

const (
	headerSize = 5
	MaxData    = 0xff
)

var (
	ErrShortCommand   = errors.New("command shorter than header")
	ErrLengthMismatch = errors.New("LC does not match data length")
	ErrDataTooLong    = errors.New("data longer than 255 bytes")
	ErrShortResponse  = errors.New("response shorter than status word")
	ErrBadClass       = errors.New("unsupported class")
)

type Command struct {
	INS  uint8
	P1   uint8
	P2   uint8
	Data []byte
}

// ParseCommand decodes raw. Data aliases raw.
func ParseCommand(raw []byte) (Command, error) {
	if len(raw) < headerSize {
		return Command{}, ErrShortCommand
	}
	if raw[0] != CLA {
		return Command{}, fmt.Errorf("%w 0x%02x", ErrBadClass, raw[0])
	}
	if int(raw[4]) != len(raw)-headerSize {
		return Command{}, fmt.Errorf("%w: LC %d, data %d", ErrLengthMismatch, raw[4], len(raw)-headerSize)
	}
	return Command{INS: raw[1], P1: raw[2], P2: raw[3], Data: raw[headerSize:]}, nil
}

// MarshalBinary encodes the command for writing to the device.
func (c Command) MarshalBinary() ([]byte, error) {
	if len(c.Data) > MaxData {
		return nil, ErrDataTooLong
	}
	b := make([]byte, headerSize, headerSize+len(c.Data))
	b[0] = CLA
	b[1] = c.INS
	b[2] = c.P1
	b[3] = c.P2
	b[4] = byte(len(c.Data))
	return append(b, c.Data...), nil
}

// Respond appends the status word to data.
func Respond(data []byte, sw Status) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return binary.BigEndian.AppendUint16(out, uint16(sw))
}

// ParseResponse splits a response into data and status word.
func ParseResponse(raw []byte) ([]byte, Status, error) {
	if len(raw) < 2 {
		return nil, 0, ErrShortResponse
	}
	n := len(raw) - 2
	return raw[:n], Status(binary.BigEndian.Uint16(raw[n:])), nil
}
