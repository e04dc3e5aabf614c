package broker

import (
	"crypto/rand"
	"encoding/binary"
)

// Frame layout, little-endian size:
//
//	magic u8 | type u8 | id [16]u8 | size u32 | parity u8 | payload[size]
//
// parity is the XOR of the 22 bytes before it.
const (
	offType   = 1
	offID     = 2
	offSize   = offID + 16
	offParity = offSize + 4
)

type Header struct {
	Type payloadType
	ID   [16]byte
	Size uint32
}

func xorParity(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

// DecodeHeader checks magic and parity of the HeaderLen bytes at src.
func DecodeHeader(src []byte) (Header, error) {
	switch {
	case len(src) < HeaderLen:
		return Header{}, ErrInvalidHeaderLength
	case src[0] != MagicByte:
		return Header{}, ErrInvalidHeaderBadMagic
	case xorParity(src[:offParity]) != src[offParity]:
		return Header{}, ErrInvalidHeaderParity
	}

	h := Header{
		Type: payloadType(src[offType]),
		Size: binary.LittleEndian.Uint32(src[offSize:offParity]),
	}
	copy(h.ID[:], src[offID:offSize])
	return h, nil
}

func NewMessageID() [16]byte {
	var id [16]byte
	_, _ = rand.Read(id[:])
	return id
}

// newMessage builds a complete frame around payload.
func newMessage(msgType payloadType, id [16]byte, payload []byte) ([]byte, error) {
	if len(payload) > MAX_MESSAGE_PAYLOAD {
		return nil, ErrEncodeHeaderPayloadLarge
	}

	frame := make([]byte, HeaderLen, HeaderLen+len(payload))
	frame[0] = MagicByte
	frame[offType] = byte(msgType)
	copy(frame[offID:offSize], id[:])
	binary.LittleEndian.PutUint32(frame[offSize:offParity], uint32(len(payload)))
	frame[offParity] = xorParity(frame[:offParity])

	return append(frame, payload...), nil
}
