package broker

import "errors"

var (
	// stash
	ErrNoPayloadFound     = errors.New("broker: no payload found")
	ErrIncompletePayload  = errors.New("broker: incomplete payload")
	ErrInvalidPayloadSize = errors.New("broker: invalid payload size")
	ErrInvalidPayload     = errors.New("broker: invalid payload")

	// header codec
	ErrInvalidHeaderParity      = errors.New("broker: invalid header parity")
	ErrInvalidHeaderLength      = errors.New("broker: invalid header length")
	ErrInvalidHeaderBadMagic    = errors.New("broker: bad header magic")
	ErrEncodeHeaderPayloadLarge = errors.New("broker: payload too large")
)
