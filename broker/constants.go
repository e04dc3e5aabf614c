package broker

const (
	_  = iota
	KB = 1 << (10 * iota) // 1 << 10 = 1024
	MB                    // 1 << 20 = 1048576

	// DEFAULT_BROKER_CAPACITY is the max stash buffer before dropping oldest bytes.
	// Commands are a few hundred bytes, so this holds thousands of frames.
	DEFAULT_BROKER_CAPACITY = 1 * MB

	// MAX_MESSAGE_PAYLOAD is the largest allowed payload (excluding header).
	MAX_MESSAGE_PAYLOAD = 64 * KB

	// DEFAULT_READ_BUFFER is the size of the temporary read buffer per syscall.
	DEFAULT_READ_BUFFER = 16 * KB
)

const (
	// MagicByte to know where from to start looking
	MagicByte = 0x56

	// Header fields: magic(1) + type(1) + id(16) + size(4) + parity(1)
	HeaderLen = 1 + 1 + 16 + 4 + 1
)

type payloadType byte

const (
	payloadTypeUnknown  payloadType = 0x00
	payloadTypeRequest  payloadType = 0x01
	payloadTypeResponse payloadType = 0x02
)
