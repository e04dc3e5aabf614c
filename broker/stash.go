package broker

import (
	"bytes"
	"errors"
	"log/slog"
)

// stash accumulates raw link bytes and cuts frames out of them. It is bounded:
// when full, the oldest bytes go first.
type stash struct {
	buf      bytes.Buffer
	capacity int
	logger   *slog.Logger
}

func newStash(size int, logger *slog.Logger) *stash {
	return &stash{capacity: size, logger: logger}
}

func (s *stash) Write(data []byte) (int, error) {
	if over := s.buf.Len() + len(data) - s.capacity; over > 0 {
		s.buf.Next(over)
		s.logger.Warn("stash full, dropped oldest bytes",
			slog.Int("dropped", over), slog.Int("capacity", s.capacity))
	}
	return s.buf.Write(data)
}

// seekMagic discards everything before the next magic byte. Without one, all
// but a partial header's worth of tail is dropped.
func (s *stash) seekMagic() bool {
	idx := bytes.IndexByte(s.buf.Bytes(), MagicByte)
	if idx < 0 {
		if keep := HeaderLen - 1; s.buf.Len() > keep {
			s.buf.Next(s.buf.Len() - keep)
		}
		return false
	}
	s.buf.Next(idx)
	return true
}

// ReadPayload returns the next complete frame. ErrNoPayloadFound and
// ErrIncompletePayload mean more bytes are needed; other errors mean some
// bytes were skipped and the caller should try again.
func (s *stash) ReadPayload() ([16]byte, payloadType, []byte, error) {
	var none [16]byte
	if !s.seekMagic() {
		return none, payloadTypeUnknown, nil, ErrNoPayloadFound
	}

	data := s.buf.Bytes()
	if len(data) < HeaderLen {
		return none, payloadTypeUnknown, nil, ErrIncompletePayload
	}

	h, err := DecodeHeader(data)
	if err != nil {
		// a payload byte that happens to equal the magic
		s.buf.Next(1)
		return none, payloadTypeUnknown, nil, errors.Join(ErrInvalidPayload, err)
	}
	if h.Size > MAX_MESSAGE_PAYLOAD {
		// Skip the header only. Skipping the claimed size would let a forged
		// header swallow the valid frames behind it.
		s.logger.Warn("oversized frame dropped", slog.Uint64("size", uint64(h.Size)), slog.Int("limit", MAX_MESSAGE_PAYLOAD))
		s.buf.Next(HeaderLen)
		return none, payloadTypeUnknown, nil, ErrInvalidPayloadSize
	}
	if len(data) < HeaderLen+int(h.Size) {
		return none, payloadTypeUnknown, nil, ErrIncompletePayload
	}

	s.buf.Next(HeaderLen)
	raw := s.buf.Next(int(h.Size))
	payload := bytes.Clone(raw)
	// payloads carry signing requests; the caller clears its copy
	clear(raw)

	s.logger.Debug("frame received", slog.Int("type", int(h.Type)), slog.Int("size", len(payload)))
	return h.ID, h.Type, payload, nil
}
