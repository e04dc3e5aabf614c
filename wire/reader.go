// Package wire reads fixed-width big-endian fields from untrusted payloads.
//
// A Reader never looks past the end of its buffer and never advances on a
// failed read, so a caller can abort a parse at any point without cleanup.
package wire

import (
	"encoding/binary"
	"errors"
)

var (
	ErrTruncated     = errors.New("truncated input")
	ErrTrailingData  = errors.New("trailing data")
	ErrNegativeSkip  = errors.New("negative skip")
	ErrZarithTooLong = errors.New("zarith integer too long")
)

// maxZarithBytes bounds variable-length integers; 10 bytes carry 70 bits,
// more than any field we ever skip.
const maxZarithBytes = 10

type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSkip
	}
	if r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bytes returns the next n bytes. The slice aliases the reader's buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}

func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

// Zarith skips a Tezos variable-length integer (7 bits per byte, high bit
// set on every byte but the last).
func (r *Reader) Zarith() error {
	for i := 0; i < r.Remaining(); i++ {
		if i >= maxZarithBytes {
			return ErrZarithTooLong
		}
		if r.buf[r.off+i]&0x80 == 0 {
			r.off += i + 1
			return nil
		}
	}
	return ErrTruncated
}

// Finish reports ErrTrailingData unless the whole buffer has been consumed.
func (r *Reader) Finish() error {
	if r.Remaining() != 0 {
		return ErrTrailingData
	}
	return nil
}
