package watermark

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/wire"
)

// Record layout, all integers big-endian:
//
//	main_chain_id  u32
//	main           level u32 | round u32 | flags u8
//	test           level u32 | round u32 | flags u8
//	key            derivation u8 | path length u8 | MaxPathLength x u32
//	crc32 (IEEE)   u32 over everything above
//
// The record is not versioned. A layout change needs a reset.
const (
	hwmSize    = 4 + 4 + 1
	keySize    = 1 + 1 + 4*keychain.MaxPathLength
	bodySize   = 4 + 2*hwmSize + keySize
	RecordSize = bodySize + 4
)

const flagHadAttestation = 1 << 0

var (
	ErrBadRecordSize = errors.New("watermark record has wrong size")
	ErrCorruptRecord = errors.New("watermark record is corrupt")
)

// Encode serializes s into a RecordSize byte record.
func Encode(s State) []byte {
	b := make([]byte, 0, RecordSize)
	b = binary.BigEndian.AppendUint32(b, uint32(s.MainChainID))
	b = appendHWM(b, s.Main)
	b = appendHWM(b, s.Test)

	b = append(b, byte(s.Key.Type))
	comps := s.Key.Path.Components()
	b = append(b, byte(len(comps)))
	var slots [keychain.MaxPathLength]uint32
	copy(slots[:], comps)
	for _, c := range slots {
		b = binary.BigEndian.AppendUint32(b, c)
	}

	return binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
}

func appendHWM(b []byte, h HighWaterMark) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(h.Level))
	b = binary.BigEndian.AppendUint32(b, uint32(h.Round))
	var flags byte
	if h.HadAttestation {
		flags |= flagHadAttestation
	}
	return append(b, flags)
}

// Decode parses a record produced by Encode.
func Decode(raw []byte) (State, error) {
	if len(raw) != RecordSize {
		return State{}, fmt.Errorf("%w: %d bytes, want %d", ErrBadRecordSize, len(raw), RecordSize)
	}
	if crc32.ChecksumIEEE(raw[:bodySize]) != binary.BigEndian.Uint32(raw[bodySize:]) {
		return State{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}

	// the length check above makes every read below infallible
	r := wire.NewReader(raw[:bodySize])
	var s State
	id, _ := r.U32()
	s.MainChainID = baking.ChainID(id)

	var err error
	if s.Main, err = readHWM(r); err != nil {
		return State{}, err
	}
	if s.Test, err = readHWM(r); err != nil {
		return State{}, err
	}

	typ, _ := r.U8()
	if keychain.DerivationType(typ) > keychain.BLS12381 {
		return State{}, fmt.Errorf("%w: derivation type %d", ErrCorruptRecord, typ)
	}
	n, _ := r.U8()
	var slots [keychain.MaxPathLength]uint32
	for i := range slots {
		slots[i], _ = r.U32()
	}
	if int(n) > keychain.MaxPathLength {
		return State{}, fmt.Errorf("%w: path length %d", ErrCorruptRecord, n)
	}
	path, err := keychain.NewPath(slots[:n]...)
	if err != nil {
		return State{}, errors.Join(ErrCorruptRecord, err)
	}
	s.Key = keychain.Key{Type: keychain.DerivationType(typ), Path: path}
	return s, nil
}

func readHWM(r *wire.Reader) (HighWaterMark, error) {
	level, _ := r.U32()
	round, _ := r.U32()
	flags, _ := r.U8()
	if flags&^flagHadAttestation != 0 {
		return HighWaterMark{}, fmt.Errorf("%w: flags %#02x", ErrCorruptRecord, flags)
	}
	if !baking.IsValidLevel(baking.Level(level)) {
		return HighWaterMark{}, fmt.Errorf("%w: level %d", ErrCorruptRecord, level)
	}
	return HighWaterMark{
		Level:          baking.Level(level),
		Round:          baking.Round(round),
		HadAttestation: flags&flagHadAttestation != 0,
	}, nil
}
