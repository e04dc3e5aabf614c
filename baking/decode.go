package baking

import (
	"encoding/binary"
	"fmt"

	"github.com/tez-capital/tezbake/wire"
)

// Watermark bytes prefixed to every payload a baker asks us to sign.
const (
	MagicManagerOperation byte = 0x03
	MagicBlock            byte = 0x11
	MagicPreattestation   byte = 0x12
	MagicAttestation      byte = 0x13
)

// Consensus operation tags.
const (
	tagPreattestation        byte = 20
	tagAttestation           byte = 21
	tagAttestationWithDAL    byte = 23
	tenderbakeFitnessVersion byte = 2

	fitnessSizeNoLockedRound = 33
	fitnessSizeLockedRound   = 37

	hashLen = 32
)

// ParseSignPayload dispatches on the watermark byte and returns the baking
// data of a Tenderbake block, preattestation or attestation.
//
// Supported watermarks:
//
//	0x11 block
//	0x12 preattestation
//	0x13 attestation
//
// Manager operations (0x03) are refused: the device only signs consensus data.
func ParseSignPayload(raw []byte, main ChainID) (ParsedBakingData, error) {
	if len(raw) < 1 {
		return ParsedBakingData{}, parseErr(ErrEmptyPayload)
	}

	body := raw[1:]
	switch raw[0] {
	case MagicBlock:
		return ParseBlock(body, main)
	case MagicPreattestation:
		return ParseConsensusOperation(body, false, main)
	case MagicAttestation:
		return ParseConsensusOperation(body, true, main)
	default:
		return ParsedBakingData{}, parseErr(fmt.Errorf("%w 0x%02x", ErrUnsupportedMagic, raw[0]))
	}
}

// ParseBlock decodes an unsigned Tenderbake block header (watermark byte
// already stripped):
//
//	chain_id(4) | level(4) | proto(1) | predecessor(32) | timestamp(8) |
//	validation_passes(1) | operations_hash(32) | fitness | context(32) |
//	payload_hash(32) | payload_round(4) | pow_nonce(8) |
//	seed_nonce_hash(option 32) | per_block_votes(1)
func ParseBlock(buf []byte, main ChainID) (ParsedBakingData, error) {
	r := wire.NewReader(buf)

	chainID, err := r.U32()
	if err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	level, err := r.U32()
	if err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	// proto, predecessor, timestamp, validation passes, operations hash
	if err := r.Skip(1 + hashLen + 8 + 1 + hashLen); err != nil {
		return ParsedBakingData{}, parseErr(err)
	}

	round, err := fitnessRound(r)
	if err != nil {
		return ParsedBakingData{}, parseErr(err)
	}

	// context, payload hash, payload round, proof of work nonce
	if err := r.Skip(hashLen + hashLen + 4 + 8); err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	if err := skipOptionalHash(r); err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	// per block votes
	if err := r.Skip(1); err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	if err := r.Finish(); err != nil {
		return ParsedBakingData{}, parseErr(err)
	}

	return newParsed(Block, ChainID(chainID), main, Level(level), round)
}

// fitnessRound reads a Tenderbake fitness and returns its current round.
//
//	size(4) = 33 | 37
//	[4]1      tag = 2
//	[4]4      level
//	[4]0|4    locked_round
//	[4]4      predecessor_round
//	[4]4      current_round
func fitnessRound(r *wire.Reader) (Round, error) {
	size, err := r.U32()
	if err != nil {
		return 0, err
	}
	if size != fitnessSizeNoLockedRound && size != fitnessSizeLockedRound {
		return 0, fmt.Errorf("%w: size %d", ErrBadFitness, size)
	}
	start := r.Offset()

	tag, err := fitnessComponent(r, 1, 1)
	if err != nil {
		return 0, err
	}
	if tag[0] != tenderbakeFitnessVersion {
		return 0, fmt.Errorf("%w: version %d", ErrBadFitness, tag[0])
	}
	if _, err := fitnessComponent(r, 4, 4); err != nil { // level
		return 0, err
	}
	if _, err := fitnessComponent(r, 0, 4); err != nil { // locked round
		return 0, err
	}
	if _, err := fitnessComponent(r, 4, 4); err != nil { // predecessor round
		return 0, err
	}
	cur, err := fitnessComponent(r, 4, 4)
	if err != nil {
		return 0, err
	}

	if r.Offset()-start != int(size) {
		return 0, fmt.Errorf("%w: size mismatch", ErrBadFitness)
	}

	return Round(binary.BigEndian.Uint32(cur)), nil
}

// fitnessComponent reads one length-prefixed component whose length must be
// either a or b.
func fitnessComponent(r *wire.Reader, a, b uint32) ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if n != a && n != b {
		return nil, fmt.Errorf("%w: component size %d", ErrBadFitness, n)
	}
	return r.Bytes(int(n))
}

func skipOptionalHash(r *wire.Reader) error {
	present, err := r.U8()
	if err != nil {
		return err
	}
	switch present {
	case 0x00:
		return nil
	case 0xff:
		return r.Skip(hashLen)
	default:
		return fmt.Errorf("%w 0x%02x", ErrBadOptionTag, present)
	}
}

// ParseConsensusOperation decodes a preattestation or attestation (watermark
// byte already stripped):
//
//	chain_id(4) | branch(32) | tag(1) | slot(2) | level(4) | round(4) |
//	block_payload_hash(32) [| dal_attestation(Z) when tag = 23]
func ParseConsensusOperation(buf []byte, isAttestation bool, main ChainID) (ParsedBakingData, error) {
	r := wire.NewReader(buf)

	chainID, err := r.U32()
	if err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	if err := r.Skip(hashLen); err != nil { // branch
		return ParsedBakingData{}, parseErr(err)
	}
	tag, err := r.U8()
	if err != nil {
		return ParsedBakingData{}, parseErr(err)
	}

	kind := Preattestation
	withDAL := false
	switch {
	case !isAttestation && tag == tagPreattestation:
	case isAttestation && tag == tagAttestation:
		kind = Attestation
	case isAttestation && tag == tagAttestationWithDAL:
		kind = Attestation
		withDAL = true
	default:
		return ParsedBakingData{}, parseErr(fmt.Errorf("%w %d", ErrUnexpectedTag, tag))
	}

	if err := r.Skip(2); err != nil { // slot
		return ParsedBakingData{}, parseErr(err)
	}
	level, err := r.U32()
	if err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	round, err := r.U32()
	if err != nil {
		return ParsedBakingData{}, parseErr(err)
	}
	if err := r.Skip(hashLen); err != nil { // block payload hash
		return ParsedBakingData{}, parseErr(err)
	}
	if withDAL {
		if err := r.Zarith(); err != nil {
			return ParsedBakingData{}, parseErr(err)
		}
	}
	if err := r.Finish(); err != nil {
		return ParsedBakingData{}, parseErr(err)
	}

	return newParsed(kind, ChainID(chainID), main, Level(level), Round(round))
}

func newParsed(kind OperationKind, id, main ChainID, level Level, round Round) (ParsedBakingData, error) {
	if !IsValidLevel(level) {
		return ParsedBakingData{}, parseErr(fmt.Errorf("%w: %d", ErrInvalidLevel, level))
	}
	return ParsedBakingData{
		ChainID: id,
		Chain:   Classify(id, main),
		Kind:    kind,
		Level:   level,
		Round:   round,
	}, nil
}
