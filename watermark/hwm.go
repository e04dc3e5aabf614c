// Package watermark keeps the per-chain high water marks and the authorized
// baking key, and commits them to non-volatile storage as one record.
package watermark

import (
	"errors"
	"fmt"

	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
)

var (
	ErrExpiredLevel    = errors.New("level below high water mark")
	ErrExpiredRound    = errors.New("round below high water mark")
	ErrAlreadyAttested = errors.New("already attested at this level and round")
)

// HighWaterMark is the highest (level, round) a signature was authorized for
// on one chain. HadAttestation is only meaningful for that exact pair.
type HighWaterMark struct {
	Level          baking.Level
	Round          baking.Round
	HadAttestation bool
}

func (h HighWaterMark) String() string {
	return fmt.Sprintf("%d/%d attested=%t", h.Level, h.Round, h.HadAttestation)
}

// Advance returns the mark that results from authorizing an operation of the
// given kind at (level, round), or the reason it must be refused. It never
// moves backwards. Moving to a higher level or a higher round clears
// HadAttestation; blocks and preattestations at the current pair are
// re-authorized unchanged.
func (h HighWaterMark) Advance(kind baking.OperationKind, level baking.Level, round baking.Round) (HighWaterMark, error) {
	attest := kind == baking.Attestation

	switch {
	case level < h.Level:
		return h, fmt.Errorf("%w: %d < %d", ErrExpiredLevel, level, h.Level)
	case level > h.Level:
		return HighWaterMark{Level: level, Round: round, HadAttestation: attest}, nil
	case round < h.Round:
		return h, fmt.Errorf("%w: %d < %d at level %d", ErrExpiredRound, round, h.Round, level)
	case round > h.Round:
		return HighWaterMark{Level: level, Round: round, HadAttestation: attest}, nil
	case attest && h.HadAttestation:
		return h, fmt.Errorf("%w: %d/%d", ErrAlreadyAttested, level, round)
	default:
		return HighWaterMark{Level: level, Round: round, HadAttestation: h.HadAttestation || attest}, nil
	}
}

// Baseline is the mark a reset leaves behind.
func Baseline(level baking.Level) HighWaterMark {
	return HighWaterMark{Level: level}
}

// State is everything the device persists: both chains' marks, the chain id
// classified as main and the key allowed to bake.
type State struct {
	MainChainID baking.ChainID
	Main        HighWaterMark
	Test        HighWaterMark
	Key         keychain.Key
}

func (s State) Watermark(c baking.Chain) HighWaterMark {
	if c == baking.Test {
		return s.Test
	}
	return s.Main
}

// WithWatermark returns a copy of s with chain c's mark replaced.
func (s State) WithWatermark(c baking.Chain, h HighWaterMark) State {
	if c == baking.Test {
		s.Test = h
	} else {
		s.Main = h
	}
	return s
}
