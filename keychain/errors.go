package keychain

import "errors"

var (
	ErrUnknownCurve = errors.New("unknown curve")
	ErrPathTooLong  = errors.New("derivation path too long")
	ErrBadPath      = errors.New("malformed derivation path")
	ErrKeyUnset     = errors.New("key has no derivation type")
	ErrSeedTooShort = errors.New("seed must be at least 32 bytes")
)
