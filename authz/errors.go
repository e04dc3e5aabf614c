package authz

import (
	"errors"

	"github.com/tez-capital/tezbake/watermark"
)

var (
	ErrInvalidKey   = errors.New("invalid baking key")
	ErrKeyMismatch  = errors.New("key is not the authorized baking key")
	ErrInvalidLevel = errors.New("level out of range")
	ErrUserRejected = errors.New("rejected by user")
	ErrStorage      = errors.New("storage commit failed")
	ErrWrongLength  = errors.New("authorized key path exceeds its bound")
	ErrNoCurve      = errors.New("no authorized key")

	// Watermark violations. Never retried, never bypassed.
	ErrExpiredLevel    = watermark.ErrExpiredLevel
	ErrExpiredRound    = watermark.ErrExpiredRound
	ErrAlreadyAttested = watermark.ErrAlreadyAttested
)
