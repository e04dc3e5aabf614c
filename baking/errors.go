package baking

import "errors"

var (
	// ErrParse wraps every decoding failure so callers can classify with errors.Is.
	ErrParse = errors.New("parse error")

	ErrEmptyPayload     = errors.New("empty payload")
	ErrUnsupportedMagic = errors.New("unsupported watermark byte")
	ErrBadFitness       = errors.New("malformed fitness")
	ErrUnexpectedTag    = errors.New("unexpected operation tag")
	ErrBadOptionTag     = errors.New("malformed option tag")
	ErrInvalidLevel     = errors.New("level out of range")
)

func parseErr(err error) error {
	return errors.Join(ErrParse, err)
}
