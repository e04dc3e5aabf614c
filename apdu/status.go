package apdu

import (
	"errors"
	"fmt"

	"github.com/tez-capital/tezbake/authz"
	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/wire"
)

// Status is the two-byte status word closing every response.
type Status uint16

const (
	StatusOk                Status = 0x9000
	StatusWrongParam        Status = 0x6B00
	StatusWrongLength       Status = 0x6C00
	StatusInvalidIns        Status = 0x6D00
	StatusWrongLengthForIns Status = 0x917E
	StatusReject            Status = 0x6985
	StatusParseError        Status = 0x9405
	StatusRefDataNotFound   Status = 0x6A88
	StatusWrongValues       Status = 0x6A80
	StatusSecurity          Status = 0x6982
	StatusClass             Status = 0x6E00
	StatusMemoryError       Status = 0x9200
	StatusUnknown           Status = 0x9001
)

var statusNames = map[Status]string{
	StatusOk:                "ok",
	StatusWrongParam:        "wrong parameter",
	StatusWrongLength:       "wrong length",
	StatusInvalidIns:        "invalid instruction",
	StatusWrongLengthForIns: "wrong length for instruction",
	StatusReject:            "rejected",
	StatusParseError:        "parse error",
	StatusRefDataNotFound:   "referenced data not found",
	StatusWrongValues:       "wrong values",
	StatusSecurity:          "security",
	StatusClass:             "unsupported class",
	StatusMemoryError:       "memory error",
	StatusUnknown:           "unknown error",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return fmt.Sprintf("%s (0x%04X)", n, uint16(s))
	}
	return fmt.Sprintf("0x%04X", uint16(s))
}

// StatusError carries an explicit status word through an error chain.
type StatusError struct {
	Status Status
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func Errorf(s Status, format string, args ...any) error {
	return &StatusError{Status: s, Err: fmt.Errorf(format, args...)}
}

// StatusFromError maps an error from the engine, parser or keyring to the
// status word reported to the host. Watermark violations all map to
// WrongValues so a caller cannot tell them apart.
func StatusFromError(err error) Status {
	var se *StatusError
	switch {
	case err == nil:
		return StatusOk
	case errors.As(err, &se):
		return se.Status
	case errors.Is(err, baking.ErrParse):
		return StatusParseError
	case errors.Is(err, authz.ErrInvalidLevel),
		errors.Is(err, authz.ErrExpiredLevel),
		errors.Is(err, authz.ErrExpiredRound),
		errors.Is(err, authz.ErrAlreadyAttested):
		return StatusWrongValues
	case errors.Is(err, authz.ErrKeyMismatch):
		return StatusSecurity
	case errors.Is(err, authz.ErrUserRejected):
		return StatusReject
	case errors.Is(err, authz.ErrStorage):
		return StatusMemoryError
	case errors.Is(err, authz.ErrNoCurve), errors.Is(err, keychain.ErrUnknownCurve):
		return StatusRefDataNotFound
	case errors.Is(err, authz.ErrWrongLength):
		return StatusWrongLength
	case errors.Is(err, keychain.ErrPathTooLong),
		errors.Is(err, wire.ErrTruncated),
		errors.Is(err, wire.ErrTrailingData):
		return StatusWrongLengthForIns
	case errors.Is(err, authz.ErrInvalidKey):
		return StatusWrongParam
	case errors.Is(err, ErrBadClass):
		return StatusClass
	default:
		return StatusUnknown
	}
}
