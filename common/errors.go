package common

import (
	"errors"
	"fmt"

	"github.com/tez-capital/tezbake/apdu"
)

var (
	ErrNoAuthorizedKey = errors.New("no authorized baking key")
	ErrBadResponse     = errors.New("malformed device response")
	ErrNotBaking       = errors.New("device firmware is not a baking app")
)

// RemoteError is a non-ok status word returned by the device.
type RemoteError struct {
	Code apdu.Status
	Msg  string
}

func (e *RemoteError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("device: %s", e.Code)
	}
	return fmt.Sprintf("device: %s: %s", e.Msg, e.Code)
}

// Is matches another RemoteError with the same code.
func (e *RemoteError) Is(target error) bool {
	var re *RemoteError
	return errors.As(target, &re) && re.Code == e.Code
}

// StatusOf returns the device status carried by err, or false.
func StatusOf(err error) (apdu.Status, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}
