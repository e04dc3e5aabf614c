package apdu

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/tez-capital/tezbake/authz"
	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/wire"
)

func TestCommandRoundTrip(t *testing.T) {
	c := Command{INS: InsSign, P1: P1Last | P1Next, P2: 3, Data: []byte{0x11, 0x22}}
	raw, err := c.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte{0x80, 0x04, 0x81, 0x03, 0x02, 0x11, 0x22}) {
		t.Fatalf("encoded %x", raw)
	}
	back, err := ParseCommand(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.INS != c.INS || back.P1 != c.P1 || back.P2 != c.P2 || !bytes.Equal(back.Data, c.Data) {
		t.Fatalf("decoded %+v", back)
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"short", []byte{0x80, 0x00}, ErrShortCommand},
		{"class", []byte{0xE0, 0x00, 0x00, 0x00, 0x00}, ErrBadClass},
		{"lc too big", []byte{0x80, 0x00, 0x00, 0x00, 0x02, 0x01}, ErrLengthMismatch},
		{"lc too small", []byte{0x80, 0x00, 0x00, 0x00, 0x00, 0x01}, ErrLengthMismatch},
	}
	for _, tt := range tests {
		if _, err := ParseCommand(tt.raw); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}

	if _, err := (Command{Data: make([]byte, MaxData+1)}).MarshalBinary(); !errors.Is(err, ErrDataTooLong) {
		t.Fatalf("oversized data: %v", err)
	}
}

func TestResponse(t *testing.T) {
	raw := Respond([]byte{1, 2}, StatusOk)
	data, sw, err := ParseResponse(raw)
	if err != nil || sw != StatusOk || !bytes.Equal(data, []byte{1, 2}) {
		t.Fatalf("data %x sw %v err %v", data, sw, err)
	}
	if _, _, err := ParseResponse([]byte{0x90}); !errors.Is(err, ErrShortResponse) {
		t.Fatalf("got %v", err)
	}
	if _, sw, _ := ParseResponse(Respond(nil, StatusSecurity)); sw != StatusSecurity {
		t.Fatalf("sw %v", sw)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOk},
		{errors.Join(baking.ErrParse, wire.ErrTrailingData), StatusParseError},
		{authz.ErrInvalidLevel, StatusWrongValues},
		{fmt.Errorf("wrap: %w", authz.ErrExpiredLevel), StatusWrongValues},
		{authz.ErrExpiredRound, StatusWrongValues},
		{authz.ErrAlreadyAttested, StatusWrongValues},
		{authz.ErrKeyMismatch, StatusSecurity},
		{authz.ErrUserRejected, StatusReject},
		{errors.Join(authz.ErrStorage, errors.New("eio")), StatusMemoryError},
		{authz.ErrNoCurve, StatusRefDataNotFound},
		{keychain.ErrUnknownCurve, StatusRefDataNotFound},
		{authz.ErrWrongLength, StatusWrongLength},
		{keychain.ErrPathTooLong, StatusWrongLengthForIns},
		{Errorf(StatusInvalidIns, "ins 0x%02x", 0x42), StatusInvalidIns},
		{errors.New("something else"), StatusUnknown},
	}
	for _, tt := range tests {
		if got := StatusFromError(tt.err); got != tt.want {
			t.Errorf("%v: got %v, want %v", tt.err, got, tt.want)
		}
	}
}
