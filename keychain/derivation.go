package keychain

import (
	"fmt"

	"github.com/tez-capital/tezbake/signer"
)

// DerivationType identifies the curve and derivation scheme of a key.
// Unset is the zero value and never names a usable key.
type DerivationType uint8

const (
	Unset DerivationType = iota
	Secp256k1
	Secp256r1
	Ed25519
	Bip32Ed25519
	BLS12381
)

// Curve codes carried in P2 of key-selecting commands.
const (
	curveEd25519      byte = 0
	curveSecp256k1    byte = 1
	curveSecp256r1    byte = 2
	curveBip32Ed25519 byte = 3
	curveBLS12381     byte = 4
)

// ParseCurveCode maps a wire curve code to its derivation type.
func ParseCurveCode(c byte) (DerivationType, error) {
	switch c {
	case curveEd25519:
		return Ed25519, nil
	case curveSecp256k1:
		return Secp256k1, nil
	case curveSecp256r1:
		return Secp256r1, nil
	case curveBip32Ed25519:
		return Bip32Ed25519, nil
	case curveBLS12381:
		return BLS12381, nil
	default:
		return Unset, fmt.Errorf("%w: code %d", ErrUnknownCurve, c)
	}
}

// CurveCode is the inverse of ParseCurveCode.
func (d DerivationType) CurveCode() (byte, error) {
	switch d {
	case Ed25519:
		return curveEd25519, nil
	case Secp256k1:
		return curveSecp256k1, nil
	case Secp256r1:
		return curveSecp256r1, nil
	case Bip32Ed25519:
		return curveBip32Ed25519, nil
	case BLS12381:
		return curveBLS12381, nil
	default:
		return 0, ErrUnknownCurve
	}
}

// Scheme returns the signature scheme a key of this type signs with.
func (d DerivationType) Scheme() (signer.Scheme, error) {
	switch d {
	case Ed25519, Bip32Ed25519:
		return signer.Ed25519, nil
	case Secp256k1:
		return signer.Secp256k1, nil
	case Secp256r1:
		return signer.P256, nil
	case BLS12381:
		return signer.BLS12381, nil
	default:
		return 0, ErrUnknownCurve
	}
}

func (d DerivationType) String() string {
	switch d {
	case Unset:
		return "unset"
	case Secp256k1:
		return "secp256k1"
	case Secp256r1:
		return "secp256r1"
	case Ed25519:
		return "ed25519"
	case Bip32Ed25519:
		return "bip32-ed25519"
	case BLS12381:
		return "bls12-381"
	default:
		return fmt.Sprintf("derivation(%d)", uint8(d))
	}
}

// ParseDerivationType accepts the names printed by String.
func ParseDerivationType(s string) (DerivationType, error) {
	for d := Secp256k1; d <= BLS12381; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	return Unset, fmt.Errorf("%w: %q", ErrUnknownCurve, s)
}
