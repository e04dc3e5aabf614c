// Package signer holds the curve primitives behind the device keyring and the
// Tezos base58check encodings of keys, signatures and chain ids.
package signer

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Scheme is a Tezos signature scheme. Several derivation types can share one
// scheme (ed25519 and bip32-ed25519 both produce edsig signatures).
type Scheme uint8

const (
	Ed25519 Scheme = iota
	Secp256k1
	P256
	BLS12381
)

func (s Scheme) String() string {
	switch s {
	case Ed25519:
		return "ed25519"
	case Secp256k1:
		return "secp256k1"
	case P256:
		return "p256"
	case BLS12381:
		return "bls12_381"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

var (
	ErrBadSecret    = errors.New("invalid secret scalar")
	ErrBadPublicKey = errors.New("invalid public key encoding")
	ErrBadSignature = errors.New("invalid signature encoding")
)

// PrivateKey signs Tezos payloads. Sign takes the full watermarked message;
// schemes other than BLS sign its blake2b-256 digest.
type PrivateKey interface {
	Scheme() Scheme
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// NewPrivateKey loads a 32-byte secret produced by DeriveSecret.
func NewPrivateKey(s Scheme, secret []byte) (PrivateKey, error) {
	if len(secret) != 32 {
		return nil, ErrBadSecret
	}
	switch s {
	case Ed25519:
		return newEd25519Key(secret), nil
	case Secp256k1:
		return newSecp256k1Key(secret)
	case P256:
		return newP256Key(secret)
	case BLS12381:
		return newBLSKey(secret)
	default:
		return nil, errUnknownScheme
	}
}

// Verify checks sig over msg, hashing msg first for non-BLS schemes the same
// way Sign does.
func Verify(s Scheme, pub, sig, msg []byte) bool {
	switch s {
	case Ed25519:
		return verifyEd25519(pub, sig, Digest(msg))
	case Secp256k1:
		return verifySecp256k1(pub, sig, Digest(msg))
	case P256:
		return verifyP256(pub, sig, Digest(msg))
	case BLS12381:
		return VerifyCompressed(pub, sig, msg)
	default:
		return false
	}
}

// Digest is the blake2b-256 hash Tezos signs for ed25519, secp256k1 and P-256.
func Digest(msg []byte) []byte {
	h := blake2b.Sum256(msg)
	return h[:]
}
