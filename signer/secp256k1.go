package signer

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

type secp256k1Key struct {
	priv *secp256k1.PrivateKey
}

func newSecp256k1Key(secret []byte) (*secp256k1Key, error) {
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(secret); overflow || s.IsZero() {
		return nil, ErrBadSecret
	}
	return &secp256k1Key{priv: secp256k1.NewPrivateKey(&s)}, nil
}

func (k *secp256k1Key) Scheme() Scheme { return Secp256k1 }

// PublicKey returns the 33-byte compressed point.
func (k *secp256k1Key) PublicKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// Sign returns R || S (64 bytes). The RFC 6979 signature is already low-S.
func (k *secp256k1Key) Sign(msg []byte) ([]byte, error) {
	compact := ecdsa.SignCompact(k.priv, Digest(msg), true)
	// first byte is the recovery code
	return compact[1:], nil
}

func verifySecp256k1(pub, sig, digest []byte) bool {
	if len(sig) != 64 {
		return false
	}
	pk, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
		return false
	}
	return ecdsa.NewSignature(&r, &s).Verify(digest, pk)
}
