package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
)

type p256Key struct {
	priv *ecdsa.PrivateKey
}

func newP256Key(secret []byte) (*p256Key, error) {
	priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), secret)
	if err != nil {
		return nil, ErrBadSecret
	}
	return &p256Key{priv: priv}, nil
}

func (k *p256Key) Scheme() Scheme { return P256 }

// PublicKey returns the 33-byte compressed point.
func (k *p256Key) PublicKey() []byte {
	return elliptic.MarshalCompressed(elliptic.P256(), k.priv.X, k.priv.Y)
}

// Sign returns R || S (64 bytes) with S normalized to the lower half.
func (k *p256Key) Sign(msg []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, k.priv, Digest(msg))
	if err != nil {
		return nil, err
	}
	n := elliptic.P256().Params().N
	if s.Cmp(new(big.Int).Rsh(n, 1)) > 0 {
		s.Sub(n, s)
	}
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

func verifyP256(pub, sig, digest []byte) bool {
	if len(sig) != 64 {
		return false
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pub)
	if x == nil {
		return false
	}
	pk := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pk, digest, r, s)
}
