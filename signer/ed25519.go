package signer

import "crypto/ed25519"

type ed25519Key struct {
	priv ed25519.PrivateKey
}

// The derived secret is used as the RFC 8032 seed.
func newEd25519Key(secret []byte) *ed25519Key {
	return &ed25519Key{priv: ed25519.NewKeyFromSeed(secret)}
}

func (k *ed25519Key) Scheme() Scheme { return Ed25519 }

func (k *ed25519Key) PublicKey() []byte {
	return append([]byte(nil), k.priv.Public().(ed25519.PublicKey)...)
}

func (k *ed25519Key) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, Digest(msg)), nil
}

func verifyEd25519(pub, sig, digest []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, digest, sig)
}
