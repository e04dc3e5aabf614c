package signer

import (
	blst "github.com/supranational/blst/bindings/go"
)

// ---- Domain Separation ----
var (
	// CFRG MinPk ciphersuite (Octez uses signature-in-G2 / pubkey-in-G1)
	dstMinPk = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")
)

// MinPk (minimal public key size) type aliases
type PublicKey = blst.P1Affine
type Signature = blst.P2Affine

type SecretKey = blst.SecretKey

type blsKey struct {
	sk     *SecretKey
	pubkey []byte
}

// newBLSKey loads a big-endian scalar (below r) as a blst secret key.
func newBLSKey(secret []byte) (*blsKey, error) {
	var sk SecretKey
	if sk.FromLEndian(beToLE32(secret)) == nil {
		return nil, ErrBadSecret
	}
	return &blsKey{sk: &sk, pubkey: new(PublicKey).From(&sk).Compress()}, nil
}

func (k *blsKey) Scheme() Scheme { return BLS12381 }

// PublicKey returns the 48-byte G1 compressed point.
func (k *blsKey) PublicKey() []byte {
	return append([]byte(nil), k.pubkey...)
}

// Sign returns the 96-byte G2 compressed signature over the full message.
func (k *blsKey) Sign(msg []byte) ([]byte, error) {
	return new(Signature).Sign(k.sk, msg, dstMinPk).Compress(), nil
}

// VerifyCompressed checks a single (pk, sig, msg).
func VerifyCompressed(pubkeyBytes, sigBytes, msg []byte) bool {
	var pubkey PublicKey
	if pubkey.Uncompress(pubkeyBytes) == nil {
		return false
	}
	var sig Signature
	if sig.Uncompress(sigBytes) == nil {
		return false
	}
	return sig.Verify(true, &pubkey, true, msg, dstMinPk)
}
