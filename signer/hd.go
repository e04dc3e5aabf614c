package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash"
	"math/big"
)

func mustOrder(hex string) *big.Int {
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic("signer: bad group order " + hex)
	}
	return n
}

var (
	// Group orders used to reduce HKDF output into a valid scalar.
	orderBLS12381  = mustOrder("73EDA753299D7D483339D80809A1D80553BDA402FFFE5BFEFFFFFFFF00000001")
	orderSecp256k1 = mustOrder("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")
	orderP256      = mustOrder("FFFFFFFF00000000FFFFFFFFFFFFFFFFBCE6FAADA7179E84F3B9CAC2FC632551")
	orderEd25519   = mustOrder("1000000000000000000000000000000014DEF9DEA2F79CD65812631A5CF5D3ED")

	saltLabel = []byte("TEZBAKE-HD-V1|")
)

var (
	errMissingZeroFieldOrderR = errors.New("invalid params: missing/zero field order r")
	errIkmInvalid             = errors.New("ikm must be >= 32 bytes")
	errNilParent              = errors.New("parent is nil")
	errUnknownScheme          = errors.New("unknown signature scheme")
)

// hdParams defines the scalar field order r and the HKDF salt used by HKDF_mod_r.
type hdParams struct {
	R    *big.Int
	Salt []byte // effective salt for HKDF-Extract
}

// HDParams mixes the fixed label and the scheme name with the device salt,
// so the same seed never yields related scalars on two curves.
// salt := SHA256("TEZBAKE-HD-V1|" || scheme || "|" || masterSalt)
func HDParams(s Scheme, masterSalt []byte) (hdParams, error) {
	var r *big.Int
	switch s {
	case Ed25519:
		r = orderEd25519
	case Secp256k1:
		r = orderSecp256k1
	case P256:
		r = orderP256
	case BLS12381:
		r = orderBLS12381
	default:
		return hdParams{}, errUnknownScheme
	}

	h := sha256.New()
	h.Write(saltLabel)
	h.Write([]byte(s.String()))
	h.Write([]byte{'|'})
	h.Write(masterSalt)
	return hdParams{R: r, Salt: h.Sum(nil)}, nil
}

// hkdfExtract returns HKDF-Extract(salt, ikm) with SHA-256.
func hkdfExtract(salt, ikm []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	return mac.Sum(nil) // 32 bytes
}

// hkdfExpand returns HKDF-Expand(prk, info, L) with SHA-256.
func hkdfExpand(prk, info []byte, L int) []byte {
	var (
		t   []byte
		out []byte
	)
	var mac hash.Hash
	var ctr byte = 1
	for len(out) < L {
		mac = hmac.New(sha256.New, prk)
		mac.Write(t)
		mac.Write(info)
		mac.Write([]byte{ctr})
		t = mac.Sum(nil)
		out = append(out, t...)
		ctr++
	}
	return out[:L]
}

// ----- EIP-2333 core (HKDF_mod_r) -----

// hkdfModR implements EIP-2333 HKDF_mod_r (SHA-256) with pluggable salt and
// group order. The result is a non-zero scalar below r, 32 bytes big-endian.
func hkdfModR(ikm []byte, params hdParams) ([]byte, error) {
	if params.R == nil || params.R.Sign() <= 0 {
		return nil, errMissingZeroFieldOrderR
	}
	if len(ikm) < 32 {
		return nil, errIkmInvalid
	}
	// Start from provided salt; on zero result, salt = H(salt) and retry (EIP-2333).
	salt := append([]byte{}, params.Salt...)
	for {
		prk := hkdfExtract(salt, ikm)
		okm := hkdfExpand(prk, nil, 48)
		k := new(big.Int).SetBytes(okm)
		k.Mod(k, params.R)
		if k.Sign() != 0 {
			var be [32]byte
			k.FillBytes(be[:])
			return be[:], nil
		}
		h := sha256.Sum256(salt)
		salt = h[:]
	}
}

// deriveChild derives a hardened child scalar from its parent and an index.
// IKM = parent_be32 || I2OSP(index, 4).
func deriveChild(parent []byte, index uint32, params hdParams) ([]byte, error) {
	if parent == nil {
		return nil, errNilParent
	}
	ikm := make([]byte, 0, 36)
	ikm = append(ikm, parent...)
	ikm = binary.BigEndian.AppendUint32(ikm, index)

	return hkdfModR(ikm, params)
}

// DeriveSecret walks path from the seed's master scalar and returns the
// 32-byte secret for scheme s. The derivation is deterministic: the same
// seed, salt and path always give the same key.
func DeriveSecret(s Scheme, masterSalt, seed []byte, path []uint32) ([]byte, error) {
	params, err := HDParams(s, masterSalt)
	if err != nil {
		return nil, err
	}
	sk, err := hkdfModR(seed, params)
	if err != nil {
		return nil, err
	}
	for _, i := range path {
		sk, err = deriveChild(sk, i, params)
		if err != nil {
			return nil, err
		}
	}
	return sk, nil
}

func beToLE32(be []byte) []byte {
	le := make([]byte, 32)
	for i := 0; i < 32; i++ {
		le[i] = be[31-i]
	}
	return le
}
