package signer

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ---- Tezos Base58 prefixes (bytes) ----
var (
	pfxTz1 = []byte{6, 161, 159} // "tz1" ed25519 public key hash (20 bytes)
	pfxTz2 = []byte{6, 161, 161} // "tz2" secp256k1 public key hash
	pfxTz3 = []byte{6, 161, 164} // "tz3" p256 public key hash
	pfxTz4 = []byte{6, 161, 166} // "tz4" BLS12-381 public key hash

	pfxEdPubkey = []byte{13, 15, 37, 217}  // "edpk" (32 bytes)
	pfxSpPubkey = []byte{3, 254, 226, 86}  // "sppk" (33 bytes)
	pfxP2Pubkey = []byte{3, 178, 139, 127} // "p2pk" (33 bytes)
	pfxBLPubkey = []byte{6, 149, 135, 204} // "BLpk" (48 bytes)

	pfxEdSignature = []byte{9, 245, 205, 134, 18} // "edsig" (64 bytes)
	pfxSpSignature = []byte{13, 115, 101, 19, 63} // "spsig1" (64 bytes)
	pfxP2Signature = []byte{54, 240, 44, 52}      // "p2sig" (64 bytes)
	pfxBLSignature = []byte{40, 171, 64, 207}     // "BLsig" (96 bytes)

	pfxChainID = []byte{87, 82, 0} // "Net" (4 bytes)
)

var (
	errBadChecksum = errors.New("bad base58check checksum")
	errBadPrefix   = errors.New("unexpected base58check prefix")
	errBadLength   = errors.New("unexpected payload length")
)

type encoding struct {
	pkh, pk, sig  []byte
	pkLen, sigLen int
}

var encodings = map[Scheme]encoding{
	Ed25519:   {pfxTz1, pfxEdPubkey, pfxEdSignature, 32, 64},
	Secp256k1: {pfxTz2, pfxSpPubkey, pfxSpSignature, 33, 64},
	P256:      {pfxTz3, pfxP2Pubkey, pfxP2Signature, 33, 64},
	BLS12381:  {pfxTz4, pfxBLPubkey, pfxBLSignature, 48, 96},
}

func lookup(s Scheme) (encoding, error) {
	e, ok := encodings[s]
	if !ok {
		return encoding{}, errUnknownScheme
	}
	return e, nil
}

func EncodePublicKey(s Scheme, pub []byte) (string, error) {
	e, err := lookup(s)
	if err != nil {
		return "", err
	}
	if len(pub) != e.pkLen {
		return "", fmt.Errorf("%w: %s public key is %d bytes", ErrBadPublicKey, s, len(pub))
	}
	return b58CheckEncode(e.pk, pub), nil
}

func EncodeSignature(s Scheme, sig []byte) (string, error) {
	e, err := lookup(s)
	if err != nil {
		return "", err
	}
	if len(sig) != e.sigLen {
		return "", fmt.Errorf("%w: %s signature is %d bytes", ErrBadSignature, s, len(sig))
	}
	return b58CheckEncode(e.sig, sig), nil
}

// PublicKeyHash computes the tz1..tz4 address of a public key:
// Base58Check(prefix || blake2b-160(pub)).
func PublicKeyHash(s Scheme, pub []byte) (string, error) {
	e, err := lookup(s)
	if err != nil {
		return "", err
	}
	if len(pub) != e.pkLen {
		return "", fmt.Errorf("%w: %s public key is %d bytes", ErrBadPublicKey, s, len(pub))
	}
	h, _ := blake2b.New(20, nil)
	_, _ = h.Write(pub)
	return b58CheckEncode(e.pkh, h.Sum(nil)), nil
}

// EncodeChainID renders a chain id the way Octez prints it (Net...).
func EncodeChainID(id uint32) string {
	return b58CheckEncode(pfxChainID, binary.BigEndian.AppendUint32(nil, id))
}

// DecodeChainID parses a Net... chain id.
func DecodeChainID(s string) (uint32, error) {
	payload, err := b58CheckDecode(pfxChainID, s)
	if err != nil {
		return 0, err
	}
	if len(payload) != 4 {
		return 0, errBadLength
	}
	return binary.BigEndian.Uint32(payload), nil
}

// Base58Check(prefix || payload || doubleSHA256(prefix||payload)[0:4])
func b58CheckEncode(prefix, payload []byte) string {
	n := len(prefix) + len(payload)
	buf := make([]byte, n+4)
	copy(buf, prefix)
	copy(buf[len(prefix):], payload)

	copy(buf[n:], checksum(buf[:n]))

	return base58.Encode(buf)
}

func b58CheckDecode(prefix []byte, s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(prefix)+4 {
		return nil, errBadLength
	}
	n := len(raw) - 4
	if !bytes.Equal(checksum(raw[:n]), raw[n:]) {
		return nil, errBadChecksum
	}
	if !bytes.HasPrefix(raw[:n], prefix) {
		return nil, errBadPrefix
	}
	return raw[len(prefix):n], nil
}

func checksum(b []byte) []byte {
	sum1 := sha256.Sum256(b)
	sum2 := sha256.Sum256(sum1[:])
	return sum2[:4]
}
