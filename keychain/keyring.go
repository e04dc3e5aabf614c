package keychain

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tez-capital/tezbake/signer"
)

const seedSize = 32

// Keyring derives signing keys from a device seed. Keys are derived on first
// use and cached for the lifetime of the keyring.
type Keyring struct {
	seed []byte
	salt []byte

	mu   sync.Mutex
	keys map[Key]signer.PrivateKey
}

func NewKeyring(seed, salt []byte) (*Keyring, error) {
	if len(seed) < seedSize {
		return nil, ErrSeedTooShort
	}
	return &Keyring{
		seed: bytes.Clone(seed),
		salt: bytes.Clone(salt),
		keys: make(map[Key]signer.PrivateKey),
	}, nil
}

func (k *Keyring) privateKey(key Key) (signer.PrivateKey, error) {
	if !key.IsSet() {
		return nil, ErrKeyUnset
	}
	scheme, err := key.Type.Scheme()
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if pk, ok := k.keys[key]; ok {
		return pk, nil
	}
	secret, err := signer.DeriveSecret(scheme, k.salt, k.seed, key.Path.Components())
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", key, err)
	}
	pk, err := signer.NewPrivateKey(scheme, secret)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	k.keys[key] = pk
	return pk, nil
}

// PublicKey returns the raw public key bytes of key.
func (k *Keyring) PublicKey(key Key) ([]byte, error) {
	pk, err := k.privateKey(key)
	if err != nil {
		return nil, err
	}
	return pk.PublicKey(), nil
}

// Sign signs the full watermarked message with key.
func (k *Keyring) Sign(key Key, msg []byte) ([]byte, error) {
	pk, err := k.privateKey(key)
	if err != nil {
		return nil, err
	}
	return pk.Sign(msg)
}

// PublicKeyHash returns the tz address of key, used as its fingerprint.
func (k *Keyring) PublicKeyHash(key Key) (string, error) {
	pk, err := k.privateKey(key)
	if err != nil {
		return "", err
	}
	return signer.PublicKeyHash(pk.Scheme(), pk.PublicKey())
}

// LoadSeedFile reads a seed stored either raw or hex encoded.
func LoadSeedFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if dec, err := hex.DecodeString(string(trimmed)); err == nil {
		raw = dec
	}
	if len(raw) < seedSize {
		return nil, ErrSeedTooShort
	}
	return raw, nil
}

// CreateSeedFile writes a fresh random hex seed. It refuses to overwrite an
// existing file.
func CreateSeedFile(path string) error {
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	_, err = f.WriteString(hex.EncodeToString(seed) + "\n")
	return errors.Join(err, f.Close())
}
