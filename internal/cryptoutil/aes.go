// Package cryptoutil implements the AES-256-GCM key store and passphrase
// generation used by the Cluster registration handshake, ported from
// original_source/rust/shared/src/security.rs's aes_gcm-based scheme:
// encrypt() prefixes a random 12-byte nonce to the ciphertext, decrypt()
// splits it back off.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

const (
	// KeySize is the raw AES-256 key length in bytes.
	KeySize = 32
	// nonceSize is the GCM standard 96-bit nonce.
	nonceSize = 12
	// PassphraseLength is the length, in characters, of a freshly
	// generated registration passphrase.
	PassphraseLength = 20
)

// passphraseAlphabet is the exact charset of
// original_source/rust/master/src/security.rs's generate_passphrase
// (A-Z, a-z, 0-9, then ")(*&^%$#@!~"), matching spec.md §3's literal
// "A-Za-z0-9)(*&^%$#@!~".
const passphraseAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	")(*&^%$#@!~"

var ErrInvalidKeySize = errors.New("cryptoutil: key must be exactly 32 bytes")

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cryptoutil: generating key: %w", err)
	}
	return key, nil
}

// GeneratePassphrase returns a fresh PassphraseLength-character random
// string drawn from passphraseAlphabet, used as the cluster registration
// challenge text.
func GeneratePassphrase() (string, error) {
	out := make([]byte, PassphraseLength)
	alphabetLen := big.NewInt(int64(len(passphraseAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("cryptoutil: generating passphrase: %w", err)
		}
		out[i] = passphraseAlphabet[n.Int64()]
	}
	return string(out), nil
}

// Encrypt seals plaintext under key with a freshly generated nonce and
// returns [nonce || ciphertext].
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptoutil: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt splits data into its leading nonce and ciphertext and opens it
// under key.
func Decrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceSize {
		return nil, errors.New("cryptoutil: ciphertext shorter than nonce")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decrypting: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: building cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// KeyStore loads and persists raw 32-byte AES keys under keys/<name>,
// mirroring the original's keys/ directory layout.
type KeyStore struct {
	dir string
}

// NewKeyStore returns a KeyStore rooted at dir (typically "keys").
func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{dir: dir}
}

// Load reads the named key, returning an error if it is missing or not
// exactly KeySize bytes.
func (s *KeyStore) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: loading key %q: %w", name, err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("%w: key %q is %d bytes", ErrInvalidKeySize, name, len(data))
	}
	return data, nil
}

// Save writes key under name, creating the key store directory if needed.
func (s *KeyStore) Save(name string, key []byte) error {
	if len(key) != KeySize {
		return ErrInvalidKeySize
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("cryptoutil: creating key store: %w", err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return fmt.Errorf("cryptoutil: saving key %q: %w", name, err)
	}
	return nil
}

// LoadOrGenerate loads the named key if present, otherwise generates and
// persists a fresh one.
func (s *KeyStore) LoadOrGenerate(name string) ([]byte, error) {
	key, err := s.Load(name)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key, err = GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := s.Save(name, key); err != nil {
		return nil, err
	}
	return key, nil
}
