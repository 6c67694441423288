// Package utils holds small helpers shared across the service. Secret
// sealing lives here because both the registry (at rest) and the supervisor
// environment rendering (in flight) need the same primitive.
package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"

	"github.com/pkg/errors"
)

// EncKeyVar names the environment variable carrying the base64-encoded
// 32-byte key used to seal registry credentials.
const EncKeyVar = "SNOWMIGRATE_ENC_KEY"

// sealer binds an AEAD to its nonce size so callers never slice ciphertext
// with a mismatched length.
type sealer struct {
	aead cipher.AEAD
}

// newSealer builds the AEAD from the process environment. The key is read
// per call rather than cached so a rotated key takes effect for new seals
// without a restart.
func newSealer() (*sealer, error) {
	raw := os.Getenv(EncKeyVar)
	if raw == "" {
		return nil, errors.Errorf("%s is not set", EncKeyVar)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "%s is not valid base64", EncKeyVar)
	}
	if len(key) != 32 {
		return nil, errors.Errorf("%s must decode to 32 bytes, got %d", EncKeyVar, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "build cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "build gcm")
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	// Nonce travels as the ciphertext prefix.
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.Errorf("sealed value shorter than nonce (%d < %d)", len(sealed), n)
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "open sealed value")
	}
	return plain, nil
}

// EncryptSecret seals a credential for at-rest storage in the registry.
func EncryptSecret(plain string) ([]byte, error) {
	s, err := newSealer()
	if err != nil {
		return nil, err
	}
	return s.seal([]byte(plain))
}

// DecryptSecret opens a sealed credential. It is called only while rendering
// the engine process environment.
func DecryptSecret(sealed []byte) (string, error) {
	s, err := newSealer()
	if err != nil {
		return "", err
	}
	plain, err := s.open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
