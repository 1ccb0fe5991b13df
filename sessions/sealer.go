package sessions

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidCookie is returned when a cookie fails authentication or decoding
var ErrInvalidCookie = errors.New("invalid session cookie")

// DeriveKey expands the root secret into an independent key for one purpose
func DeriveKey(secret []byte, purpose string, size int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Sealer encrypts and authenticates cookie values with XChaCha20-Poly1305
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(secret []byte) (*Sealer, error) {
	key, err := DeriveKey(secret, "intune-bridge session cookie v1", chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns base64url(nonce | ciphertext). The associated data binds the value
// to its cookie name so a sealed value cannot be replayed under another name.
func (s *Sealer) Seal(plaintext, associatedData []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, associatedData)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(value string, associatedData []byte) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if len(data) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: value too short", ErrInvalidCookie)
	}
	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	return plaintext, nil
}
