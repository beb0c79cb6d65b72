package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidEncryptionKey = errors.New("encryption key must be 32 bytes for AES-256")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
)

const keyDerivationInfo = "connectd token sealing v1"

// CryptoService seals provider tokens with AES-256-GCM. Sealed values are
// base64 with the nonce prepended.
type CryptoService struct {
	aead cipher.AEAD
}

// NewCryptoService takes a raw 32-byte key.
func NewCryptoService(encryptionKey string) (*CryptoService, error) {
	if len(encryptionKey) != 32 {
		return nil, ErrInvalidEncryptionKey
	}
	return newCryptoService([]byte(encryptionKey))
}

// NewCryptoServiceFromSecret accepts a secret of any length of at least 16 bytes.
// A 32-byte secret is used as-is; anything else is stretched with HKDF-SHA256.
func NewCryptoServiceFromSecret(secret string) (*CryptoService, error) {
	if len(secret) == 32 {
		return NewCryptoService(secret)
	}
	if len(secret) < 16 {
		return nil, ErrInvalidEncryptionKey
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return newCryptoService(key)
}

func newCryptoService(key []byte) (*CryptoService, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CryptoService{aead: aead}, nil
}

// EncryptToken seals plaintext. The empty string stays empty so absent
// refresh tokens remain absent.
func (cs *CryptoService) EncryptToken(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, cs.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := cs.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (cs *CryptoService) DecryptToken(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := cs.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := cs.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}
