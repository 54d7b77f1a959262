package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	roomcast_errors "roomcast/pkg/errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	blobVersion  byte = 0x01
	MinSecretLen      = 32
)

var hkdfInfo = []byte("roomcast message body v1")

// Codec seals message bodies for storage with XChaCha20-Poly1305.
// Blob layout: version(1) || nonce(24) || ciphertext+tag.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the process key from secret with HKDF-SHA256.
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("encryption key must be at least %d bytes: %w", MinSecretLen, roomcast_errors.ErrInvalidInput)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	blob := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	blob[0] = blobVersion
	if _, err := rand.Read(blob[1:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(blob, blob[1:], plaintext, blob[:1]), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or tampered input
// yields ErrDecryption.
func (c *Codec) Decrypt(blob []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(blob) < 1+nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("blob too short: %w", roomcast_errors.ErrDecryption)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("unknown blob version %d: %w", blob[0], roomcast_errors.ErrDecryption)
	}

	plaintext, err := c.aead.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], blob[:1])
	if err != nil {
		return nil, roomcast_errors.ErrDecryption
	}
	return plaintext, nil
}
