// Package stampcrypt encrypts stamp numbers into url safe tokens for the
// verification link mailed at registration.
//
// Encryption is deterministic: the nonce is a MAC of the plaintext, so one
// stamp number always yields the same token and Decrypt accepts only tokens
// Encrypt can produce.
package stampcrypt

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrInvalidToken = errors.New("invalid stamp token")

const keyInfo = "avoproxy stamp number v1"

// Cipher encrypts and decrypts stamp numbers with keys derived from one secret.
type Cipher struct {
	aead   cipher.AEAD
	macKey []byte
}

// New derives the encryption and nonce keys from secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("stamp encryption secret is empty")
	}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))

	key := make([]byte, chacha20poly1305.KeySize)
	macKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, fmt.Errorf("derive nonce key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Cipher{aead: aead, macKey: macKey}, nil
}

func (c *Cipher) nonce(plaintext []byte) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(plaintext)
	return mac.Sum(nil)[:chacha20poly1305.NonceSizeX]
}

// Encrypt returns the token of plaintext.
func (c *Cipher) Encrypt(plaintext string) string {
	nonce := c.nonce([]byte(plaintext))
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed)
}

// Decrypt returns the plaintext of a token made by Encrypt.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return "", ErrInvalidToken
	}
	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !hmac.Equal(nonce, c.nonce(plaintext)) {
		return "", ErrInvalidToken
	}
	return string(plaintext), nil
}
