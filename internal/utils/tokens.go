package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

var ErrInvalidToken = errors.New("invalid session token")

const (
	tokenIVSize  = 16 // 128-bit IV
	tokenTagSize = 16

	// fixed KDF salt: the key only needs to be stable per server secret,
	// the per-token randomness lives in the IV
	tokenKeySalt = "clipstream-session-token-v1"
)

// SessionTokenCodec mints opaque session tokens: a random identifier sealed
// with AES-256-GCM under a key scrypt-derived from the server secret, encoded
// as iv_hex:tag_hex:ciphertext_hex. Altering any segment makes Decode fail.
type SessionTokenCodec struct {
	aead cipher.AEAD
}

func NewSessionTokenCodec(serverSecret string) (*SessionTokenCodec, error) {
	if serverSecret == "" {
		return nil, errors.New("server secret is required")
	}
	// slow derivation happens once, at construction
	key, err := scrypt.Key([]byte(serverSecret), []byte(tokenKeySalt), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("token key derivation: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, tokenIVSize)
	if err != nil {
		return nil, fmt.Errorf("token aead: %w", err)
	}
	return &SessionTokenCodec{aead: aead}, nil
}

func (c *SessionTokenCodec) Generate() (string, error) {
	iv := make([]byte, tokenIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("token iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(uuid.NewString()), nil)
	// Seal appends the auth tag; split it out for the wire format
	ct := sealed[:len(sealed)-tokenTagSize]
	tag := sealed[len(sealed)-tokenTagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decode authenticates a token and returns the embedded identifier. Any
// malformed or tampered input yields ErrInvalidToken.
func (c *SessionTokenCodec) Decode(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != tokenIVSize {
		return "", ErrInvalidToken
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tokenTagSize {
		return "", ErrInvalidToken
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidToken
	}

	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plain), nil
}
