// Package secrets implements the process-wide symmetric cipher used to
// store tenant LLM provider API keys at rest, ported near-verbatim from
// original_source's core/secrets.py.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	nonceLen = 12
	tagLen   = 16
)

// Cipher is a SHA-256-keystream symmetric cipher with an HMAC-SHA-256
// integrity tag — an AEAD-like construction built from a single process
// secret rather than a standard AEAD cipher, matching original_source's
// SecretCipher exactly (keystream = SHA-256(secret||nonce||counter_be32),
// repeated with an incrementing counter; tag = HMAC-SHA-256(secret,
// nonce||ciphertext)[:16]).
type Cipher struct {
	secret []byte
}

// New constructs a Cipher. secretKey must be at least 16 characters.
func New(secretKey string) (*Cipher, error) {
	if len(strings.TrimSpace(secretKey)) < 16 {
		return nil, fmt.Errorf("secret key must be at least 16 characters")
	}
	return &Cipher{secret: []byte(secretKey)}, nil
}

func (c *Cipher) keystream(nonce []byte, length int) []byte {
	out := make([]byte, 0, length+sha256.Size)
	counter := uint32(0)
	for len(out) < length {
		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)

		h := sha256.New()
		h.Write(c.secret)
		h.Write(nonce)
		h.Write(counterBytes[:])
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:length]
}

// Encrypt returns base64url(nonce || tag || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	raw := []byte(plaintext)

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	stream := c.keystream(nonce, len(raw))
	ciphertext := xor(raw, stream)

	tag := c.tag(nonce, ciphertext)

	packed := make([]byte, 0, len(nonce)+len(tag)+len(ciphertext))
	packed = append(packed, nonce...)
	packed = append(packed, tag...)
	packed = append(packed, ciphertext...)

	return base64.URLEncoding.EncodeToString(packed), nil
}

// Decrypt verifies the HMAC tag in constant time and returns the plaintext.
// A tampered or malformed token returns an error with the message
// "invalid secret token", matching original_source's ValueError message
// (spec.md §8 scenario 5 asserts on this exact text).
func (c *Cipher) Decrypt(token string) (string, error) {
	packed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid secret token")
	}
	if len(packed) < nonceLen+tagLen {
		return "", fmt.Errorf("invalid secret token")
	}

	nonce := packed[:nonceLen]
	tag := packed[nonceLen : nonceLen+tagLen]
	ciphertext := packed[nonceLen+tagLen:]

	expectedTag := c.tag(nonce, ciphertext)
	if subtle.ConstantTimeCompare(tag, expectedTag) != 1 {
		return "", fmt.Errorf("invalid secret token")
	}

	stream := c.keystream(nonce, len(ciphertext))
	plaintext := xor(ciphertext, stream)
	return string(plaintext), nil
}

func (c *Cipher) tag(nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)[:tagLen]
}

func xor(data, stream []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ stream[i]
	}
	return out
}

// Mask preserves the first and last 4 characters of secret, replacing the
// middle with asterisks. Secrets of 8 characters or fewer are masked
// entirely.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
