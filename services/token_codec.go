package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TokenCodec generates, hashes and encrypts the opaque session and refresh
// secrets. Hashing is one-way (HMAC-SHA256) and used for the session secret
// so the store never holds a usable credential. Encryption is deterministic
// (same plaintext always yields the same ciphertext) so the refresh secret
// can be looked up by re-encrypting an inbound value and matching on
// ciphertext equality, while staying recoverable server-side.
type TokenCodec struct {
	hashKey []byte
	aead    cipher.AEAD
}

// NewTokenCodec builds a codec from the two server keys. Empty keys get a
// random replacement, which keeps dev setups working but invalidates all
// stored secrets on restart.
func NewTokenCodec(hashKey, cipherKey string) (*TokenCodec, error) {
	hk := []byte(hashKey)
	if len(hk) == 0 {
		hk = make([]byte, 32)
		if _, err := rand.Read(hk); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
	}

	ck := sha256.Sum256([]byte(cipherKey))
	if cipherKey == "" {
		if _, err := rand.Read(ck[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
	}

	block, err := aes.NewCipher(ck[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	return &TokenCodec{hashKey: hk, aead: aead}, nil
}

// GenerateSecret returns a new cryptographically random opaque secret
func (c *TokenCodec) GenerateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return hex.EncodeToString(bytes), nil
}

// Hash returns the one-way digest of a secret. Stable across calls for the
// same input.
func (c *TokenCodec) Hash(secret string) string {
	mac := hmac.New(sha256.New, c.hashKey)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Encrypt deterministically encrypts a secret. The nonce is derived from an
// HMAC of the plaintext (SIV construction), which is what makes equal
// plaintexts produce equal ciphertexts.
func (c *TokenCodec) Encrypt(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: empty plaintext", ErrCrypto)
	}
	nonce := c.deriveNonce(secret)
	sealed := c.aead.Seal(nil, nonce, []byte(secret), nil)
	return hex.EncodeToString(append(nonce, sealed...)), nil
}

// Decrypt recovers the secret from a ciphertext produced by Encrypt
func (c *TokenCodec) Decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return string(plain), nil
}

func (c *TokenCodec) deriveNonce(secret string) []byte {
	mac := hmac.New(sha256.New, c.hashKey)
	mac.Write([]byte("nonce:"))
	mac.Write([]byte(secret))
	return mac.Sum(nil)[:c.aead.NonceSize()]
}
