package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecrypt = errors.New("crypto: decryption failed")

// keyFromSecret derives a fixed-size secretbox key from the configured secret.
func keyFromSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// Encrypt seals plaintext with a random nonce and returns base64 text safe to
// store in a database column. Used for provider OAuth/IMAP credentials at rest.
func Encrypt(plaintext, secret string) (string, error) {
	key := keyFromSecret(secret)

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encoded, secret string) (string, error) {
	key := keyFromSecret(secret)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < 24 {
		return "", ErrDecrypt
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(opened), nil
}
