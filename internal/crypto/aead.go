package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthenticationFailed is returned when a sealed blob does not verify
// under the given key and associated data.
var ErrAuthenticationFailed = errors.New("crypto: message authentication failed")

// Seal encrypts plaintext with a fresh 192-bit random nonce. The output is
// nonce || ciphertext || tag.
func Seal(key *Key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.b[:])
	if err != nil {
		return nil, fmt.Errorf("new xchacha20poly1305: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a blob produced by Seal. It never returns
// partial plaintext.
func Open(key *Key, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.b[:])
	if err != nil {
		return nil, fmt.Errorf("new xchacha20poly1305: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", ErrAuthenticationFailed)
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plain, nil
}
