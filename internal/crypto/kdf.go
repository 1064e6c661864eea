// Package crypto derives brain keys from passphrases, seals state blobs with
// XChaCha20-Poly1305 and signs manifests with Ed25519.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	KeyLen  = 32
	SaltLen = 16

	// AlgorithmArgon2id is the only KDF recorded in manifests.
	AlgorithmArgon2id = "argon2id"

	// Upper bounds for parameters read from untrusted manifests.
	MaxKDFTime      = 64
	MaxKDFMemoryKiB = 4 * 1024 * 1024
	MaxKDFThreads   = 64
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKDFParams returns t=3, m=64 MiB, p=4.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate rejects parameters argon2 would panic on, that are too weak to be
// meaningful, or that would exhaust the host.
func (p KDFParams) Validate() error {
	if p.Time < 1 || p.Time > MaxKDFTime {
		return fmt.Errorf("kdf: time must be in [1, %d]", MaxKDFTime)
	}
	if p.Threads < 1 || p.Threads > MaxKDFThreads {
		return fmt.Errorf("kdf: threads must be in [1, %d]", MaxKDFThreads)
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("kdf: memory must be >= %d KiB", 8*uint32(p.Threads))
	}
	if p.MemoryKiB > MaxKDFMemoryKiB {
		return fmt.Errorf("kdf: memory must be <= %d KiB", MaxKDFMemoryKiB)
	}
	return nil
}

// Key is a derived symmetric key. Call Zero when done with it.
type Key struct {
	b [KeyLen]byte
}

// DeriveKey runs Argon2id over passphrase and salt.
func DeriveKey(passphrase, salt []byte, p KDFParams) (*Key, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("kdf: empty passphrase")
	}
	if len(salt) < SaltLen {
		return nil, fmt.Errorf("kdf: salt must be at least %d bytes", SaltLen)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, KeyLen)
	k := &Key{}
	copy(k.b[:], out)
	ZeroBytes(out)
	return k, nil
}

// Zero overwrites the key material. The key is unusable afterwards.
func (k *Key) Zero() {
	if k == nil {
		return
	}
	for i := range k.b {
		k.b[i] = 0
	}
}

// GenerateSalt returns SaltLen random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Checksum returns the lowercase hex sha256 of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ZeroBytes overwrites b in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
