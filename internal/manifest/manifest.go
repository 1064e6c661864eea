// Package manifest canonicalizes, signs and verifies brain manifests.
package manifest

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/model"
)

// Canonical returns the bytes that are signed: the manifest with an empty
// signature, serialized in declared field order.
func Canonical(m *model.Manifest) ([]byte, error) {
	cp := *m
	cp.Signature = nil
	b, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	return b, nil
}

// Sign fills m.Signature using priv. The embedded public key must belong to
// priv.
func Sign(m *model.Manifest, priv ed25519.PrivateKey) error {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok || !pub.Equal(ed25519.PublicKey(m.SigningPublicKey)) {
		return fmt.Errorf("sign manifest: signing key does not match manifest public key")
	}
	payload, err := Canonical(m)
	if err != nil {
		return err
	}
	m.Signature = crypto.Sign(priv, payload)
	return nil
}

// Verify checks the signature against the public key embedded in m.
func Verify(m *model.Manifest) error {
	if len(m.SigningPublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed public key", model.ErrCorruptOrTamperedBrain)
	}
	payload, err := Canonical(m)
	if err != nil {
		return err
	}
	if !crypto.Verify(m.SigningPublicKey, payload, m.Signature) {
		return fmt.Errorf("%w: signature invalid", model.ErrCorruptOrTamperedBrain)
	}
	return nil
}

// VerifyWithKey is Verify plus a check that the manifest is signed by a
// specific, externally trusted key.
func VerifyWithKey(m *model.Manifest, trusted ed25519.PublicKey) error {
	if !trusted.Equal(ed25519.PublicKey(m.SigningPublicKey)) {
		return fmt.Errorf("%w: public key is not the trusted key", model.ErrCorruptOrTamperedBrain)
	}
	return Verify(m)
}

// VerifyChecksum compares the sha256 of the encrypted state with the value
// recorded in the manifest.
func VerifyChecksum(m *model.Manifest, encryptedState []byte) error {
	if got := crypto.Checksum(encryptedState); got != m.StateSHA256 {
		return fmt.Errorf("%w: state checksum mismatch (manifest %s, state %s)",
			model.ErrCorruptOrTamperedBrain, short(m.StateSHA256), short(got))
	}
	return nil
}

// CheckSchema refuses manifests written by a newer schema.
func CheckSchema(m *model.Manifest) error {
	if m.FormatVersion != model.FormatVersion {
		return fmt.Errorf("%w: format %q", model.ErrSchemaVersionUnsupported, m.FormatVersion)
	}
	if m.SchemaVersion > model.SchemaVersion || m.SchemaVersion < 1 {
		return fmt.Errorf("%w: schema version %d (supported: %d)",
			model.ErrSchemaVersionUnsupported, m.SchemaVersion, model.SchemaVersion)
	}
	return nil
}

// Check runs schema, signature and checksum verification in that order.
func Check(m *model.Manifest, encryptedState []byte) error {
	if err := CheckSchema(m); err != nil {
		return err
	}
	if err := Verify(m); err != nil {
		return err
	}
	return VerifyChecksum(m, encryptedState)
}

// Read loads brain.json from path.
func Read(path string) (*model.Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m model.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest is not valid JSON: %v", model.ErrCorruptOrTamperedBrain, err)
	}
	return &m, nil
}

// Encode renders the manifest as it is stored in brain.json.
func Encode(m *model.Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
