package manifest

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/model"
)

func newSignedManifest(t *testing.T, state []byte) (*model.Manifest, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &model.Manifest{
		FormatVersion:    model.FormatVersion,
		SchemaVersion:    model.SchemaVersion,
		BrainID:          "0b5c3a8e-4d0b-4a4e-9a53-5d3f1f3b8c11",
		Name:             "demo",
		TenantID:         "local",
		CreatedAt:        now,
		UpdatedAt:        now,
		ProtoVersion:     model.ProtoVersion,
		SchemaMigrations: []string{model.InitialMigration},
		ActiveBranch:     model.MainBranch,
		KDF:              model.KDF{Algorithm: crypto.AlgorithmArgon2id, Salt: []byte("0123456789abcdef"), Time: 1, MemoryKiB: 8192, Threads: 1},
		SigningPublicKey: pub,
		StateSHA256:      crypto.Checksum(state),
	}
	require.NoError(t, Sign(m, priv))
	return m, priv
}

func TestSignAndCheck(t *testing.T) {
	state := []byte("ciphertext")
	m, _ := newSignedManifest(t, state)
	require.NoError(t, Check(m, state))
}

func TestCanonicalIgnoresSignature(t *testing.T) {
	m, _ := newSignedManifest(t, nil)
	a, err := Canonical(m)
	require.NoError(t, err)
	m.Signature = []byte("something else")
	b, err := Canonical(m)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVerifyDetectsFieldTamper(t *testing.T) {
	m, _ := newSignedManifest(t, nil)
	m.TenantID = "someone-else"
	err := Verify(m)
	assert.ErrorIs(t, err, model.ErrCorruptOrTamperedBrain)
	assert.Contains(t, err.Error(), "signature invalid")
}

func TestVerifyChecksumNamesInvariant(t *testing.T) {
	m, _ := newSignedManifest(t, []byte("state"))
	err := Check(m, []byte("statE"))
	assert.ErrorIs(t, err, model.ErrCorruptOrTamperedBrain)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestSignRejectsForeignKey(t *testing.T) {
	m, _ := newSignedManifest(t, nil)
	_, other, _ := crypto.GenerateSigningKey()
	assert.Error(t, Sign(m, other))
}

func TestVerifyWithKey(t *testing.T) {
	m, _ := newSignedManifest(t, nil)
	assert.NoError(t, VerifyWithKey(m, ed25519.PublicKey(m.SigningPublicKey)))
	other, _, _ := crypto.GenerateSigningKey()
	assert.ErrorIs(t, VerifyWithKey(m, other), model.ErrCorruptOrTamperedBrain)
}

func TestCheckSchema(t *testing.T) {
	m, _ := newSignedManifest(t, nil)
	m.SchemaVersion = model.SchemaVersion + 1
	assert.ErrorIs(t, CheckSchema(m), model.ErrSchemaVersionUnsupported)

	m.SchemaVersion = model.SchemaVersion
	m.FormatVersion = "brain/v9"
	assert.ErrorIs(t, CheckSchema(m), model.ErrSchemaVersionUnsupported)
}

func TestEncodeReadRoundTrip(t *testing.T) {
	m, _ := newSignedManifest(t, []byte("s"))
	b, err := Encode(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "brain.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	got, err := Read(path)
	require.NoError(t, err)
	require.NoError(t, Check(got, []byte("s")))
	assert.Equal(t, m.BrainID, got.BrainID)
}
