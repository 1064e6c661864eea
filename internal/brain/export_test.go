package brain

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/manifest"
	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

func exportBrain(t *testing.T) (src *Store, id, pkg string) {
	t.Helper()
	src = newTestStore(t)
	id = createBrain(t, src, "portable")
	h := openBrain(t, src, id)
	appendText(t, h, "", "user:local", "prefers_beverage", "tea")
	pkg = filepath.Join(t.TempDir(), "portable.brain.json")
	_, err := h.Export(pkg)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	return src, id, pkg
}

func TestExportImportRoundTrip(t *testing.T) {
	src, id, pkg := exportBrain(t)
	ctx := context.Background()

	h := openBrain(t, src, id)
	audit, err := h.AuditQuery(store.AuditFilter{Op: model.OpExport})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, pkg, audit[0].Parameters["path"])
	require.NoError(t, h.Close())

	dst := newTestStore(t)
	res, err := dst.Import(ctx, pkg, ImportParams{VerifyOnly: true})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.False(t, res.Imported)
	all, err := dst.List()
	require.NoError(t, err)
	assert.Empty(t, all, "verify-only writes nothing")

	res, err = dst.Import(ctx, pkg, ImportParams{Passphrase: testPass, Actor: "importer"})
	require.NoError(t, err)
	assert.True(t, res.Imported)
	assert.Equal(t, id, res.Summary.BrainID)
	assert.Equal(t, "portable", res.Summary.Name)

	imported := openBrain(t, dst, id)
	got, err := imported.Read(store.ReadParams{Subject: "user:local", Predicate: "prefers_beverage"})
	require.NoError(t, err)
	assert.Equal(t, "tea", model.ValueText(got.Value))

	entries, err := imported.AuditQuery(store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.OpCreate, entries[0].Op)
	assert.Equal(t, model.OpAppend, entries[1].Op)
	assert.Equal(t, model.OpImport, entries[2].Op)
	assert.Equal(t, "importer", entries[2].Actor)
	require.NoError(t, imported.Close())

	_, err = dst.Import(ctx, pkg, ImportParams{Passphrase: testPass})
	assert.ErrorIs(t, err, model.ErrBrainExists)
}

func TestImportWithRename(t *testing.T) {
	_, id, pkg := exportBrain(t)
	dst := newTestStore(t)

	res, err := dst.Import(context.Background(), pkg, ImportParams{Passphrase: testPass, Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", res.Summary.Name)

	sum, err := dst.Verify("renamed")
	require.NoError(t, err)
	assert.Equal(t, id, sum.BrainID)
}

func TestImportRejectsTamperedManifest(t *testing.T) {
	_, _, pkg := exportBrain(t)
	editJSON(t, pkg, func(doc map[string]any) {
		doc["manifest"].(map[string]any)["name"] = "evil"
	})
	dst := newTestStore(t)

	_, err := dst.Import(context.Background(), pkg, ImportParams{VerifyOnly: true})
	assert.ErrorIs(t, err, model.ErrImportSignatureMismatch)
	assert.ErrorIs(t, err, model.ErrCorruptOrTamperedBrain)
	assert.ErrorIs(t, err, model.ErrImportVerifyOnlyFailure)
	assert.Contains(t, err.Error(), "signature invalid")

	_, err = dst.Import(context.Background(), pkg, ImportParams{Passphrase: testPass})
	assert.ErrorIs(t, err, model.ErrImportSignatureMismatch)
	assert.NotErrorIs(t, err, model.ErrImportVerifyOnlyFailure)
}

func TestImportRejectsTamperedState(t *testing.T) {
	_, _, pkg := exportBrain(t)
	editJSON(t, pkg, func(doc map[string]any) {
		raw, err := base64.StdEncoding.DecodeString(doc["encrypted_state"].(string))
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0x01
		doc["encrypted_state"] = base64.StdEncoding.EncodeToString(raw)
	})
	dst := newTestStore(t)

	_, err := dst.Import(context.Background(), pkg, ImportParams{VerifyOnly: true})
	assert.ErrorIs(t, err, model.ErrCorruptOrTamperedBrain)
	assert.ErrorIs(t, err, model.ErrImportVerifyOnlyFailure)
	assert.NotErrorIs(t, err, model.ErrImportSignatureMismatch)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestImportTrustedKey(t *testing.T) {
	src, id, pkg := exportBrain(t)
	m, err := src.Manifest(id)
	require.NoError(t, err)
	dst := New(t.TempDir(), Options{KDF: testKDF, Logger: zerolog.Nop()})

	other, _, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	_, err = dst.Import(context.Background(), pkg, ImportParams{VerifyOnly: true, TrustedPublicKey: other})
	assert.ErrorIs(t, err, model.ErrImportSignatureMismatch)

	res, err := dst.Import(context.Background(), pkg, ImportParams{VerifyOnly: true, TrustedPublicKey: ed25519.PublicKey(m.SigningPublicKey)})
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestImportWrongPassphraseInstallsNothing(t *testing.T) {
	_, _, pkg := exportBrain(t)
	dst := newTestStore(t)

	_, err := dst.Import(context.Background(), pkg, ImportParams{Passphrase: []byte("wrong")})
	assert.ErrorIs(t, err, model.ErrInvalidPassphraseOrCorruptState)

	all, err := dst.List()
	require.NoError(t, err)
	assert.Empty(t, all)
	matches, err := filepath.Glob(filepath.Join(dst.Root(), ".import-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = dst.Import(context.Background(), pkg, ImportParams{})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestExportFromReadOnlyHandle(t *testing.T) {
	s := newTestStore(t)
	id := createBrain(t, s, "demo")
	h, err := s.Open(context.Background(), id, OpenParams{Passphrase: testPass, ReadOnly: true})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Export(filepath.Join(t.TempDir(), "x.json"))
	assert.ErrorIs(t, err, model.ErrReadOnly)
}

func TestImportRejectsOversizedKDF(t *testing.T) {
	_, _, pkg := exportBrain(t)
	p, err := ReadPackage(pkg)
	require.NoError(t, err)

	// Re-sign with a fresh key so only the cost parameters are wrong.
	pub, priv, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	p.Manifest.KDF.MemoryKiB = 1<<32 - 1
	p.Manifest.KDF.Time = 1 << 31
	p.Manifest.SigningPublicKey = pub
	require.NoError(t, manifest.Sign(&p.Manifest, priv))
	b, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pkg, b, 0o600))

	dst := newTestStore(t)
	_, err = dst.Import(context.Background(), pkg, ImportParams{VerifyOnly: true})
	assert.ErrorIs(t, err, model.ErrCorruptOrTamperedBrain)
	assert.ErrorIs(t, err, model.ErrImportVerifyOnlyFailure)

	_, err = dst.Import(context.Background(), pkg, ImportParams{Passphrase: testPass})
	assert.ErrorIs(t, err, model.ErrCorruptOrTamperedBrain)
	all, err := dst.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}
