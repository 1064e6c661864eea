package brain

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rcliao/cortex-brain/internal/manifest"
	"github.com/rcliao/cortex-brain/internal/model"
)

// PackageVersion is the export package format written by Export.
const PackageVersion = 1

// Package is a self-contained, signed, still-encrypted copy of a brain.
type Package struct {
	PackageVersion      int            `json:"package_version"`
	Manifest            model.Manifest `json:"manifest"`
	EncryptedState      []byte         `json:"encrypted_state"`
	EncryptedSigningKey []byte         `json:"encrypted_signing_key"`
}

// Export writes the committed brain to path as a package and then records
// the export in the audit ledger. The package never contains plaintext.
func (h *Handle) Export(path string) (*model.Summary, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, model.ErrHandleClosed
	}
	if h.readOnly {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: export", model.ErrReadOnly)
	}
	m := *h.manifest
	dir := h.dir
	h.mu.Unlock()

	_, state, err := loadPair(dir, false)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := manifest.VerifyChecksum(&m, state); err != nil {
		return nil, err
	}
	signingKey, err := os.ReadFile(filepath.Join(dir, signingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	b, err := json.MarshalIndent(Package{
		PackageVersion:      PackageVersion,
		Manifest:            m,
		EncryptedState:      state,
		EncryptedSigningKey: signingKey,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode package: %w", err)
	}
	if err := writeAtomic(path, b); err != nil {
		return nil, fmt.Errorf("write package: %w", err)
	}

	if err := h.mutate(model.OpExport, "", map[string]string{"path": path}, nil); err != nil {
		return nil, err
	}
	h.log.Info().Str("path", path).Msg("brain exported")
	sum := m.Summary()
	return &sum, nil
}

// ReadPackage decodes a package file without verifying it.
func ReadPackage(path string) (*Package, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	var pkg Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("%w: package is not valid JSON: %v", model.ErrCorruptOrTamperedBrain, err)
	}
	return &pkg, nil
}

// ImportParams holds parameters for importing a package.
type ImportParams struct {
	// Passphrase decrypts the package. Not needed with VerifyOnly.
	Passphrase []byte
	// VerifyOnly checks schema, signature and checksum without decrypting
	// or writing anything.
	VerifyOnly bool
	// Name renames the imported brain.
	Name string
	// TrustedPublicKey, when set, must be the key that signed the package.
	TrustedPublicKey ed25519.PublicKey
	Actor            string
}

// ImportResult describes an imported or verified package.
type ImportResult struct {
	Summary  model.Summary `json:"summary"`
	Verified bool          `json:"verified"`
	Imported bool          `json:"imported"`
}

// Import verifies the package at path and, unless VerifyOnly, installs it
// as a new brain. Signature is checked before checksum. A brain with the
// same id already present is never overwritten.
func (s *Store) Import(ctx context.Context, path string, p ImportParams) (*ImportResult, error) {
	fail := func(err error) error {
		if p.VerifyOnly {
			return fmt.Errorf("%w: %w", model.ErrImportVerifyOnlyFailure, err)
		}
		return err
	}

	pkg, err := ReadPackage(path)
	if err != nil {
		if errors.Is(err, model.ErrCorruptOrTamperedBrain) {
			return nil, fail(err)
		}
		return nil, err
	}
	if pkg.PackageVersion != PackageVersion {
		return nil, fail(fmt.Errorf("%w: package version %d", model.ErrSchemaVersionUnsupported, pkg.PackageVersion))
	}
	m := &pkg.Manifest
	if err := manifest.CheckSchema(m); err != nil {
		return nil, fail(err)
	}
	if p.TrustedPublicKey != nil {
		err = manifest.VerifyWithKey(m, p.TrustedPublicKey)
	} else {
		err = manifest.Verify(m)
	}
	if err != nil {
		return nil, fail(fmt.Errorf("%w: %w", model.ErrImportSignatureMismatch, err))
	}
	if err := manifest.VerifyChecksum(m, pkg.EncryptedState); err != nil {
		return nil, fail(err)
	}
	if err := kdfParams(m).Validate(); err != nil {
		return nil, fail(fmt.Errorf("%w: %v", model.ErrCorruptOrTamperedBrain, err))
	}

	res := &ImportResult{Summary: m.Summary(), Verified: true}
	if p.VerifyOnly {
		s.log.Info().Str("brain_id", m.BrainID).Msg("package verified")
		return res, nil
	}
	if len(p.Passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase is required to import", model.ErrInvalidArgument)
	}
	if _, err := uuid.Parse(m.BrainID); err != nil {
		return nil, fmt.Errorf("%w: brain_id %q is not a uuid", model.ErrCorruptOrTamperedBrain, m.BrainID)
	}
	final := s.dir(m.BrainID)
	if _, err := os.Stat(final); err == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrBrainExists, m.BrainID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, fmt.Errorf("create brains dir: %w", err)
	}
	staging := filepath.Join(s.root, ".import-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	installed := false
	defer func() {
		if !installed {
			os.RemoveAll(staging)
		}
	}()

	if err := writeSigningKey(staging, pkg.EncryptedSigningKey); err != nil {
		return nil, fmt.Errorf("stage signing key: %w", err)
	}
	if err := commit(staging, m, pkg.EncryptedState); err != nil {
		return nil, fmt.Errorf("stage state: %w", err)
	}

	h, err := s.openDir(ctx, staging, OpenParams{Passphrase: p.Passphrase, Actor: p.Actor, LockPolicy: LockFailFast})
	if err != nil {
		return nil, err
	}
	params := map[string]string{"source_brain_id": m.BrainID, "source_name": m.Name}
	var rename func(*model.Manifest)
	if p.Name != "" && p.Name != m.Name {
		params["name"] = p.Name
		rename = func(mf *model.Manifest) { mf.Name = p.Name }
	}
	err = h.mutateWith(model.OpImport, "", params, nil, rename)
	sum := h.Manifest().Summary()
	if cerr := h.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	if err := os.Rename(staging, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			return nil, fmt.Errorf("%w: %s", model.ErrBrainExists, m.BrainID)
		}
		return nil, fmt.Errorf("install brain: %w", err)
	}
	installed = true
	s.log.Info().Str("brain_id", sum.BrainID).Str("name", sum.Name).Msg("brain imported")
	res.Summary = sum
	res.Imported = true
	return res, nil
}
