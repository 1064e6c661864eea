// Package brain manages encrypted brains on disk: creation, listing, opening
// verified handles, deletion, and signed export/import.
package brain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/manifest"
	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

// DefaultSecretEnv is the environment variable consulted for the passphrase
// when a brain does not name its own.
const DefaultSecretEnv = "CORTEX_BRAIN_SECRET"

// Options configures a Store.
type Options struct {
	KDF         crypto.KDFParams
	LockPolicy  LockPolicy
	LockTimeout time.Duration
	Logger      zerolog.Logger
	// Now overrides the wall clock. Nil means time.Now in UTC.
	Now func() time.Time
}

// Store is the collection of brains under one home directory.
type Store struct {
	root string
	opts Options
	log  zerolog.Logger
}

// New returns a Store rooted at home/brains. Zero KDF parameters select the
// defaults.
func New(home string, opts Options) *Store {
	if opts.KDF == (crypto.KDFParams{}) {
		opts.KDF = crypto.DefaultKDFParams()
	}
	if opts.LockPolicy == "" {
		opts.LockPolicy = LockFailFast
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		root: filepath.Join(home, "brains"),
		opts: opts,
		log:  opts.Logger.With().Str("component", "brain").Logger(),
	}
}

// Root returns the directory holding one subdirectory per brain.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) dir(id string) string {
	return filepath.Join(s.root, id)
}

// CreateParams holds parameters for creating a brain.
type CreateParams struct {
	Name           string
	TenantID       string
	Passphrase     []byte
	Actor          string
	SecretEnv      string
	ExposedClasses []string
}

// Create initializes a new brain and returns its summary. The brain is not
// left open.
func (s *Store) Create(ctx context.Context, p CreateParams) (*model.Summary, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: brain name is required", model.ErrInvalidArgument)
	}
	if len(p.Passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase is required", model.ErrInvalidArgument)
	}
	tenant := p.TenantID
	if tenant == "" {
		tenant = "local"
	}
	secretEnv := p.SecretEnv
	if secretEnv == "" {
		secretEnv = DefaultSecretEnv
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey(p.Passphrase, salt, s.opts.KDF)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	pub, priv, err := crypto.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(priv)

	id := uuid.NewString()
	now := s.opts.Now()
	m := &model.Manifest{
		FormatVersion:    model.FormatVersion,
		SchemaVersion:    model.SchemaVersion,
		BrainID:          id,
		Name:             name,
		TenantID:         tenant,
		CreatedAt:        now,
		UpdatedAt:        now,
		ProtoVersion:     model.ProtoVersion,
		SchemaMigrations: []string{model.InitialMigration},
		ActiveBranch:     model.MainBranch,
		KDF: model.KDF{
			Algorithm: crypto.AlgorithmArgon2id,
			Salt:      salt,
			Time:      s.opts.KDF.Time,
			MemoryKiB: s.opts.KDF.MemoryKiB,
			Threads:   s.opts.KDF.Threads,
		},
		SigningPublicKey: pub,
		SecretEnv:        secretEnv,
	}

	st := model.NewState(now, p.ExposedClasses)
	eng := store.New(st, store.WithClock(s.opts.Now))
	eng.RecordAudit(model.OpCreate, p.Actor, model.MainBranch,
		map[string]string{"name": name, "tenant_id": tenant, "brain_id": id}, nil)

	sealedKey, err := crypto.Seal(key, priv.Seed(), signingKeyAAD(id))
	if err != nil {
		return nil, err
	}
	sealedState, err := sealState(key, id, st)
	if err != nil {
		return nil, err
	}
	m.StateSHA256 = crypto.Checksum(sealedState)
	if err := manifest.Sign(m, priv); err != nil {
		return nil, err
	}

	dir := s.dir(id)
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, fmt.Errorf("create brains dir: %w", err)
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create brain dir: %w", err)
	}
	if err := writeSigningKey(dir, sealedKey); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write signing key: %w", err)
	}
	if err := commit(dir, m, sealedState); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	s.log.Info().Str("brain_id", id).Str("name", name).Msg("brain created")
	sum := m.Summary()
	return &sum, nil
}

func signingKeyAAD(brainID string) []byte {
	return []byte(brainID + "/signing-key")
}

func sealState(key *crypto.Key, brainID string, st *model.State) ([]byte, error) {
	plain, err := st.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	defer crypto.ZeroBytes(plain)
	return crypto.Seal(key, plain, []byte(brainID))
}

// List returns the summaries of all brains, sorted by name. Brains whose
// manifest cannot be read are logged and skipped.
func (s *Store) List() ([]model.Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Summary{}, nil
		}
		return nil, err
	}
	out := []model.Summary{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m, err := manifest.Read(filepath.Join(s.root, e.Name(), manifestFile))
		if err != nil {
			s.log.Warn().Err(err).Str("dir", e.Name()).Msg("skipping unreadable brain")
			continue
		}
		out = append(out, m.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].BrainID < out[j].BrainID
	})
	return out, nil
}

// Resolve maps a brain id or unique name to its id.
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty brain reference", model.ErrBrainNotFound)
	}
	if !strings.ContainsAny(ref, `/\`) && !strings.HasPrefix(ref, ".") {
		if _, err := os.Stat(filepath.Join(s.dir(ref), manifestFile)); err == nil {
			return ref, nil
		}
	}
	all, err := s.List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, b := range all {
		if b.Name == ref {
			matches = append(matches, b.BrainID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", model.ErrBrainNotFound, ref)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%w: name %q matches %d brains, use the id", model.ErrInvalidArgument, ref, len(matches))
}

// Manifest returns the verified manifest of a brain without decrypting it.
func (s *Store) Manifest(ref string) (*model.Manifest, error) {
	id, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	m, state, err := loadPair(s.dir(id), false)
	if err != nil {
		return nil, err
	}
	if err := manifest.Check(m, state); err != nil {
		return nil, err
	}
	return m, nil
}

// Verify checks schema, signature and checksum of a stored brain. It does
// not need the passphrase.
func (s *Store) Verify(ref string) (*model.Summary, error) {
	m, err := s.Manifest(ref)
	if err != nil {
		return nil, err
	}
	sum := m.Summary()
	return &sum, nil
}

// Delete removes a brain directory. The caller must hold no handle on it; a
// held lock makes Delete fail with ErrBrainLocked.
func (s *Store) Delete(ctx context.Context, ref string) error {
	id, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	dir := s.dir(id)
	fl, err := acquireLock(ctx, dir, false, LockFailFast, 0)
	if err != nil {
		return err
	}
	defer fl.Close()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete brain %s: %w", id, err)
	}
	s.log.Info().Str("brain_id", id).Msg("brain deleted")
	return nil
}
