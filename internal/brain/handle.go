package brain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/manifest"
	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

// OpenParams holds parameters for opening a brain.
type OpenParams struct {
	Passphrase []byte
	ReadOnly   bool
	// Actor is recorded on every audit entry written through the handle.
	Actor string
	// LockPolicy overrides the store default when set.
	LockPolicy LockPolicy
}

// Handle is an open, verified, decrypted brain. It holds the directory lock
// until Close. A Handle is safe for concurrent use.
type Handle struct {
	mu       sync.Mutex
	s        *Store
	dir      string
	manifest *model.Manifest
	state    *model.State
	key      *crypto.Key
	signer   ed25519.PrivateKey
	lock     *flock.Flock
	readOnly bool
	actor    string
	closed   bool
	log      zerolog.Logger
}

// Open resolves ref, locks the brain, verifies its manifest and decrypts its
// state.
func (s *Store) Open(ctx context.Context, ref string, p OpenParams) (*Handle, error) {
	id, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return s.openDir(ctx, s.dir(id), p)
}

func (s *Store) openDir(ctx context.Context, dir string, p OpenParams) (*Handle, error) {
	policy := p.LockPolicy
	if policy == "" {
		policy = s.opts.LockPolicy
	}
	fl, err := acquireLock(ctx, dir, p.ReadOnly, policy, s.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	h, err := s.load(dir, p)
	if err != nil {
		fl.Close()
		return nil, err
	}
	h.lock = fl
	h.log.Debug().Bool("read_only", h.readOnly).Msg("brain opened")
	return h, nil
}

func (s *Store) load(dir string, p OpenParams) (*Handle, error) {
	if len(p.Passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase is required", model.ErrInvalidArgument)
	}
	m, sealed, err := loadPair(dir, !p.ReadOnly)
	if err != nil {
		return nil, err
	}
	if err := manifest.Check(m, sealed); err != nil {
		return nil, err
	}
	if base := filepath.Base(dir); !strings.HasPrefix(base, ".") && base != m.BrainID {
		return nil, fmt.Errorf("%w: manifest brain_id %s does not match directory %s", model.ErrCorruptOrTamperedBrain, m.BrainID, base)
	}

	kdf := kdfParams(m)
	if err := kdf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorruptOrTamperedBrain, err)
	}
	key, err := crypto.DeriveKey(p.Passphrase, m.KDF.Salt, kdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidPassphraseOrCorruptState, err)
	}
	plain, err := crypto.Open(key, sealed, []byte(m.BrainID))
	if err != nil {
		key.Zero()
		return nil, fmt.Errorf("%w: state does not decrypt", model.ErrInvalidPassphraseOrCorruptState)
	}
	st, err := model.DecodeState(plain)
	crypto.ZeroBytes(plain)
	if err != nil {
		key.Zero()
		return nil, fmt.Errorf("%w: state does not decode: %v", model.ErrInvalidPassphraseOrCorruptState, err)
	}

	h := &Handle{
		s:        s,
		dir:      dir,
		manifest: m,
		state:    st,
		key:      key,
		readOnly: p.ReadOnly,
		actor:    p.Actor,
		log:      s.log.With().Str("brain_id", m.BrainID).Logger(),
	}
	if h.actor == "" {
		h.actor = "local"
	}
	if !p.ReadOnly {
		signer, err := loadSigningKey(dir, key, m)
		if err != nil {
			key.Zero()
			return nil, err
		}
		h.signer = signer
	}
	return h, nil
}

func loadSigningKey(dir string, key *crypto.Key, m *model.Manifest) (ed25519.PrivateKey, error) {
	sealed, err := os.ReadFile(filepath.Join(dir, signingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("%w: signing key unreadable: %v", model.ErrCorruptOrTamperedBrain, err)
	}
	seed, err := crypto.Open(key, sealed, signingKeyAAD(m.BrainID))
	if err != nil {
		return nil, fmt.Errorf("%w: signing key does not decrypt", model.ErrCorruptOrTamperedBrain)
	}
	defer crypto.ZeroBytes(seed)
	priv, err := crypto.SigningKeyFromSeed(seed, m.SigningPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorruptOrTamperedBrain, err)
	}
	return priv, nil
}

// Close zeroes key material and releases the lock. It is safe to call more
// than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.key.Zero()
	crypto.ZeroBytes(h.signer)
	h.signer = nil
	h.state = nil
	var err error
	if h.lock != nil {
		err = h.lock.Close()
	}
	h.log.Debug().Msg("brain closed")
	return err
}

// ID returns the brain id.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manifest.BrainID
}

// ReadOnly reports whether the handle was opened without write access.
func (h *Handle) ReadOnly() bool {
	return h.readOnly
}

// Manifest returns a copy of the current signed manifest.
func (h *Handle) Manifest() model.Manifest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.manifest
}

func (h *Handle) branchOr(b string) string {
	if b != "" {
		return b
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manifest.ActiveBranch
}

func (h *Handle) engine(st *model.State) *store.Memory {
	return store.New(st, store.WithClock(h.s.opts.Now))
}

// view runs fn against the current state under the handle lock.
func (h *Handle) view(fn func(*store.Memory) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return model.ErrHandleClosed
	}
	return fn(h.engine(h.state))
}

// mutate applies fn to a copy of the state, records exactly one audit entry
// in that copy and persists it. The in-memory state only changes after the
// save succeeded, so a failed save loses both the change and its audit.
func (h *Handle) mutate(op model.AuditOp, branch string, params map[string]string, fn func(*store.Memory) (map[string]int, error)) error {
	return h.mutateWith(op, branch, params, fn, nil)
}

func (h *Handle) mutateWith(op model.AuditOp, branch string, params map[string]string, fn func(*store.Memory) (map[string]int, error), edit func(*model.Manifest)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return model.ErrHandleClosed
	}
	if h.readOnly {
		return fmt.Errorf("%w: %s", model.ErrReadOnly, op)
	}
	next := h.state.Clone()
	eng := h.engine(next)
	var summary map[string]int
	if fn != nil {
		var err error
		if summary, err = fn(eng); err != nil {
			return err
		}
	}
	eng.RecordAudit(op, h.actor, branch, params, summary)
	if err := h.save(next, edit); err != nil {
		h.log.Error().Err(err).Str("op", string(op)).Msg("save failed, change discarded")
		return err
	}
	h.state = next
	h.log.Debug().Str("op", string(op)).Str("branch", branch).Msg("committed")
	return nil
}

// save re-encrypts st, re-signs the manifest and commits both.
func (h *Handle) save(st *model.State, edit func(*model.Manifest)) error {
	sealed, err := sealState(h.key, h.manifest.BrainID, st)
	if err != nil {
		return err
	}
	m := *h.manifest
	m.SchemaMigrations = append([]string(nil), h.manifest.SchemaMigrations...)
	if edit != nil {
		edit(&m)
	}
	m.UpdatedAt = h.s.opts.Now()
	m.StateSHA256 = crypto.Checksum(sealed)
	if err := manifest.Sign(&m, h.signer); err != nil {
		return err
	}
	if err := commit(h.dir, &m, sealed); err != nil {
		return err
	}
	h.manifest = &m
	return nil
}

// Append adds a version of (subject, predicate) to a branch. An empty branch
// means the active branch.
func (h *Handle) Append(p store.AppendParams) (*model.MemoryObject, error) {
	p.Branch = h.branchOr(p.Branch)
	if p.Actor == "" {
		p.Actor = h.actor
	}
	var obj *model.MemoryObject
	err := h.mutate(model.OpAppend, p.Branch, map[string]string{
		"subject":   p.Subject,
		"predicate": p.Predicate,
		"scope":     string(p.Scope),
	}, func(m *store.Memory) (map[string]int, error) {
		var err error
		if obj, err = m.Append(p); err != nil {
			return nil, err
		}
		return map[string]int{"version": int(obj.Version)}, nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// AppendBatch appends several objects to one branch as a single committed
// operation. When expectedHead is set and the branch head differs, nothing
// is written and ErrStaleBranchHead is returned.
func (h *Handle) AppendBatch(branch string, expectedHead *uint64, items []store.AppendParams) ([]model.MemoryObject, error) {
	branch = h.branchOr(branch)
	var out []model.MemoryObject
	err := h.mutate(model.OpAppend, branch, map[string]string{
		"batch": strconv.Itoa(len(items)),
	}, func(m *store.Memory) (map[string]int, error) {
		head, err := m.Head(branch)
		if err != nil {
			return nil, err
		}
		if expectedHead != nil && head != *expectedHead {
			return nil, fmt.Errorf("%w: %s is at %d, expected %d", model.ErrStaleBranchHead, branch, head, *expectedHead)
		}
		for _, it := range items {
			it.Branch = branch
			if it.Actor == "" {
				it.Actor = h.actor
			}
			obj, err := m.Append(it)
			if err != nil {
				return nil, err
			}
			out = append(out, *obj)
		}
		return map[string]int{"appended": len(out)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Read returns the authoritative value of a key.
func (h *Handle) Read(p store.ReadParams) (*model.MemoryObject, error) {
	p.Branch = h.branchOr(p.Branch)
	var obj *model.MemoryObject
	err := h.view(func(m *store.Memory) error {
		var err error
		obj, err = m.Read(p)
		return err
	})
	return obj, err
}

// History returns every visible version of a key, newest first.
func (h *Handle) History(p store.ReadParams) ([]model.MemoryObject, error) {
	p.Branch = h.branchOr(p.Branch)
	var out []model.MemoryObject
	err := h.view(func(m *store.Memory) error {
		var err error
		out, err = m.History(p)
		return err
	})
	return out, err
}

// List returns the readable heads of a branch.
func (h *Handle) List(p store.ListParams) ([]model.MemoryObject, error) {
	p.Branch = h.branchOr(p.Branch)
	var out []model.MemoryObject
	err := h.view(func(m *store.Memory) error {
		var err error
		out, err = m.List(p)
		return err
	})
	return out, err
}

// Branch forks name from source. An empty source means the active branch.
func (h *Handle) Branch(source, name string) (*model.Branch, error) {
	source = h.branchOr(source)
	var b *model.Branch
	err := h.mutate(model.OpBranch, name, map[string]string{"source": source, "name": name},
		func(m *store.Memory) (map[string]int, error) {
			var err error
			if b, err = m.Branch(source, name); err != nil {
				return nil, err
			}
			return map[string]int{"fork_version": int(b.Parent.Version)}, nil
		})
	return b, err
}

// Branches lists every branch.
func (h *Handle) Branches() ([]model.Branch, error) {
	var out []model.Branch
	err := h.view(func(m *store.Memory) error {
		out = m.Branches()
		return nil
	})
	return out, err
}

// Head returns the head version of a branch.
func (h *Handle) Head(branch string) (uint64, error) {
	branch = h.branchOr(branch)
	var head uint64
	err := h.view(func(m *store.Memory) error {
		var err error
		head, err = m.Head(branch)
		return err
	})
	return head, err
}

// Checkout makes branch the default for operations that omit one.
func (h *Handle) Checkout(branch string) error {
	return h.mutateWith(model.OpBranch, branch, map[string]string{"checkout": branch},
		func(m *store.Memory) (map[string]int, error) {
			_, err := m.Head(branch)
			return nil, err
		},
		func(mf *model.Manifest) { mf.ActiveBranch = branch })
}

// Merge merges source into target.
func (h *Handle) Merge(p store.MergeParams) (*model.MergeReport, error) {
	p.Target = h.branchOr(p.Target)
	if p.Actor == "" {
		p.Actor = h.actor
	}
	var report *model.MergeReport
	err := h.mutate(model.OpMerge, p.Target, map[string]string{
		"source":   p.Source,
		"target":   p.Target,
		"strategy": string(p.Strategy),
	}, func(m *store.Memory) (map[string]int, error) {
		var err error
		if report, err = m.Merge(p); err != nil {
			return nil, err
		}
		return map[string]int{
			"resolved_count":   report.ResolvedCount,
			"conflict_count":   len(report.Conflicts),
			"unresolved_count": report.UnresolvedCount,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Forget suppresses a key across all branches.
func (h *Handle) Forget(p store.ForgetParams) (*model.Suppression, error) {
	if p.Actor == "" {
		p.Actor = h.actor
	}
	var s *model.Suppression
	err := h.mutate(model.OpForget, "", map[string]string{
		"subject":   p.Subject,
		"predicate": p.Predicate,
		"scope":     string(p.Scope),
		"reason":    p.Reason,
	}, func(m *store.Memory) (map[string]int, error) {
		var err error
		if s, err = m.Forget(p); err != nil {
			return nil, err
		}
		return map[string]int{"suppressed_count": s.SuppressedCount}, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Attach grants an agent/model pair access.
func (h *Handle) Attach(p store.AttachParams) (*model.Attachment, error) {
	var a *model.Attachment
	err := h.mutate(model.OpAttach, "", map[string]string{
		"agent_id":      p.AgentID,
		"model_id":      p.ModelID,
		"read_classes":  strings.Join(p.ReadClasses, ","),
		"write_classes": strings.Join(p.WriteClasses, ","),
		"sinks":         strings.Join(p.Sinks, ","),
		"ttl":           p.TTL.String(),
	}, func(m *store.Memory) (map[string]int, error) {
		var err error
		a, err = m.Attach(p)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Detach ends the grants of an agent; an empty modelID ends all of them.
func (h *Handle) Detach(agentID, modelID string) (int, error) {
	n := 0
	err := h.mutate(model.OpDetach, "", map[string]string{"agent_id": agentID, "model_id": modelID},
		func(m *store.Memory) (map[string]int, error) {
			n = m.Detach(agentID, modelID)
			return map[string]int{"detached_count": n}, nil
		})
	return n, err
}

// Attachment returns the active grant for agent/model.
func (h *Handle) Attachment(agentID, modelID string) (*model.Attachment, error) {
	var a *model.Attachment
	err := h.view(func(m *store.Memory) error {
		var err error
		a, err = m.Attachment(agentID, modelID)
		return err
	})
	return a, err
}

// Attachments lists grants.
func (h *Handle) Attachments(activeOnly bool) ([]model.Attachment, error) {
	var out []model.Attachment
	err := h.view(func(m *store.Memory) error {
		out = m.Attachments(activeOnly)
		return nil
	})
	return out, err
}

// CheckPermission reports whether a may perform op on class. A closed
// handle denies everything.
func (h *Handle) CheckPermission(a *model.Attachment, op model.PermissionOp, class string) bool {
	ok := false
	_ = h.view(func(m *store.Memory) error {
		ok = m.CheckPermission(a, op, class)
		return nil
	})
	return ok
}

// AuditQuery returns ledger entries matching f.
func (h *Handle) AuditQuery(f store.AuditFilter) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	err := h.view(func(m *store.Memory) error {
		out = m.AuditQuery(f)
		return nil
	})
	return out, err
}

// Rules returns conflict rules owned by branch ("" for all).
func (h *Handle) Rules(branch string, openOnly bool) ([]model.Rule, error) {
	var out []model.Rule
	err := h.view(func(m *store.Memory) error {
		out = m.Rules(branch, openOnly)
		return nil
	})
	return out, err
}

// Suppressions returns every recorded suppression.
func (h *Handle) Suppressions() ([]model.Suppression, error) {
	var out []model.Suppression
	err := h.view(func(m *store.Memory) error {
		out = m.Suppressions()
		return nil
	})
	return out, err
}

// PublicManifest returns what a plan may reference on branch, optionally
// narrowed to one attachment.
func (h *Handle) PublicManifest(branch string, a *model.Attachment) (*model.PublicManifest, error) {
	branch = h.branchOr(branch)
	var pm *model.PublicManifest
	err := h.view(func(m *store.Memory) error {
		var err error
		pm, err = m.PublicManifest(store.ManifestParams{
			BrainID:    h.manifest.BrainID,
			TenantID:   h.manifest.TenantID,
			Branch:     branch,
			Attachment: a,
		})
		return err
	})
	return pm, err
}

// Stats returns brain statistics.
func (h *Handle) Stats() (*store.Stats, error) {
	var st *store.Stats
	err := h.view(func(m *store.Memory) error {
		st = m.Stats()
		return nil
	})
	return st, err
}

// With opens ref, runs fn and closes the handle.
func (s *Store) With(ctx context.Context, ref string, p OpenParams, fn func(*Handle) error) error {
	h, err := s.Open(ctx, ref, p)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

func kdfParams(m *model.Manifest) crypto.KDFParams {
	return crypto.KDFParams{
		Time:      m.KDF.Time,
		MemoryKiB: m.KDF.MemoryKiB,
		Threads:   m.KDF.Threads,
	}
}
