// Package registry keeps the local, non-secret bookkeeping that lives next to
// the brains: the active brain and API key mappings. Keys are stored only as
// sha256 hashes.
package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key or setting is not registered.
var ErrNotFound = errors.New("registry: not found")

const activeBrainKey = "active_brain"

// KeyMapping binds a hashed API key to a tenant, brain and subject.
type KeyMapping struct {
	KeyHash   string    `json:"key_hash"`
	TenantID  string    `json:"tenant_id"`
	BrainID   string    `json:"brain_id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteRegistry stores registry data in a SQLite database.
type SQLiteRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRegistry opens or creates a SQLite database at the given path.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	r := &SQLiteRegistry{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS api_keys (
		key_hash   TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		brain_id   TEXT NOT NULL,
		subject    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_brain ON api_keys(brain_id);

	CREATE TABLE IF NOT EXISTS settings (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// HashKey returns the lowercase hex sha256 of a plaintext API key.
func HashKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// MapKey registers (or re-points) an API key. The plaintext is never stored.
func (r *SQLiteRegistry) MapKey(ctx context.Context, apiKey, tenantID, brainID, subject string) (*KeyMapping, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if tenantID == "" || brainID == "" || subject == "" {
		return nil, fmt.Errorf("tenant, brain and subject are required")
	}
	m := &KeyMapping{
		KeyHash:   HashKey(apiKey),
		TenantID:  tenantID,
		BrainID:   brainID,
		Subject:   subject,
		CreatedAt: r.now(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, tenant_id, brain_id, subject, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key_hash) DO UPDATE SET
		   tenant_id = excluded.tenant_id,
		   brain_id = excluded.brain_id,
		   subject = excluded.subject,
		   created_at = excluded.created_at`,
		m.KeyHash, m.TenantID, m.BrainID, m.Subject, m.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("map key: %w", err)
	}
	return m, nil
}

// ResolveKey looks up the mapping for a plaintext API key.
func (r *SQLiteRegistry) ResolveKey(ctx context.Context, apiKey string) (*KeyMapping, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT key_hash, tenant_id, brain_id, subject, created_at FROM api_keys WHERE key_hash = ?`,
		HashKey(apiKey))
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// KeysForBrain lists the mappings pointing at a brain.
func (r *SQLiteRegistry) KeysForBrain(ctx context.Context, brainID string) ([]KeyMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key_hash, tenant_id, brain_id, subject, created_at FROM api_keys
		 WHERE brain_id = ? ORDER BY created_at, key_hash`, brainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeyMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ForgetBrain drops every mapping and the active marker for a deleted brain.
func (r *SQLiteRegistry) ForgetBrain(ctx context.Context, brainID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE brain_id = ?`, brainID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE k = ? AND v = ?`, activeBrainKey, brainID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetActiveBrain records the brain used when a command names none.
func (r *SQLiteRegistry) SetActiveBrain(ctx context.Context, brainID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		activeBrainKey, brainID)
	return err
}

// ActiveBrain returns the active brain id, or ErrNotFound.
func (r *SQLiteRegistry) ActiveBrain(ctx context.Context) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT v FROM settings WHERE k = ?`, activeBrainKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row scanner) (KeyMapping, error) {
	var m KeyMapping
	var createdAt string
	if err := row.Scan(&m.KeyHash, &m.TenantID, &m.BrainID, &m.Subject, &createdAt); err != nil {
		return m, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return m, nil
}
