package model

import "time"

const (
	// FormatVersion tags the on-disk layout.
	FormatVersion = "brain/v1"
	// SchemaVersion is the newest state schema this build understands.
	SchemaVersion = 1
	// ProtoVersion is the execution-kernel protocol the state is shaped for.
	ProtoVersion = "cortex_rmvm_v3_1"
	// InitialMigration is recorded on every newly created brain.
	InitialMigration = "brain/v1:init"
)

// Manifest is the signed header stored in brain.json. Field order is the
// canonical signing order; do not reorder.
type Manifest struct {
	FormatVersion    string    `json:"format_version"`
	SchemaVersion    int       `json:"schema_version"`
	BrainID          string    `json:"brain_id"`
	Name             string    `json:"name"`
	TenantID         string    `json:"tenant_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ProtoVersion     string    `json:"proto_version"`
	SchemaMigrations []string  `json:"schema_migrations"`
	ActiveBranch     string    `json:"active_branch"`
	KDF              KDF       `json:"kdf"`
	SigningPublicKey []byte    `json:"signing_public_key"`
	StateSHA256      string    `json:"state_sha256"`
	SecretEnv        string    `json:"secret_env,omitempty"`
	Signature        []byte    `json:"signature,omitempty"`
}

// KDF records how the symmetric key is derived from the passphrase.
type KDF struct {
	Algorithm string `json:"algorithm"`
	Salt      []byte `json:"salt"`
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
}

// Summary is the public, non-secret description of a brain.
type Summary struct {
	BrainID      string    `json:"brain_id"`
	Name         string    `json:"name"`
	TenantID     string    `json:"tenant_id"`
	UpdatedAt    time.Time `json:"updated_at"`
	ActiveBranch string    `json:"active_branch"`
}

// Summary returns the public description of the manifest.
func (m Manifest) Summary() Summary {
	return Summary{
		BrainID:      m.BrainID,
		Name:         m.Name,
		TenantID:     m.TenantID,
		UpdatedAt:    m.UpdatedAt,
		ActiveBranch: m.ActiveBranch,
	}
}
