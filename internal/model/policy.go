package model

import "time"

// Attachment is a least-privilege grant for an external agent/model pair.
type Attachment struct {
	ID           string        `json:"id"`
	AgentID      string        `json:"agent_id"`
	ModelID      string        `json:"model_id"`
	ReadClasses  []string      `json:"read_classes"`
	WriteClasses []string      `json:"write_classes"`
	Sinks        []string      `json:"sinks"`
	TTL          time.Duration `json:"ttl,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	DetachedAt   *time.Time    `json:"detached_at,omitempty"`
}

// ExpiresAt returns the expiry instant, or nil when the grant has no TTL.
func (a *Attachment) ExpiresAt() *time.Time {
	if a.TTL <= 0 {
		return nil
	}
	t := a.CreatedAt.Add(a.TTL)
	return &t
}

// Expired reports whether now is past created_at + ttl.
func (a *Attachment) Expired(now time.Time) bool {
	exp := a.ExpiresAt()
	return exp != nil && now.After(*exp)
}

// Active reports whether the grant is neither detached nor expired.
func (a *Attachment) Active(now time.Time) bool {
	return a.DetachedAt == nil && !a.Expired(now)
}

// PermissionOp is the kind of access checked against an attachment.
type PermissionOp string

const (
	PermRead  PermissionOp = "read"
	PermWrite PermissionOp = "write"
	PermSink  PermissionOp = "sink"
)

// AuditOp names the operation recorded by an audit entry.
type AuditOp string

const (
	OpCreate AuditOp = "create"
	OpAppend AuditOp = "append"
	OpBranch AuditOp = "branch"
	OpMerge  AuditOp = "merge"
	OpForget AuditOp = "forget"
	OpAttach AuditOp = "attach"
	OpDetach AuditOp = "detach"
	OpExport AuditOp = "export"
	OpImport AuditOp = "import"
)

// AuditEntry is one append-only record of a committed operation.
type AuditEntry struct {
	ID            string            `json:"id"`
	Seq           uint64            `json:"seq"`
	Op            AuditOp           `json:"op"`
	Actor         string            `json:"actor"`
	Timestamp     time.Time         `json:"timestamp"`
	Branch        string            `json:"branch,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	ResultSummary map[string]int    `json:"result_summary,omitempty"`
}

// PublicManifest enumerates what a plan may reference on one branch: the
// visible, unsuppressed keys and the attachment-scoped selectors.
type PublicManifest struct {
	BrainID   string        `json:"brain_id"`
	TenantID  string        `json:"tenant_id"`
	Branch    string        `json:"branch"`
	Head      uint64        `json:"head"`
	Keys      []ManifestKey `json:"keys"`
	Selectors []Selector    `json:"selectors"`
}

// ManifestKey is one readable key in a public manifest.
type ManifestKey struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Class     string `json:"class"`
	Scope     Scope  `json:"scope"`
	ObjectID  string `json:"object_id"`
}

// Selector describes an active attachment the kernel may act on behalf of.
type Selector struct {
	AttachmentID string   `json:"attachment_id"`
	AgentID      string   `json:"agent_id"`
	ModelID      string   `json:"model_id"`
	ReadClasses  []string `json:"read_classes"`
	WriteClasses []string `json:"write_classes"`
	Sinks        []string `json:"sinks"`
}
