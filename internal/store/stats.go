package store

import "github.com/rcliao/cortex-brain/internal/model"

// Stats holds brain statistics.
type Stats struct {
	Clock             uint64        `json:"clock"`
	TotalObjects      int           `json:"total_objects"`
	SuppressedObjects int           `json:"suppressed_objects"`
	Keys              int           `json:"keys"`
	Rules             int           `json:"rules"`
	OpenRules         int           `json:"open_rules"`
	Suppressions      int           `json:"suppressions"`
	Attachments       int           `json:"attachments"`
	ActiveAttachments int           `json:"active_attachments"`
	AuditEntries      int           `json:"audit_entries"`
	Branches          []BranchStats `json:"branches"`
}

// BranchStats holds per-branch counts.
type BranchStats struct {
	Name     string `json:"name"`
	Parent   string `json:"parent,omitempty"`
	Head     uint64 `json:"head"`
	Objects  int    `json:"objects"`
	Readable int    `json:"readable"`
}

// Stats returns brain statistics.
func (m *Memory) Stats() *Stats {
	st := &Stats{
		Clock:        m.st.Clock,
		TotalObjects: len(m.st.Objects),
		Rules:        len(m.st.Rules),
		Suppressions: len(m.st.Suppressions),
		Attachments:  len(m.st.Attachments),
		AuditEntries: len(m.st.AuditLog),
	}
	m.index()
	st.Keys = len(m.byKey)

	perBranch := make(map[string]int)
	for _, o := range m.st.Objects {
		if o.Suppressed {
			st.SuppressedObjects++
		}
		perBranch[o.Branch]++
	}
	for _, r := range m.st.Rules {
		if r.Status == model.RuleOpen {
			st.OpenRules++
		}
	}
	now := m.now()
	for _, a := range m.st.Attachments {
		if a.Active(now) {
			st.ActiveAttachments++
		}
	}
	for _, b := range m.Branches() {
		bs := BranchStats{Name: b.Name, Head: b.Head, Objects: perBranch[b.Name]}
		if b.Parent != nil {
			bs.Parent = b.Parent.Branch
		}
		if heads, err := m.List(ListParams{Branch: b.Name}); err == nil {
			bs.Readable = len(heads)
		}
		st.Branches = append(st.Branches, bs)
	}
	return st
}
