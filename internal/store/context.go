package store

import (
	"github.com/rcliao/cortex-brain/internal/model"
)

// ManifestParams holds parameters for public manifest assembly.
type ManifestParams struct {
	BrainID  string
	TenantID string
	Branch   string
	// Attachment restricts keys to the classes it may read. Nil lists every
	// readable key and every active selector.
	Attachment *model.Attachment
}

// PublicManifest assembles what a plan may reference on a branch: readable
// keys plus the selectors of active attachments. Suppressed, conflicted and
// broken keys never appear.
func (m *Memory) PublicManifest(p ManifestParams) (*model.PublicManifest, error) {
	heads, err := m.List(ListParams{Branch: p.Branch})
	if err != nil {
		return nil, err
	}
	head, _ := m.Head(p.Branch)
	pm := &model.PublicManifest{
		BrainID:   p.BrainID,
		TenantID:  p.TenantID,
		Branch:    p.Branch,
		Head:      head,
		Keys:      []model.ManifestKey{},
		Selectors: []model.Selector{},
	}
	for _, o := range heads {
		class := model.ClassOf(o.Predicate)
		if p.Attachment != nil && !m.CheckPermission(p.Attachment, model.PermRead, class) {
			continue
		}
		pm.Keys = append(pm.Keys, model.ManifestKey{
			Subject:   o.Subject,
			Predicate: o.Predicate,
			Class:     class,
			Scope:     o.Scope,
			ObjectID:  o.ID,
		})
	}

	now := m.now()
	for _, a := range m.st.Attachments {
		if !a.Active(now) {
			continue
		}
		if p.Attachment != nil && a.ID != p.Attachment.ID {
			continue
		}
		pm.Selectors = append(pm.Selectors, model.Selector{
			AttachmentID: a.ID,
			AgentID:      a.AgentID,
			ModelID:      a.ModelID,
			ReadClasses:  a.ReadClasses,
			WriteClasses: a.WriteClasses,
			Sinks:        a.Sinks,
		})
	}
	return pm, nil
}
