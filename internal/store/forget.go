package store

import (
	"fmt"
	"strings"

	"github.com/rcliao/cortex-brain/internal/model"
)

// Forget suppresses every existing object of (subject, predicate) whose scope
// is covered by p.Scope, on all branches. Objects appended afterwards are
// not affected. Forgetting a key that has no objects records a suppression
// with a zero count.
func (m *Memory) Forget(p ForgetParams) (*model.Suppression, error) {
	subject := strings.TrimSpace(p.Subject)
	predicate := strings.TrimSpace(p.Predicate)
	if subject == "" || predicate == "" {
		return nil, fmt.Errorf("%w: subject and predicate are required", model.ErrInvalidArgument)
	}
	scope := p.Scope
	if scope == "" {
		scope = model.ScopeGlobal
	}
	if _, err := model.ParseScope(string(scope)); err != nil {
		return nil, err
	}

	s := model.Suppression{
		ID:        m.newID(),
		Seq:       m.tick(),
		Subject:   subject,
		Predicate: predicate,
		Scope:     scope,
		Reason:    p.Reason,
		CreatedAt: m.now(),
		CreatedBy: p.Actor,
	}
	for i := range m.st.Objects {
		o := &m.st.Objects[i]
		if o.Subject != subject || o.Predicate != predicate || o.Suppressed {
			continue
		}
		if !scope.Covers(o.Scope) {
			continue
		}
		o.Suppressed = true
		o.SuppressedBy = s.ID
		s.SuppressedCount++
	}
	m.st.Suppressions = append(m.st.Suppressions, s)
	m.settleRules(model.Key{Subject: subject, Predicate: predicate}, s.ID)
	return &s, nil
}

// settleRules closes open rules for k that have at most one live candidate
// left after a suppression.
func (m *Memory) settleRules(k model.Key, suppressionID string) {
	for i := range m.st.Rules {
		r := &m.st.Rules[i]
		if r.Status != model.RuleOpen || r.Subject != k.Subject || r.Predicate != k.Predicate {
			continue
		}
		var live []int
		for j, c := range r.Candidates {
			if o := m.object(c.ObjectID); o != nil && !o.Suppressed {
				live = append(live, j)
			}
		}
		if len(live) > 1 {
			continue
		}
		now := m.now()
		r.Status = model.RuleResolved
		r.ResolvedAt = &now
		r.ResolvedBy = "suppression:" + suppressionID
		if len(live) == 1 {
			r.Authoritative = r.Candidates[live[0]].ObjectID
			r.Candidates[live[0]].Role = model.RoleAuthoritative
		}
	}
}

// Suppressions returns every recorded suppression in clock order.
func (m *Memory) Suppressions() []model.Suppression {
	return append([]model.Suppression(nil), m.st.Suppressions...)
}
