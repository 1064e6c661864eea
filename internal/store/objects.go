package store

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rcliao/cortex-brain/internal/model"
)

// level is one step in a branch's visibility chain: objects of branch with
// Version <= limit are visible.
type level struct {
	branch string
	limit  uint64
}

// chain returns the visibility chain of name, nearest level first.
func (m *Memory) chain(name string) ([]level, error) {
	b, ok := m.st.Branches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrBranchNotFound, name)
	}
	out := []level{{branch: name, limit: math.MaxUint64}}
	for b.Parent != nil {
		if len(out) > len(m.st.Branches) {
			return nil, fmt.Errorf("%w: branch ancestry of %s has a cycle", model.ErrCorruptOrTamperedBrain, name)
		}
		parent, ok := m.st.Branches[b.Parent.Branch]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s of %s", model.ErrBranchNotFound, b.Parent.Branch, b.Name)
		}
		out = append(out, level{branch: parent.Name, limit: b.Parent.Version})
		b = parent
	}
	return out, nil
}

// view returns the versions of k visible through ch, newest first. Branch
// local objects are not inherited by child branches.
func (m *Memory) view(ch []level, k model.Key) []*model.MemoryObject {
	m.index()
	idx := m.byKey[k]
	var out []*model.MemoryObject
	for depth, lv := range ch {
		start := len(out)
		for _, i := range idx {
			o := &m.st.Objects[i]
			if o.Branch != lv.branch || o.Version > lv.limit {
				continue
			}
			if depth > 0 && o.Scope == model.ScopeBranch {
				continue
			}
			out = append(out, o)
		}
		lvl := out[start:]
		sort.Slice(lvl, func(a, b int) bool { return lvl[a].Version > lvl[b].Version })
	}
	return out
}

func (m *Memory) head(ch []level, k model.Key) *model.MemoryObject {
	v := m.view(ch, k)
	if len(v) == 0 {
		return nil
	}
	return v[0]
}

// openRule returns the open conflict rule owned by branch for k.
func (m *Memory) openRule(branch string, k model.Key) *model.Rule {
	for i := len(m.st.Rules) - 1; i >= 0; i-- {
		r := &m.st.Rules[i]
		if r.Status == model.RuleOpen && r.Branch == branch && r.Subject == k.Subject && r.Predicate == k.Predicate {
			return r
		}
	}
	return nil
}

// resolve returns the authoritative visible object for k on branch.
func (m *Memory) resolve(branch string, ch []level, k model.Key) (*model.MemoryObject, error) {
	if r := m.openRule(branch, k); r != nil {
		return nil, fmt.Errorf("%w: %s on %s (rule %s)", model.ErrUnresolvedConflict, k, branch, r.ID)
	}
	h := m.head(ch, k)
	if h == nil {
		return nil, fmt.Errorf("%w: %s on %s", model.ErrNotFound, k, branch)
	}
	if h.Suppressed {
		if alt := m.survivor(branch, ch, k); alt != nil {
			return alt, nil
		}
		return nil, fmt.Errorf("%w: %s on %s is suppressed", model.ErrNotFound, k, branch)
	}
	if h.LineagePrev != "" {
		if prev := m.object(h.LineagePrev); prev != nil && prev.Suppressed {
			return nil, fmt.Errorf("%w: %s on %s: predecessor %s is suppressed", model.ErrBrokenLineage, k, branch, prev.ID)
		}
	}
	return h, nil
}

// survivor handles a conflict closed by suppression: when the latest rule for
// k on branch was resolved because all but one candidate were forgotten, the
// remaining candidate stays readable even though it is not the newest object.
func (m *Memory) survivor(branch string, ch []level, k model.Key) *model.MemoryObject {
	for i := len(m.st.Rules) - 1; i >= 0; i-- {
		r := &m.st.Rules[i]
		if r.Branch != branch || r.Subject != k.Subject || r.Predicate != k.Predicate {
			continue
		}
		if !strings.HasPrefix(r.ResolvedBy, "suppression:") || r.Authoritative == "" {
			return nil
		}
		for _, o := range m.view(ch, k) {
			if o.ID == r.Authoritative && !o.Suppressed {
				return o
			}
		}
		return nil
	}
	return nil
}

// Append adds a new version of (subject, predicate) to the branch head.
func (m *Memory) Append(p AppendParams) (*model.MemoryObject, error) {
	k := model.Key{Subject: strings.TrimSpace(p.Subject), Predicate: strings.TrimSpace(p.Predicate)}
	if k.Subject == "" || k.Predicate == "" {
		return nil, fmt.Errorf("%w: subject and predicate are required", model.ErrInvalidArgument)
	}
	if len(p.Value) == 0 {
		return nil, fmt.Errorf("%w: value is required", model.ErrInvalidArgument)
	}
	value, err := model.NormalizeValue(p.Value)
	if err != nil {
		return nil, err
	}
	scope := p.Scope
	if scope == "" {
		scope = model.ScopeGlobal
	}
	if _, err := model.ParseScope(string(scope)); err != nil {
		return nil, err
	}
	ch, err := m.chain(p.Branch)
	if err != nil {
		return nil, err
	}

	prev := ""
	if h := m.head(ch, k); h != nil && !h.Suppressed {
		prev = h.ID
	}
	obj := m.appendObject(p.Branch, model.MemoryObject{
		Subject:     k.Subject,
		Predicate:   k.Predicate,
		Value:       value,
		Scope:       scope,
		CreatedBy:   p.Actor,
		LineagePrev: prev,
	})

	if r := m.openRule(p.Branch, k); r != nil {
		now := m.now()
		r.Status = model.RuleResolved
		r.Authoritative = obj.ID
		r.ResolvedAt = &now
		r.ResolvedBy = "append:" + obj.ID
		r.Candidates = append(r.Candidates, model.RuleCandidate{
			ObjectID:     obj.ID,
			Value:        obj.Value,
			Role:         model.RoleAuthoritative,
			SourceBranch: p.Branch,
		})
	}
	return &obj, nil
}

// appendObject stamps id, version, seq and time onto o, stores it on branch
// and returns a copy.
func (m *Memory) appendObject(branch string, o model.MemoryObject) model.MemoryObject {
	m.index()
	b := m.st.Branches[branch]
	b.Head++
	o.ID = m.newID()
	o.Seq = m.tick()
	o.Branch = branch
	o.Version = b.Head
	o.CreatedAt = m.now()
	m.st.Objects = append(m.st.Objects, o)
	i := len(m.st.Objects) - 1
	m.byKey[o.Key()] = append(m.byKey[o.Key()], i)
	m.byID[o.ID] = i
	return o
}

// Read returns the authoritative value of a key on a branch.
func (m *Memory) Read(p ReadParams) (*model.MemoryObject, error) {
	ch, err := m.chain(p.Branch)
	if err != nil {
		return nil, err
	}
	o, err := m.resolve(p.Branch, ch, model.Key{Subject: p.Subject, Predicate: p.Predicate})
	if err != nil {
		return nil, err
	}
	cp := *o
	return &cp, nil
}

// History returns every version of a key visible on a branch, newest first,
// including suppressed ones. Superseded marks versions that are not the
// head of this view.
func (m *Memory) History(p ReadParams) ([]model.MemoryObject, error) {
	ch, err := m.chain(p.Branch)
	if err != nil {
		return nil, err
	}
	v := m.view(ch, model.Key{Subject: p.Subject, Predicate: p.Predicate})
	out := make([]model.MemoryObject, len(v))
	for i, o := range v {
		out[i] = *o
		out[i].Superseded = i > 0
	}
	return out, nil
}

// List returns the readable head of every key visible on a branch, sorted by
// subject then predicate. With IncludeSuppressed, raw heads are returned
// instead, suppressed or not.
func (m *Memory) List(p ListParams) ([]model.MemoryObject, error) {
	ch, err := m.chain(p.Branch)
	if err != nil {
		return nil, err
	}
	m.index()
	keys := make([]model.Key, 0, len(m.byKey))
	for k := range m.byKey {
		if p.Subject != "" && k.Subject != p.Subject {
			continue
		}
		if p.Class != "" && !classMatches(p.Class, model.ClassOf(k.Predicate)) {
			continue
		}
		keys = append(keys, k)
	}
	sortKeys(keys)

	var out []model.MemoryObject
	for _, k := range keys {
		var o *model.MemoryObject
		if p.IncludeSuppressed {
			o = m.head(ch, k)
		} else {
			o, _ = m.resolve(p.Branch, ch, k)
		}
		if o == nil {
			continue
		}
		out = append(out, *o)
		if p.Limit > 0 && len(out) >= p.Limit {
			break
		}
	}
	return out, nil
}

func sortKeys(keys []model.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Subject != keys[j].Subject {
			return keys[i].Subject < keys[j].Subject
		}
		return keys[i].Predicate < keys[j].Predicate
	})
}
