package store

import (
	"fmt"

	"github.com/rcliao/cortex-brain/internal/model"
)

type mergeKind int

const (
	mergeFastForward mergeKind = iota
	mergeOurs
	mergeTheirs
	mergeManual
	mergeReported // already tracked by an open rule
)

// mergeAction is one planned change. Objects are copies so that the plan
// survives appends to the arena.
type mergeAction struct {
	kind mergeKind
	key  model.Key
	src  model.MemoryObject
	tgt  *model.MemoryObject
	rule *model.Rule
}

// Merge brings changes made on source since the common ancestor into
// target. The whole plan is computed before anything is written.
func (m *Memory) Merge(p MergeParams) (*model.MergeReport, error) {
	if p.Source == p.Target {
		return nil, fmt.Errorf("%w: cannot merge %s into itself", model.ErrInvalidArgument, p.Source)
	}
	strategy, err := model.ParseStrategy(string(p.Strategy))
	if err != nil {
		return nil, err
	}
	p.Strategy = strategy
	srcCh, err := m.chain(p.Source)
	if err != nil {
		return nil, err
	}
	tgtCh, err := m.chain(p.Target)
	if err != nil {
		return nil, err
	}
	if err := m.checkHead(p.Source, p.ExpectedSourceHead); err != nil {
		return nil, err
	}
	if err := m.checkHead(p.Target, p.ExpectedTargetHead); err != nil {
		return nil, err
	}

	plan, err := m.planMerge(p.Source, p.Target, strategy, srcCh, tgtCh)
	if err != nil {
		return nil, err
	}

	report := &model.MergeReport{
		Source:     p.Source,
		Target:     p.Target,
		Strategy:   strategy,
		Conflicts:  []model.MergeConflict{},
		Unresolved: []model.MergeConflict{},
	}
	for _, a := range plan {
		m.applyMerge(p, a, report)
	}
	report.UnresolvedCount = len(report.Unresolved)
	return report, nil
}

func (m *Memory) checkHead(branch string, want *uint64) error {
	if want == nil {
		return nil
	}
	if got := m.st.Branches[branch].Head; got != *want {
		return fmt.Errorf("%w: %s is at %d, expected %d", model.ErrStaleBranchHead, branch, got, *want)
	}
	return nil
}

// mergeBase finds the nearest level shared by both chains. The base limit is
// the lower of the two fork versions so that only history both sides saw
// counts as common.
func mergeBase(src, tgt []level) (si, ti int, limit uint64, ok bool) {
	for i, ls := range src {
		for j, lt := range tgt {
			if ls.branch == lt.branch {
				return i, j, min(ls.limit, lt.limit), true
			}
		}
	}
	return 0, 0, 0, false
}

// touched returns the keys with versions in ch above the base.
func (m *Memory) touched(ch []level, baseIdx int, baseLimit uint64) map[model.Key]bool {
	out := make(map[model.Key]bool)
	for i := 0; i <= baseIdx; i++ {
		lv := ch[i]
		for _, o := range m.st.Objects {
			if o.Branch != lv.branch || o.Version > lv.limit {
				continue
			}
			if i == baseIdx && o.Version <= baseLimit {
				continue
			}
			if i > 0 && o.Scope == model.ScopeBranch {
				continue
			}
			out[o.Key()] = true
		}
	}
	return out
}

func (m *Memory) planMerge(source, target string, strategy model.MergeStrategy, srcCh, tgtCh []level) ([]mergeAction, error) {
	si, ti, baseLimit, ok := mergeBase(srcCh, tgtCh)
	if !ok {
		return nil, fmt.Errorf("%w: %s and %s share no ancestor", model.ErrInvalidArgument, source, target)
	}
	srcTouched := m.touched(srcCh, si, baseLimit)
	tgtTouched := m.touched(tgtCh, ti, baseLimit)

	keys := make([]model.Key, 0, len(srcTouched))
	for k := range srcTouched {
		keys = append(keys, k)
	}
	sortKeys(keys)

	var plan []mergeAction
	for _, k := range keys {
		src := m.head(srcCh, k)
		if src == nil || src.Suppressed || src.Scope == model.ScopeBranch {
			continue
		}
		if r := m.openRule(target, k); r != nil {
			cp := *r
			plan = append(plan, mergeAction{kind: mergeReported, key: k, src: *src, rule: &cp})
			continue
		}

		var tgt *model.MemoryObject
		if h := m.head(tgtCh, k); h != nil && !h.Suppressed {
			cp := *h
			tgt = &cp
		}
		if tgt != nil && (tgt.ID == src.ID || m.descends(tgt, src.ID) || model.ValuesEqual(tgt.Value, src.Value)) {
			continue
		}
		if tgt == nil || !tgtTouched[k] || m.descends(src, tgt.ID) || m.carries(src, tgt) {
			plan = append(plan, mergeAction{kind: mergeFastForward, key: k, src: *src, tgt: tgt})
			continue
		}

		switch strategy {
		case model.StrategyOurs:
			if m.discarded(target, k, src.ID) {
				continue
			}
			plan = append(plan, mergeAction{kind: mergeOurs, key: k, src: *src, tgt: tgt})
		case model.StrategyTheirs:
			plan = append(plan, mergeAction{kind: mergeTheirs, key: k, src: *src, tgt: tgt})
		default:
			plan = append(plan, mergeAction{kind: mergeManual, key: k, src: *src, tgt: tgt})
		}
	}
	return plan, nil
}

// descends reports whether id is reachable from o through lineage or merge
// links.
func (m *Memory) descends(o *model.MemoryObject, id string) bool {
	seen := map[string]bool{o.ID: true}
	queue := []string{o.LineagePrev, o.MergedFrom}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == "" || seen[cur] {
			continue
		}
		if cur == id {
			return true
		}
		seen[cur] = true
		if next := m.object(cur); next != nil {
			queue = append(queue, next.LineagePrev, next.MergedFrom)
		}
	}
	return false
}

// carries reports whether tgt is a merge carry of src or of a version src
// descends from. Such a head holds nothing the target changed on its own.
func (m *Memory) carries(src, tgt *model.MemoryObject) bool {
	if tgt.MergedFrom == "" {
		return false
	}
	return tgt.MergedFrom == src.ID || m.descends(src, tgt.MergedFrom)
}

// discarded reports whether an earlier "ours" merge already rejected srcID.
func (m *Memory) discarded(branch string, k model.Key, srcID string) bool {
	for _, r := range m.st.Rules {
		if r.Branch != branch || r.Subject != k.Subject || r.Predicate != k.Predicate {
			continue
		}
		for _, c := range r.Candidates {
			if c.ObjectID == srcID && c.Role == model.RoleDiscarded {
				return true
			}
		}
	}
	return false
}

func (m *Memory) applyMerge(p MergeParams, a mergeAction, report *model.MergeReport) {
	tgtID := ""
	if a.tgt != nil {
		tgtID = a.tgt.ID
	}
	carry := func(prev string) model.MemoryObject {
		return m.appendObject(p.Target, model.MemoryObject{
			Subject:     a.key.Subject,
			Predicate:   a.key.Predicate,
			Value:       a.src.Value,
			Scope:       a.src.Scope,
			CreatedBy:   p.Actor,
			LineagePrev: prev,
			MergedFrom:  a.src.ID,
		})
	}
	conflict := func(resolution, ruleID string) model.MergeConflict {
		c := model.MergeConflict{
			Subject:     a.key.Subject,
			Predicate:   a.key.Predicate,
			SourceValue: a.src.Value,
			Resolution:  resolution,
			RuleID:      ruleID,
		}
		if a.tgt != nil {
			c.TargetValue = a.tgt.Value
		}
		return c
	}

	switch a.kind {
	case mergeFastForward:
		obj := carry(tgtID)
		if a.tgt != nil {
			m.addRule(p, a.key, p.Strategy, model.RuleResolved, "merge:fast-forward", obj.ID,
				[]model.RuleCandidate{
					{ObjectID: obj.ID, Value: obj.Value, Role: model.RoleAuthoritative, SourceBranch: p.Source},
					{ObjectID: tgtID, Value: a.tgt.Value, Role: model.RoleSuperseded, SourceBranch: p.Target},
				}, fmt.Sprintf("merge %s into %s: fast-forward over target value", p.Source, p.Target))
		}
		report.ResolvedCount++

	case mergeOurs:
		r := m.addRule(p, a.key, model.StrategyOurs, model.RuleResolved, "merge:ours", tgtID,
			[]model.RuleCandidate{
				{ObjectID: tgtID, Value: a.tgt.Value, Role: model.RoleAuthoritative, SourceBranch: p.Target},
				{ObjectID: a.src.ID, Value: a.src.Value, Role: model.RoleDiscarded, SourceBranch: p.Source},
			}, fmt.Sprintf("merge %s into %s: target value kept", p.Source, p.Target))
		report.Conflicts = append(report.Conflicts, conflict(model.ResolutionOurs, r.ID))
		report.ResolvedCount++

	case mergeTheirs:
		obj := carry(tgtID)
		r := m.addRule(p, a.key, model.StrategyTheirs, model.RuleResolved, "merge:theirs", obj.ID,
			[]model.RuleCandidate{
				{ObjectID: obj.ID, Value: obj.Value, Role: model.RoleAuthoritative, SourceBranch: p.Source},
				{ObjectID: tgtID, Value: a.tgt.Value, Role: model.RoleSuperseded, SourceBranch: p.Target},
			}, fmt.Sprintf("merge %s into %s: source value adopted", p.Source, p.Target))
		report.Conflicts = append(report.Conflicts, conflict(model.ResolutionTheirs, r.ID))
		report.ResolvedCount++

	case mergeManual:
		obj := carry("")
		r := m.addRule(p, a.key, model.StrategyManual, model.RuleOpen, "", "",
			[]model.RuleCandidate{
				{ObjectID: tgtID, Value: a.tgt.Value, Role: model.RoleCandidate, SourceBranch: p.Target},
				{ObjectID: obj.ID, Value: obj.Value, Role: model.RoleCandidate, SourceBranch: p.Source},
			}, fmt.Sprintf("merge %s into %s: needs a decision", p.Source, p.Target))
		c := conflict(model.ResolutionUnresolved, r.ID)
		report.Conflicts = append(report.Conflicts, c)
		report.Unresolved = append(report.Unresolved, c)

	case mergeReported:
		c := model.MergeConflict{
			Subject:    a.key.Subject,
			Predicate:  a.key.Predicate,
			Resolution: model.ResolutionUnresolved,
			RuleID:     a.rule.ID,
		}
		for _, cand := range a.rule.Candidates {
			if cand.SourceBranch == p.Target {
				c.TargetValue = cand.Value
			} else if c.SourceValue == nil {
				c.SourceValue = cand.Value
			}
		}
		report.Conflicts = append(report.Conflicts, c)
		report.Unresolved = append(report.Unresolved, c)
	}
}

func (m *Memory) addRule(p MergeParams, k model.Key, strategy model.MergeStrategy, status model.RuleStatus, resolvedBy, authoritative string, cands []model.RuleCandidate, reason string) model.Rule {
	now := m.now()
	r := model.Rule{
		ID:            m.newID(),
		Branch:        p.Target,
		Subject:       k.Subject,
		Predicate:     k.Predicate,
		Strategy:      strategy,
		Status:        status,
		Authoritative: authoritative,
		Candidates:    cands,
		Reason:        reason,
		CreatedAt:     now,
	}
	if status == model.RuleResolved {
		r.ResolvedAt = &now
		r.ResolvedBy = resolvedBy
	}
	m.st.Rules = append(m.st.Rules, r)
	return r
}

// Rules returns the rules owned by branch, or all rules when branch is
// empty. With openOnly, resolved rules are skipped.
func (m *Memory) Rules(branch string, openOnly bool) []model.Rule {
	var out []model.Rule
	for _, r := range m.st.Rules {
		if branch != "" && r.Branch != branch {
			continue
		}
		if openOnly && r.Status != model.RuleOpen {
			continue
		}
		out = append(out, r)
	}
	return out
}
