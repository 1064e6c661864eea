package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/cortex-brain/internal/model"
)

const (
	subj = "user:local"
	pred = "prefers_beverage"
)

// diverge leaves main at "water" and exp at "coffee", both forked from "tea".
func diverge(t *testing.T) *Memory {
	t.Helper()
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", subj, pred, "tea")
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	mustAppend(t, m, "exp", subj, pred, "coffee")
	mustAppend(t, m, "main", subj, pred, "water")
	return m
}

func TestMergeTheirsFastForwardScenario(t *testing.T) {
	m, _ := newTestMemory(t)
	tea := mustAppend(t, m, "main", subj, pred, "tea")
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	coffee := mustAppend(t, m, "exp", subj, pred, "coffee")

	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyTheirs})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ResolvedCount)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, 0, report.UnresolvedCount)

	got, err := m.Read(ReadParams{Branch: "main", Subject: subj, Predicate: pred})
	require.NoError(t, err)
	assert.Equal(t, "coffee", model.ValueText(got.Value))
	assert.Equal(t, coffee.ID, got.MergedFrom)
	assert.Equal(t, tea.ID, got.LineagePrev)

	rules := m.Rules("main", false)
	require.Len(t, rules, 1)
	var superseded *model.RuleCandidate
	for i, c := range rules[0].Candidates {
		if c.Role == model.RoleSuperseded {
			superseded = &rules[0].Candidates[i]
		}
	}
	require.NotNil(t, superseded)
	assert.Equal(t, "tea", model.ValueText(superseded.Value))
	assert.Equal(t, tea.ID, superseded.ObjectID)
	assert.Equal(t, got.ID, rules[0].Authoritative)
}

func TestMergeFastForwardNewKey(t *testing.T) {
	m, _ := newTestMemory(t)
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	mustAppend(t, m, "exp", "s", "new", "v")

	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ResolvedCount)
	assert.Equal(t, "v", readValue(t, m, "main", "s", "new"))
	assert.Empty(t, m.Rules("main", false))
}

func TestMergeOnlyTargetTouched(t *testing.T) {
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", "s", "p", "a")
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	mustAppend(t, m, "main", "s", "p", "b")

	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyTheirs})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ResolvedCount)
	assert.Equal(t, "b", readValue(t, m, "main", "s", "p"))
}

func TestMergeIdenticalValuesNoConflict(t *testing.T) {
	m, _ := newTestMemory(t)
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	mustAppend(t, m, "exp", "s", "p", "same")
	mustAppend(t, m, "main", "s", "p", "same")

	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ResolvedCount)
	assert.Empty(t, report.Conflicts)
}

func TestMergeConflictOurs(t *testing.T) {
	m := diverge(t)

	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyOurs})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ResolvedCount)
	require.Len(t, report.Conflicts, 1)
	c := report.Conflicts[0]
	assert.Equal(t, model.ResolutionOurs, c.Resolution)
	assert.Equal(t, "coffee", model.ValueText(c.SourceValue))
	assert.Equal(t, "water", model.ValueText(c.TargetValue))
	assert.Equal(t, "water", readValue(t, m, "main", subj, pred))

	rules := m.Rules("main", false)
	require.Len(t, rules, 1)
	assert.Equal(t, model.RuleResolved, rules[0].Status)
	assert.Equal(t, model.RoleDiscarded, rules[0].Candidates[1].Role)
	assert.Equal(t, "coffee", model.ValueText(rules[0].Candidates[1].Value))
}

func TestMergeConflictTheirs(t *testing.T) {
	m := diverge(t)

	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyTheirs})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ResolvedCount)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, model.ResolutionTheirs, report.Conflicts[0].Resolution)
	assert.Equal(t, "coffee", readValue(t, m, "main", subj, pred))
	assert.Equal(t, "coffee", readValue(t, m, "exp", subj, pred))
}

func TestMergeManualLeavesOpenRule(t *testing.T) {
	m := diverge(t)

	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ResolvedCount)
	assert.Equal(t, 1, report.UnresolvedCount)
	require.Len(t, report.Unresolved, 1)
	assert.Equal(t, model.ResolutionUnresolved, report.Unresolved[0].Resolution)

	_, err = m.Read(ReadParams{Branch: "main", Subject: subj, Predicate: pred})
	assert.ErrorIs(t, err, model.ErrUnresolvedConflict)

	open := m.Rules("main", true)
	require.Len(t, open, 1)
	assert.Empty(t, open[0].Authoritative)
	require.Len(t, open[0].Candidates, 2)

	// An explicit append settles the conflict.
	juice := mustAppend(t, m, "main", subj, pred, "juice")
	assert.Equal(t, "juice", readValue(t, m, "main", subj, pred))
	assert.Empty(t, m.Rules("main", true))
	settled := m.Rules("main", false)[0]
	assert.Equal(t, juice.ID, settled.Authoritative)
	assert.Equal(t, "append:"+juice.ID, settled.ResolvedBy)
}

func TestMergeIdempotent(t *testing.T) {
	for _, strategy := range []model.MergeStrategy{model.StrategyOurs, model.StrategyTheirs, model.StrategyManual} {
		t.Run(string(strategy), func(t *testing.T) {
			m := diverge(t)
			mustAppend(t, m, "exp", "s", "fresh", "x")

			first, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: strategy})
			require.NoError(t, err)
			objects := len(m.State().Objects)
			rules := len(m.State().Rules)

			second, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: strategy})
			require.NoError(t, err)
			assert.Equal(t, 0, second.ResolvedCount)
			assert.Equal(t, objects, len(m.State().Objects))
			assert.Equal(t, rules, len(m.State().Rules))

			third, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: strategy})
			require.NoError(t, err)
			assert.Equal(t, second, third)
			if strategy == model.StrategyManual {
				assert.Equal(t, first.Unresolved, second.Unresolved)
			}
		})
	}
}

func TestMergeStaleHeadAppliesNothing(t *testing.T) {
	m := diverge(t)
	before := len(m.State().Objects)
	stale := uint64(1)

	_, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyTheirs, ExpectedTargetHead: &stale})
	assert.ErrorIs(t, err, model.ErrStaleBranchHead)
	assert.Equal(t, before, len(m.State().Objects))
	assert.Equal(t, "water", readValue(t, m, "main", subj, pred))

	head, err := m.Head("main")
	require.NoError(t, err)
	_, err = m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyTheirs, ExpectedTargetHead: &head})
	assert.NoError(t, err)
}

func TestMergeRejectsBadInput(t *testing.T) {
	m := diverge(t)
	_, err := m.Merge(MergeParams{Source: "main", Target: "main"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: "rebase"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = m.Merge(MergeParams{Source: "ghost", Target: "main"})
	assert.ErrorIs(t, err, model.ErrBranchNotFound)
}

func TestMergeParentIntoChild(t *testing.T) {
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", "s", "p", "a")
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	mustAppend(t, m, "main", "s", "p", "b")
	mustAppend(t, m, "main", "s", "q", "c")

	report, err := m.Merge(MergeParams{Source: "main", Target: "exp", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ResolvedCount)
	assert.Equal(t, "b", readValue(t, m, "exp", "s", "p"))
	assert.Equal(t, "c", readValue(t, m, "exp", "s", "q"))
}

func TestMergeAgainAfterSourceAdvances(t *testing.T) {
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", subj, pred, "tea")
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	mustAppend(t, m, "exp", subj, pred, "coffee")
	_, err = m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyTheirs})
	require.NoError(t, err)

	juice := mustAppend(t, m, "exp", subj, pred, "juice")
	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ResolvedCount)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, 0, report.UnresolvedCount)
	assert.Empty(t, m.Rules("main", true))

	got, err := m.Read(ReadParams{Branch: "main", Subject: subj, Predicate: pred})
	require.NoError(t, err)
	assert.Equal(t, "juice", model.ValueText(got.Value))
	assert.Equal(t, juice.ID, got.MergedFrom)
}

func TestMergeAgainAfterBothAdvance(t *testing.T) {
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", subj, pred, "tea")
	_, err := m.Branch("main", "exp")
	require.NoError(t, err)
	mustAppend(t, m, "exp", subj, pred, "coffee")
	_, err = m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyTheirs})
	require.NoError(t, err)

	// The target's own change after the merge still conflicts.
	mustAppend(t, m, "main", subj, pred, "water")
	mustAppend(t, m, "exp", subj, pred, "juice")
	report, err := m.Merge(MergeParams{Source: "exp", Target: "main", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ResolvedCount)
	assert.Equal(t, 1, report.UnresolvedCount)
}

func TestMergeSiblingsForkedAtSameHead(t *testing.T) {
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", subj, pred, "tea")
	_, err := m.Branch("main", "b")
	require.NoError(t, err)
	_, err = m.Branch("main", "c")
	require.NoError(t, err)
	mustAppend(t, m, "b", subj, pred, "coffee")

	report, err := m.Merge(MergeParams{Source: "b", Target: "c", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ResolvedCount)
	assert.Equal(t, 0, report.UnresolvedCount)
	assert.Equal(t, "coffee", readValue(t, m, "c", subj, pred))
	assert.Equal(t, "tea", readValue(t, m, "main", subj, pred))
}

func TestMergeSiblingsForkedAtDifferentHeads(t *testing.T) {
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", subj, pred, "tea")
	_, err := m.Branch("main", "b")
	require.NoError(t, err)
	mustAppend(t, m, "main", subj, pred, "water")
	_, err = m.Branch("main", "c")
	require.NoError(t, err)

	// c inherited "water", which b never saw.
	assert.Equal(t, "water", readValue(t, m, "c", subj, pred))
	mustAppend(t, m, "b", subj, pred, "coffee")

	report, err := m.Merge(MergeParams{Source: "b", Target: "c", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ResolvedCount)
	assert.Equal(t, 1, report.UnresolvedCount)
	_, err = m.Read(ReadParams{Branch: "c", Subject: subj, Predicate: pred})
	assert.ErrorIs(t, err, model.ErrUnresolvedConflict)
}

func TestMergeSiblingFastForwardsUntouchedKey(t *testing.T) {
	m, _ := newTestMemory(t)
	mustAppend(t, m, "main", subj, pred, "tea")
	_, err := m.Branch("main", "b")
	require.NoError(t, err)
	mustAppend(t, m, "main", "s", "other", "x")
	_, err = m.Branch("main", "c")
	require.NoError(t, err)
	mustAppend(t, m, "b", subj, pred, "coffee")

	// main's later change touched a different key, so b's change applies.
	report, err := m.Merge(MergeParams{Source: "b", Target: "c", Strategy: model.StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ResolvedCount)
	assert.Equal(t, 0, report.UnresolvedCount)
	assert.Equal(t, "coffee", readValue(t, m, "c", subj, pred))
	assert.Equal(t, "x", readValue(t, m, "c", "s", "other"))
}
