package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/cortex-brain/internal/model"
)

// Branch forks name from source at source's current head. No objects are
// copied.
func (m *Memory) Branch(source, name string) (*model.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\ \t\n") {
		return nil, fmt.Errorf("%w: invalid branch name %q", model.ErrInvalidArgument, name)
	}
	if _, exists := m.st.Branches[name]; exists {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateBranchName, name)
	}
	src, ok := m.st.Branches[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrBranchNotFound, source)
	}
	b := &model.Branch{
		Name:      name,
		Parent:    &model.ForkPoint{Branch: src.Name, Version: src.Head},
		CreatedAt: m.now(),
	}
	m.st.Branches[name] = b
	cp := *b
	fp := *b.Parent
	cp.Parent = &fp
	return &cp, nil
}

// Branches returns every branch sorted by name.
func (m *Memory) Branches() []model.Branch {
	out := make([]model.Branch, 0, len(m.st.Branches))
	for _, b := range m.st.Branches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Head returns the head version of a branch.
func (m *Memory) Head(name string) (uint64, error) {
	b, ok := m.st.Branches[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrBranchNotFound, name)
	}
	return b.Head, nil
}
