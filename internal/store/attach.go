package store

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/cortex-brain/internal/model"
)

// Attach grants an agent/model pair access to memory classes. An existing
// active grant for the same pair is detached first.
func (m *Memory) Attach(p AttachParams) (*model.Attachment, error) {
	agent := strings.TrimSpace(p.AgentID)
	modelID := strings.TrimSpace(p.ModelID)
	if agent == "" || modelID == "" {
		return nil, fmt.Errorf("%w: agent and model are required", model.ErrInvalidArgument)
	}
	if p.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must not be negative", model.ErrInvalidArgument)
	}
	now := m.now()
	for i := range m.st.Attachments {
		a := &m.st.Attachments[i]
		if a.AgentID == agent && a.ModelID == modelID && a.DetachedAt == nil {
			a.DetachedAt = &now
		}
	}
	a := model.Attachment{
		ID:           m.newID(),
		AgentID:      agent,
		ModelID:      modelID,
		ReadClasses:  cleanClasses(p.ReadClasses),
		WriteClasses: cleanClasses(p.WriteClasses),
		Sinks:        cleanClasses(p.Sinks),
		TTL:          p.TTL,
		CreatedAt:    now,
	}
	m.st.Attachments = append(m.st.Attachments, a)
	return &a, nil
}

// Detach ends the grants of agent. An empty modelID detaches all of the
// agent's models. It returns how many grants were ended.
func (m *Memory) Detach(agentID, modelID string) int {
	now := m.now()
	n := 0
	for i := range m.st.Attachments {
		a := &m.st.Attachments[i]
		if a.AgentID != agentID || a.DetachedAt != nil {
			continue
		}
		if modelID != "" && a.ModelID != modelID {
			continue
		}
		a.DetachedAt = &now
		n++
	}
	return n
}

// Attachment returns the active grant for agent/model.
func (m *Memory) Attachment(agentID, modelID string) (*model.Attachment, error) {
	now := m.now()
	for i := len(m.st.Attachments) - 1; i >= 0; i-- {
		a := m.st.Attachments[i]
		if a.AgentID == agentID && a.ModelID == modelID && a.Active(now) {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: no active attachment for %s/%s", model.ErrPermissionDenied, agentID, modelID)
}

// Attachments lists grants. With activeOnly, detached and expired grants
// are skipped.
func (m *Memory) Attachments(activeOnly bool) []model.Attachment {
	now := m.now()
	var out []model.Attachment
	for _, a := range m.st.Attachments {
		if activeOnly && !a.Active(now) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// CheckPermission reports whether a may perform op on class. Expiry is
// evaluated at call time. Reads and writes are also limited to the classes
// the brain exposes.
func (m *Memory) CheckPermission(a *model.Attachment, op model.PermissionOp, class string) bool {
	if a == nil || !a.Active(m.now()) {
		return false
	}
	var grants []string
	switch op {
	case model.PermRead:
		grants = a.ReadClasses
	case model.PermWrite:
		grants = a.WriteClasses
	case model.PermSink:
		return slices.ContainsFunc(a.Sinks, func(g string) bool { return classMatches(g, class) })
	default:
		return false
	}
	if !slices.ContainsFunc(grants, func(g string) bool { return classMatches(g, class) }) {
		return false
	}
	return slices.ContainsFunc(m.st.ExposedClasses, func(g string) bool { return classMatches(g, class) })
}

// classMatches reports whether grant covers class: exact match, the "*"
// wildcard, or a dotted prefix ("user" covers "user.pref").
func classMatches(grant, class string) bool {
	return grant == "*" || grant == class || strings.HasPrefix(class, grant+".")
}

func cleanClasses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

var ttlRegex = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseTTL parses a TTL string like "7d", "24h", "30m" into a time.Duration.
// The empty string means no expiry.
func ParseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	m := ttlRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid format %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}
