package store

import (
	"strings"

	"github.com/rcliao/cortex-brain/internal/model"
)

const redacted = "[REDACTED]"

var sensitiveParams = []string{"passphrase", "password", "secret", "token", "api_key", "signing_key"}

// RecordAudit appends one ledger entry. Parameters that look like secrets
// are redacted before they are stored.
func (m *Memory) RecordAudit(op model.AuditOp, actor, branch string, params map[string]string, summary map[string]int) model.AuditEntry {
	e := model.AuditEntry{
		ID:            m.newID(),
		Seq:           m.tick(),
		Op:            op,
		Actor:         actor,
		Timestamp:     m.now(),
		Branch:        branch,
		Parameters:    redact(params),
		ResultSummary: summary,
	}
	m.st.AuditLog = append(m.st.AuditLog, e)
	return e
}

func redact(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		lk := strings.ToLower(k)
		out[k] = v
		for _, s := range sensitiveParams {
			if strings.Contains(lk, s) {
				out[k] = redacted
				break
			}
		}
	}
	return out
}

// AuditQuery returns ledger entries matching f, oldest first. Limit keeps
// the most recent entries.
func (m *Memory) AuditQuery(f AuditFilter) []model.AuditEntry {
	var out []model.AuditEntry
	for _, e := range m.st.AuditLog {
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		if f.Op != "" && e.Op != f.Op {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if f.Subject != "" && e.Parameters["subject"] != f.Subject {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
