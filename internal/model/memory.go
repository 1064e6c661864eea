// Package model defines the core brain data types and the error taxonomy.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Scope is the visibility scope of a memory object or a suppression.
type Scope string

const (
	ScopeGlobal Scope = "SCOPE_GLOBAL"
	ScopeTenant Scope = "SCOPE_TENANT"
	ScopeBranch Scope = "SCOPE_BRANCH"
)

var scopeRank = map[Scope]int{
	ScopeGlobal: 3,
	ScopeTenant: 2,
	ScopeBranch: 1,
}

// ParseScope accepts the canonical names and the short forms global, tenant
// and branch. Empty input yields ScopeGlobal.
func ParseScope(s string) (Scope, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SCOPE_GLOBAL", "GLOBAL":
		return ScopeGlobal, nil
	case "SCOPE_TENANT", "TENANT":
		return ScopeTenant, nil
	case "SCOPE_BRANCH", "BRANCH":
		return ScopeBranch, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidArgument, s)
}

// Covers reports whether a suppression in scope s applies to an object in
// scope other. Wider scopes cover every narrower one.
func (s Scope) Covers(other Scope) bool {
	return scopeRank[s] >= scopeRank[other] && scopeRank[other] > 0
}

// MemoryObject is one immutable version of a (subject, predicate) value.
// Only Suppressed and SuppressedBy change after creation.
type MemoryObject struct {
	ID           string          `json:"id"`
	Seq          uint64          `json:"seq"`
	Subject      string          `json:"subject"`
	Predicate    string          `json:"predicate"`
	Value        json.RawMessage `json:"value"`
	Scope        Scope           `json:"scope"`
	Branch       string          `json:"branch"`
	Version      uint64          `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	CreatedBy    string          `json:"created_by,omitempty"`
	LineagePrev  string          `json:"lineage_prev,omitempty"`
	MergedFrom   string          `json:"merged_from,omitempty"`
	Suppressed   bool            `json:"suppressed"`
	SuppressedBy string          `json:"suppressed_by,omitempty"`

	// Superseded is computed per branch view by History and never persisted.
	Superseded bool `json:"superseded,omitempty"`
}

// Key returns the (subject, predicate) pair of the object.
func (o *MemoryObject) Key() Key {
	return Key{Subject: o.Subject, Predicate: o.Predicate}
}

// Key identifies a lineage.
type Key struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
}

func (k Key) String() string {
	return k.Subject + "/" + k.Predicate
}

// ClassOf returns the predicate namespace used by attachment classes: the
// part before the last dot, or the predicate itself when it has none.
func ClassOf(predicate string) string {
	if i := strings.LastIndex(predicate, "."); i > 0 {
		return predicate[:i]
	}
	return predicate
}

// NormalizeValue re-encodes a JSON document so that equal values have equal
// bytes: object keys sorted, insignificant whitespace removed, numbers kept
// verbatim.
func NormalizeValue(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: value is not valid JSON: %v", ErrInvalidArgument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: value has trailing data", ErrInvalidArgument)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ValueFromText interprets s as JSON when it parses, otherwise as a plain
// string.
func ValueFromText(s string) json.RawMessage {
	if v, err := NormalizeValue([]byte(s)); err == nil {
		return v
	}
	b, _ := json.Marshal(s)
	return b
}

// ValueText renders a value for humans: JSON strings are unquoted.
func ValueText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// ValuesEqual compares two normalized values.
func ValuesEqual(a, b json.RawMessage) bool {
	return bytes.Equal(a, b)
}
