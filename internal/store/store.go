// Package store implements the versioned memory engine over a decrypted brain
// state: append-only objects, copy-on-write branches, merge, suppression,
// attachments and the audit ledger.
//
// A Memory mutates the State it wraps in place. Callers that need atomic
// commits clone the state first and swap it in only after persisting.
package store

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/cortex-brain/internal/model"
)

// AppendParams holds parameters for appending a memory object.
type AppendParams struct {
	Branch    string
	Subject   string
	Predicate string
	Value     json.RawMessage
	Scope     model.Scope
	Actor     string
}

// ReadParams holds parameters for resolving a key on a branch.
type ReadParams struct {
	Branch    string
	Subject   string
	Predicate string
}

// ListParams holds parameters for listing the heads visible on a branch.
type ListParams struct {
	Branch            string
	Subject           string
	Class             string
	IncludeSuppressed bool
	Limit             int
}

// MergeParams holds parameters for merging source into target. Expected
// heads are optional preconditions; nil means "don't check".
type MergeParams struct {
	Source             string
	Target             string
	Strategy           model.MergeStrategy
	ExpectedSourceHead *uint64
	ExpectedTargetHead *uint64
	Actor              string
}

// ForgetParams holds parameters for suppressing a key.
type ForgetParams struct {
	Subject   string
	Predicate string
	Scope     model.Scope
	Reason    string
	Actor     string
}

// AttachParams holds parameters for granting an agent access.
type AttachParams struct {
	AgentID      string
	ModelID      string
	ReadClasses  []string
	WriteClasses []string
	Sinks        []string
	TTL          time.Duration
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	Since   time.Time
	Until   time.Time
	Op      model.AuditOp
	Actor   string
	Subject string
	Limit   int
}

// Memory is the engine over one decrypted state.
type Memory struct {
	st      *model.State
	now     func() time.Time
	entropy *rand.Rand

	byKey map[model.Key][]int
	byID  map[string]int
}

// Option configures a Memory.
type Option func(*Memory)

// WithClock overrides the wall clock used for timestamps and TTL checks.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// New wraps st.
func New(st *model.State, opts ...Option) *Memory {
	m := &Memory{
		st:      st,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the wrapped state.
func (m *Memory) State() *model.State {
	return m.st
}

func (m *Memory) newID() string {
	return ulid.MustNew(ulid.Timestamp(m.now()), m.entropy).String()
}

// tick advances the brain-wide logical clock. Objects and suppressions are
// ordered by it, never by wall time.
func (m *Memory) tick() uint64 {
	m.st.Clock++
	return m.st.Clock
}

func (m *Memory) index() {
	if m.byKey != nil {
		return
	}
	m.byKey = make(map[model.Key][]int)
	m.byID = make(map[string]int, len(m.st.Objects))
	for i := range m.st.Objects {
		o := &m.st.Objects[i]
		m.byKey[o.Key()] = append(m.byKey[o.Key()], i)
		m.byID[o.ID] = i
	}
}

// object returns the object with id, or nil. The pointer is only valid until
// the next append.
func (m *Memory) object(id string) *model.MemoryObject {
	m.index()
	i, ok := m.byID[id]
	if !ok {
		return nil
	}
	return &m.st.Objects[i]
}

// Object returns a copy of the object with id.
func (m *Memory) Object(id string) (model.MemoryObject, bool) {
	o := m.object(id)
	if o == nil {
		return model.MemoryObject{}, false
	}
	return *o, true
}
