package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// MainBranch is the root branch every brain is created with.
const MainBranch = "main"

// State is the plaintext content of state.enc. It only exists in memory
// while a handle is open.
type State struct {
	Clock          uint64             `json:"clock"`
	Branches       map[string]*Branch `json:"branches"`
	Objects        []MemoryObject     `json:"objects"`
	Rules          []Rule             `json:"rules"`
	Suppressions   []Suppression      `json:"suppressions"`
	Attachments    []Attachment       `json:"attachments"`
	ExposedClasses []string           `json:"exposed_classes"`
	AuditLog       []AuditEntry       `json:"audit_log"`
}

// NewState returns an empty state holding only the main branch.
func NewState(now time.Time, exposed []string) *State {
	if len(exposed) == 0 {
		exposed = []string{"*"}
	}
	return &State{
		Branches: map[string]*Branch{
			MainBranch: {Name: MainBranch, CreatedAt: now},
		},
		Objects:        []MemoryObject{},
		Rules:          []Rule{},
		Suppressions:   []Suppression{},
		Attachments:    []Attachment{},
		ExposedClasses: append([]string(nil), exposed...),
		AuditLog:       []AuditEntry{},
	}
}

// Branch is an independent line of memory history. Objects are never copied
// into a branch; a branch sees its parent's objects up to Parent.Version.
type Branch struct {
	Name      string     `json:"name"`
	Parent    *ForkPoint `json:"parent,omitempty"`
	Head      uint64     `json:"head"`
	CreatedAt time.Time  `json:"created_at"`
}

// ForkPoint records where a branch was forked from.
type ForkPoint struct {
	Branch  string `json:"branch"`
	Version uint64 `json:"version"`
}

// MergeStrategy selects how conflicting values are reconciled.
type MergeStrategy string

const (
	StrategyOurs   MergeStrategy = "ours"
	StrategyTheirs MergeStrategy = "theirs"
	StrategyManual MergeStrategy = "manual"
)

// RuleStatus tells whether a conflict group still needs a decision.
type RuleStatus string

const (
	RuleOpen     RuleStatus = "open"
	RuleResolved RuleStatus = "resolved"
)

// Candidate roles within a rule.
const (
	RoleAuthoritative = "authoritative"
	RoleSuperseded    = "superseded"
	RoleDiscarded     = "discarded"
	RoleCandidate     = "candidate"
)

// Rule groups competing objects for one key on one branch and records which
// one is authoritative and why.
type Rule struct {
	ID            string          `json:"id"`
	Branch        string          `json:"branch"`
	Subject       string          `json:"subject"`
	Predicate     string          `json:"predicate"`
	Strategy      MergeStrategy   `json:"strategy"`
	Status        RuleStatus      `json:"status"`
	Authoritative string          `json:"authoritative,omitempty"`
	Candidates    []RuleCandidate `json:"candidates"`
	Reason        string          `json:"reason"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy    string          `json:"resolved_by,omitempty"`
}

// RuleCandidate is one competing value inside a rule.
type RuleCandidate struct {
	ObjectID     string          `json:"object_id"`
	Value        json.RawMessage `json:"value"`
	Role         string          `json:"role"`
	SourceBranch string          `json:"source_branch"`
}

// Suppression hides matching objects from every read path without deleting
// them.
type Suppression struct {
	ID              string    `json:"id"`
	Seq             uint64    `json:"seq"`
	Subject         string    `json:"subject"`
	Predicate       string    `json:"predicate"`
	Scope           Scope     `json:"scope"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
	CreatedBy       string    `json:"created_by"`
	SuppressedCount int       `json:"suppressed_count"`
}

// Clone returns a deep copy that can be mutated without affecting s.
func (s *State) Clone() *State {
	out := &State{
		Clock:          s.Clock,
		Branches:       make(map[string]*Branch, len(s.Branches)),
		Objects:        append([]MemoryObject(nil), s.Objects...),
		Rules:          make([]Rule, len(s.Rules)),
		Suppressions:   append([]Suppression(nil), s.Suppressions...),
		Attachments:    make([]Attachment, len(s.Attachments)),
		ExposedClasses: append([]string(nil), s.ExposedClasses...),
		AuditLog:       append([]AuditEntry(nil), s.AuditLog...),
	}
	for name, b := range s.Branches {
		cp := *b
		if b.Parent != nil {
			fp := *b.Parent
			cp.Parent = &fp
		}
		out.Branches[name] = &cp
	}
	for i, r := range s.Rules {
		r.Candidates = append([]RuleCandidate(nil), r.Candidates...)
		out.Rules[i] = r
	}
	for i, a := range s.Attachments {
		a.ReadClasses = append([]string(nil), a.ReadClasses...)
		a.WriteClasses = append([]string(nil), a.WriteClasses...)
		a.Sinks = append([]string(nil), a.Sinks...)
		out.Attachments[i] = a
	}
	return out
}

// Encode serializes the state deterministically: struct fields in declared
// order and map keys sorted.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses the plaintext produced by Encode.
func DecodeState(b []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	if s.Branches == nil {
		s.Branches = map[string]*Branch{}
	}
	return &s, nil
}

// Digest is the hex sha256 of the encoded plaintext. It does not depend on
// the ciphertext, so saving unchanged state twice yields the same digest.
func (s *State) Digest() (string, error) {
	b, err := s.Encode()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
