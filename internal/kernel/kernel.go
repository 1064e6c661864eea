// Package kernel defines the contract between a brain and the external
// plan-execution kernel, and a Runner that drives one request through it.
//
// The kernel is reached through three calls: AppendEvent, GetManifest and
// Execute. The brain supplies a StateView built under a shared lock and
// persists the kernel's assertions only when Execute reports StatusOK.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/cortex-brain/internal/model"
)

// Status is the outcome of executing a plan.
type Status string

const (
	StatusOK       Status = "OK"
	StatusStall    Status = "STALL"
	StatusRejected Status = "REJECTED"
)

// ParseStatus accepts the three status names in any case.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusOK:
		return StatusOK, nil
	case StatusStall:
		return StatusStall, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: unknown execution status %q", model.ErrInvalidArgument, s)
}

// StateView is the read-only snapshot of a branch handed to the kernel.
// It carries no key material and no suppressed values.
type StateView struct {
	BrainID    string                `json:"brain_id"`
	TenantID   string                `json:"tenant_id"`
	Branch     string                `json:"branch"`
	Head       uint64                `json:"head"`
	Manifest   *model.PublicManifest `json:"manifest"`
	Attachment *model.Attachment     `json:"attachment,omitempty"`
}

// Event is raw input the kernel is informed about before planning.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Ack acknowledges an appended event.
type Ack struct {
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// Plan is submitted to Execute. Body is opaque to the brain.
type Plan struct {
	View     StateView             `json:"view"`
	Manifest *model.PublicManifest `json:"manifest"`
	Event    Event                 `json:"event"`
	Body     json.RawMessage       `json:"body,omitempty"`
}

// Assertion is a verified fact the kernel asks the brain to persist.
type Assertion struct {
	Subject   string          `json:"subject"`
	Predicate string          `json:"predicate"`
	Value     json.RawMessage `json:"value"`
	Scope     model.Scope     `json:"scope,omitempty"`
}

// Result is the kernel's answer to Execute.
type Result struct {
	Status       Status      `json:"status"`
	Assertions   []Assertion `json:"assertions,omitempty"`
	SemanticRoot string      `json:"semantic_root,omitempty"`
	TraceRoot    string      `json:"trace_root,omitempty"`
	Message      string      `json:"message,omitempty"`
}

// Executor is the execution kernel.
type Executor interface {
	AppendEvent(ctx context.Context, view StateView, ev Event) (Ack, error)
	GetManifest(ctx context.Context, view StateView) (*model.PublicManifest, error)
	Execute(ctx context.Context, plan Plan) (Result, error)
}
