package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/cortex-brain/internal/brain"
	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

// ErrInvalidResult is returned when the kernel answers with an unknown status.
var ErrInvalidResult = errors.New("kernel: invalid execution result")

// Request is one plan execution against a brain.
type Request struct {
	Brain      string
	Passphrase []byte
	// Branch defaults to the brain's active branch.
	Branch string
	Actor  string
	// AgentID and ModelID select the attachment the request acts under.
	// Empty AgentID runs unrestricted.
	AgentID string
	ModelID string
	Event   Event
	Plan    []byte
}

// Outcome reports what happened to a request.
type Outcome struct {
	Status    Status               `json:"status"`
	Ack       Ack                  `json:"ack"`
	Result    Result               `json:"result"`
	BaseHead  uint64               `json:"base_head"`
	Persisted []model.MemoryObject `json:"persisted,omitempty"`
}

// Runner drives requests through an Executor. It never holds a brain lock
// while the kernel is working.
type Runner struct {
	store *brain.Store
	exec  Executor
	log   zerolog.Logger
	now   func() time.Time
}

// NewRunner returns a Runner over the brains in s.
func NewRunner(s *brain.Store, exec Executor, log zerolog.Logger) *Runner {
	return &Runner{
		store: s,
		exec:  exec,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run snapshots the branch, hands the event and plan to the kernel and, on
// StatusOK, persists the returned assertions as one batch guarded by the
// snapshot head. STALL and REJECTED never mutate the brain.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	view, err := r.Snapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{BaseHead: view.Head}

	ev := req.Event
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	if ev.Actor == "" {
		ev.Actor = req.Actor
	}

	ack, err := r.exec.AppendEvent(ctx, *view, ev)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	out.Ack = ack
	if !ack.Accepted {
		r.log.Info().Str("event_id", ev.ID).Str("message", ack.Message).Msg("event not accepted")
		out.Status = StatusRejected
		out.Result = Result{Status: StatusRejected, Message: ack.Message}
		return out, nil
	}

	pm, err := r.exec.GetManifest(ctx, *view)
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	if pm == nil {
		pm = view.Manifest
	}

	res, err := r.exec.Execute(ctx, Plan{View: *view, Manifest: pm, Event: ev, Body: req.Plan})
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	out.Status = res.Status
	out.Result = res

	switch res.Status {
	case StatusStall, StatusRejected:
		r.log.Info().Str("event_id", ev.ID).Str("status", string(res.Status)).Msg("plan not committed")
		return out, nil
	case StatusOK:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidResult, res.Status)
	}

	if len(res.Assertions) == 0 {
		return out, nil
	}
	objs, err := r.persist(ctx, req, view, res.Assertions)
	if err != nil {
		return nil, err
	}
	out.Persisted = objs
	r.log.Info().Str("event_id", ev.ID).Int("persisted", len(objs)).Msg("assertions persisted")
	return out, nil
}

// Snapshot builds the StateView for req under a shared lock and releases the
// lock before returning.
func (r *Runner) Snapshot(ctx context.Context, req Request) (*StateView, error) {
	h, err := r.store.Open(ctx, req.Brain, brain.OpenParams{Passphrase: req.Passphrase, ReadOnly: true, Actor: req.Actor})
	if err != nil {
		return nil, err
	}
	defer h.Close()

	mf := h.Manifest()
	branch := req.Branch
	if branch == "" {
		branch = mf.ActiveBranch
	}
	head, err := h.Head(branch)
	if err != nil {
		return nil, err
	}
	var att *model.Attachment
	if req.AgentID != "" {
		if att, err = h.Attachment(req.AgentID, req.ModelID); err != nil {
			return nil, err
		}
	}
	pm, err := h.PublicManifest(branch, att)
	if err != nil {
		return nil, err
	}
	return &StateView{
		BrainID:    mf.BrainID,
		TenantID:   mf.TenantID,
		Branch:     branch,
		Head:       head,
		Manifest:   pm,
		Attachment: att,
	}, nil
}

func (r *Runner) persist(ctx context.Context, req Request, view *StateView, as []Assertion) ([]model.MemoryObject, error) {
	h, err := r.store.Open(ctx, req.Brain, brain.OpenParams{Passphrase: req.Passphrase, Actor: req.Actor})
	if err != nil {
		return nil, err
	}
	defer h.Close()

	// The grant is re-read so a detach during execution is honored.
	var att *model.Attachment
	if req.AgentID != "" {
		if att, err = h.Attachment(req.AgentID, req.ModelID); err != nil {
			return nil, err
		}
	}

	items := make([]store.AppendParams, 0, len(as))
	for _, a := range as {
		if att != nil && !h.CheckPermission(att, model.PermWrite, model.ClassOf(a.Predicate)) {
			return nil, fmt.Errorf("%w: %s may not write %s", model.ErrPermissionDenied, att.AgentID, a.Predicate)
		}
		items = append(items, store.AppendParams{
			Subject:   a.Subject,
			Predicate: a.Predicate,
			Value:     a.Value,
			Scope:     a.Scope,
			Actor:     req.Actor,
		})
	}
	head := view.Head
	return h.AppendBatch(view.Branch, &head, items)
}
