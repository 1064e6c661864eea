package kernel

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/cortex-brain/internal/brain"
	"github.com/rcliao/cortex-brain/internal/crypto"
	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

var testPass = []byte("kernel test passphrase")

// fakeKernel records calls and answers with a fixed result.
type fakeKernel struct {
	reject     bool
	result     Result
	duringExec func()

	events    []Event
	views     []StateView
	plans     []Plan
	manifests int
}

func (f *fakeKernel) AppendEvent(_ context.Context, view StateView, ev Event) (Ack, error) {
	f.events = append(f.events, ev)
	f.views = append(f.views, view)
	if f.reject {
		return Ack{EventID: ev.ID, Accepted: false, Message: "malformed event"}, nil
	}
	return Ack{EventID: ev.ID, Accepted: true}, nil
}

func (f *fakeKernel) GetManifest(_ context.Context, view StateView) (*model.PublicManifest, error) {
	f.manifests++
	return view.Manifest, nil
}

func (f *fakeKernel) Execute(_ context.Context, plan Plan) (Result, error) {
	f.plans = append(f.plans, plan)
	if f.duringExec != nil {
		f.duringExec()
	}
	return f.result, nil
}

func setup(t *testing.T) (*brain.Store, string) {
	t.Helper()
	s := brain.New(t.TempDir(), brain.Options{
		KDF:    crypto.KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1},
		Logger: zerolog.Nop(),
	})
	sum, err := s.Create(context.Background(), brain.CreateParams{Name: "kernel", Passphrase: testPass, Actor: "tester"})
	require.NoError(t, err)

	err = s.With(context.Background(), sum.BrainID, brain.OpenParams{Passphrase: testPass}, func(h *brain.Handle) error {
		_, err := h.Append(store.AppendParams{Subject: "user:local", Predicate: "prefs.beverage", Value: model.ValueFromText("tea")})
		return err
	})
	require.NoError(t, err)
	return s, sum.BrainID
}

func okResult(value string) Result {
	return Result{
		Status: StatusOK,
		Assertions: []Assertion{
			{Subject: "user:local", Predicate: "prefs.beverage", Value: model.ValueFromText(value)},
		},
		SemanticRoot: "sem-root-ok",
		TraceRoot:    "trace-root-ok",
	}
}

func readBeverage(t *testing.T, s *brain.Store, id string) string {
	t.Helper()
	var got string
	err := s.With(context.Background(), id, brain.OpenParams{Passphrase: testPass, ReadOnly: true}, func(h *brain.Handle) error {
		o, err := h.Read(store.ReadParams{Subject: "user:local", Predicate: "prefs.beverage"})
		if err != nil {
			return err
		}
		got = model.ValueText(o.Value)
		return nil
	})
	require.NoError(t, err)
	return got
}

func auditCount(t *testing.T, s *brain.Store, id string) int {
	t.Helper()
	n := 0
	err := s.With(context.Background(), id, brain.OpenParams{Passphrase: testPass, ReadOnly: true}, func(h *brain.Handle) error {
		entries, err := h.AuditQuery(store.AuditFilter{})
		n = len(entries)
		return err
	})
	require.NoError(t, err)
	return n
}

func TestRunOKPersistsAssertions(t *testing.T) {
	s, id := setup(t)
	k := &fakeKernel{result: okResult("coffee")}
	r := NewRunner(s, k, zerolog.Nop())

	out, err := r.Run(context.Background(), Request{Brain: id, Passphrase: testPass, Actor: "proxy", Event: Event{Kind: "chat"}})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, uint64(1), out.BaseHead)
	require.Len(t, out.Persisted, 1)
	assert.Equal(t, "proxy", out.Persisted[0].CreatedBy)
	assert.Equal(t, "sem-root-ok", out.Result.SemanticRoot)

	require.Len(t, k.events, 1)
	assert.NotEmpty(t, k.events[0].ID)
	assert.Equal(t, "proxy", k.events[0].Actor)
	assert.Equal(t, 1, k.manifests)
	require.Len(t, k.plans, 1)
	require.Len(t, k.plans[0].Manifest.Keys, 1)
	assert.Equal(t, "prefs.beverage", k.plans[0].Manifest.Keys[0].Predicate)

	assert.Equal(t, "coffee", readBeverage(t, s, id))
}

func TestRunStallAndRejectedNeverMutate(t *testing.T) {
	for _, status := range []Status{StatusStall, StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			s, id := setup(t)
			before := auditCount(t, s, id)
			res := okResult("coffee")
			res.Status = status
			r := NewRunner(s, &fakeKernel{result: res}, zerolog.Nop())

			out, err := r.Run(context.Background(), Request{Brain: id, Passphrase: testPass})
			require.NoError(t, err)
			assert.Equal(t, status, out.Status)
			assert.Empty(t, out.Persisted)
			assert.Equal(t, "tea", readBeverage(t, s, id))
			assert.Equal(t, before, auditCount(t, s, id))
		})
	}
}

func TestRunEventNotAccepted(t *testing.T) {
	s, id := setup(t)
	k := &fakeKernel{reject: true, result: okResult("coffee")}
	r := NewRunner(s, k, zerolog.Nop())

	out, err := r.Run(context.Background(), Request{Brain: id, Passphrase: testPass})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, "malformed event", out.Result.Message)
	assert.Empty(t, k.plans, "execute must not be called")
	assert.Equal(t, "tea", readBeverage(t, s, id))
}

func TestRunNoLockHeldDuringExecute(t *testing.T) {
	s, id := setup(t)
	k := &fakeKernel{result: okResult("coffee")}
	k.duringExec = func() {
		// A concurrent writer moves the branch while the kernel works.
		err := s.With(context.Background(), id, brain.OpenParams{Passphrase: testPass}, func(h *brain.Handle) error {
			_, err := h.Append(store.AppendParams{Subject: "user:local", Predicate: "prefs.beverage", Value: model.ValueFromText("water")})
			return err
		})
		require.NoError(t, err)
	}
	r := NewRunner(s, k, zerolog.Nop())

	_, err := r.Run(context.Background(), Request{Brain: id, Passphrase: testPass})
	assert.ErrorIs(t, err, model.ErrStaleBranchHead)
	assert.Equal(t, "water", readBeverage(t, s, id))
}

func TestRunChecksWritePermission(t *testing.T) {
	s, id := setup(t)
	err := s.With(context.Background(), id, brain.OpenParams{Passphrase: testPass}, func(h *brain.Handle) error {
		_, err := h.Attach(store.AttachParams{AgentID: "agent", ModelID: "m1", ReadClasses: []string{"prefs"}, WriteClasses: []string{"notes"}})
		return err
	})
	require.NoError(t, err)

	k := &fakeKernel{result: okResult("coffee")}
	r := NewRunner(s, k, zerolog.Nop())
	_, err = r.Run(context.Background(), Request{Brain: id, Passphrase: testPass, AgentID: "agent", ModelID: "m1"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.Equal(t, "tea", readBeverage(t, s, id))

	require.Len(t, k.views, 1)
	require.NotNil(t, k.views[0].Attachment)
	assert.Len(t, k.views[0].Manifest.Keys, 1)
	assert.Len(t, k.views[0].Manifest.Selectors, 1)

	_, err = r.Run(context.Background(), Request{Brain: id, Passphrase: testPass, AgentID: "stranger"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
}

func TestRunUnknownStatus(t *testing.T) {
	s, id := setup(t)
	r := NewRunner(s, &fakeKernel{result: Result{Status: "MAYBE"}}, zerolog.Nop())

	_, err := r.Run(context.Background(), Request{Brain: id, Passphrase: testPass})
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" stall ")
	require.NoError(t, err)
	assert.Equal(t, StatusStall, st)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}
