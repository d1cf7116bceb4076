package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/continuation"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/sessionstore"
)

type call struct {
	action, reviewID, reason string
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []call
	err   error
	gate  chan struct{}
}

func (f *fakeAPI) record(ctx context.Context, c call) error {
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeAPI) Upvote(ctx context.Context, id string) error {
	return f.record(ctx, call{"upvote", id, ""})
}
func (f *fakeAPI) Downvote(ctx context.Context, id string) error {
	return f.record(ctx, call{"downvote", id, ""})
}
func (f *fakeAPI) Flag(ctx context.Context, id, reason string) error {
	return f.record(ctx, call{"flag", id, reason})
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type authFlag struct {
	mu sync.Mutex
	on bool
}

func (a *authFlag) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

func (a *authFlag) set(v bool) {
	a.mu.Lock()
	a.on = v
	a.mu.Unlock()
}

type sink struct {
	mu        sync.Mutex
	alerts    []string
	refreshed []string
}

func (s *sink) Alert(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, msg)
}

func (s *sink) Refresh(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, id)
}

type cancelPrompt struct{ asked int }

func (c *cancelPrompt) Reason(context.Context, string) (string, bool) {
	c.asked++
	return "", false
}

func setup(authed bool) (*Moderator, *fakeAPI, *sink, *authFlag, *continuation.Slot) {
	api := &fakeAPI{}
	s := &sink{}
	a := &authFlag{on: authed}
	slot := continuation.NewSlot(sessionstore.NewMemoryStore(), "tab-1", nil)
	m := New(Deps{Auth: a, API: api, Slot: slot, Refresher: s, Notifier: s})
	return m, api, s, a, slot
}

func TestVotesWhenAuthenticated(t *testing.T) {
	m, api, s, _, _ := setup(true)
	ctx := context.Background()

	assert.Equal(t, Result{Status: StatusSent}, m.Upvote(ctx, "r1", "p1", "/software/p1"))
	assert.Equal(t, Result{Status: StatusSent}, m.Downvote(ctx, "r2", "p1", "/software/p1"))

	assert.Equal(t, []call{{"upvote", "r1", ""}, {"downvote", "r2", ""}}, api.calls)
	assert.Equal(t, []string{"p1", "p1"}, s.refreshed)
	assert.Empty(t, s.alerts)
}

func TestVoteFailureIsSilent(t *testing.T) {
	m, api, s, _, _ := setup(true)
	api.err = errors.New("boom")

	res := m.Upvote(context.Background(), "r1", "p1", "/software/p1")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, s.alerts)
	assert.Equal(t, []string{"p1"}, s.refreshed, "refresh on any response")
}

func TestFlagSendsReason(t *testing.T) {
	m, api, s, _, _ := setup(true)

	res := m.Flag(context.Background(), "r1", "p1", "/software/p1", StaticReason(" spam "))

	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, []call{{"flag", "r1", "spam"}}, api.calls)
	assert.Equal(t, []string{MsgFlagSuccess}, s.alerts)
	assert.Equal(t, []string{"p1"}, s.refreshed)
}

func TestFlagCancelledSendsNothing(t *testing.T) {
	m, api, s, _, _ := setup(true)
	ctx := context.Background()

	p := &cancelPrompt{}
	assert.Equal(t, StatusCancelled, m.Flag(ctx, "r1", "p1", "/", p).Status)
	assert.Equal(t, StatusCancelled, m.Flag(ctx, "r1", "p1", "/", StaticReason("   ")).Status)

	assert.Equal(t, 1, p.asked)
	assert.Zero(t, api.count())
	assert.Empty(t, s.alerts)
	assert.Empty(t, s.refreshed)
}

func TestFlagFailureAlerts(t *testing.T) {
	m, api, s, _, _ := setup(true)
	api.err = errors.New("boom")

	res := m.Flag(context.Background(), "r1", "p1", "/", StaticReason("spam"))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{MsgFlagFailed}, s.alerts)
}

func TestAnonymousClickIsParked(t *testing.T) {
	m, api, _, _, slot := setup(false)
	ctx := context.Background()

	res := m.Downvote(ctx, "r1", "p1", "/software/p1")

	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, "/login?from=%2Fsoftware%2Fp1", res.Redirect)
	assert.Zero(t, api.count())
	c, err := slot.Peek(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, continuation.IntentDownvote, c.Intent)
	assert.Equal(t, &continuation.PendingAction{ReviewID: "r1", ProductID: "p1"}, c.Action)
}

func TestAnonymousFlagDoesNotPrompt(t *testing.T) {
	m, api, _, _, _ := setup(false)
	p := &cancelPrompt{}

	res := m.Flag(context.Background(), "r1", "p1", "/software/p1", p)

	assert.Equal(t, StatusDeferred, res.Status)
	assert.Zero(t, p.asked)
	assert.Zero(t, api.count())
}

func TestResumePendingReplaysVoteOnce(t *testing.T) {
	m, api, s, a, _ := setup(false)
	ctx := context.Background()
	m.Upvote(ctx, "r1", "p1", "/software/p1")

	assert.Nil(t, m.ResumePending(ctx, nil), "still anonymous")
	a.set(true)

	r := m.ResumePending(ctx, nil)
	require.NotNil(t, r)
	assert.Equal(t, ActionUpvote, r.Action)
	assert.Equal(t, StatusSent, r.Result.Status)
	assert.Nil(t, m.ResumePending(ctx, nil))
	assert.Equal(t, []call{{"upvote", "r1", ""}}, api.calls)
	assert.Equal(t, []string{"p1"}, s.refreshed)
}

func TestResumePendingFlagAsksAgain(t *testing.T) {
	m, api, _, a, _ := setup(false)
	ctx := context.Background()
	m.Flag(ctx, "r1", "p1", "/software/p1", nil)
	a.set(true)

	r := m.ResumePending(ctx, StaticReason("spam"))
	require.NotNil(t, r)
	assert.Equal(t, StatusSent, r.Result.Status)
	assert.Equal(t, []call{{"flag", "r1", "spam"}}, api.calls)
}

func TestResumePendingLeavesDraft(t *testing.T) {
	m, _, _, _, slot := setup(true)
	ctx := context.Background()
	require.NoError(t, slot.Save(ctx, continuation.Continuation{
		Intent: continuation.IntentReviewDraft,
		Draft:  draftFor("p1"),
	}))

	assert.Nil(t, m.ResumePending(ctx, nil))
	c, err := slot.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, continuation.IntentReviewDraft, c.Intent)
}

func TestConcurrentDuplicateClicksCollapse(t *testing.T) {
	m, api, s, _, _ := setup(true)
	api.gate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Upvote(ctx, "r1", "p1", "/")
		}(i)
	}
	// let every goroutine join the in-flight call before releasing it
	time.Sleep(50 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	assert.LessOrEqual(t, api.count(), 2)
	assert.GreaterOrEqual(t, api.count(), 1)
	assert.Len(t, s.refreshed, api.count())
	for _, r := range results {
		assert.Equal(t, StatusSent, r.Status)
	}
}

func TestCollapsedClickSurvivesFirstCallerLeaving(t *testing.T) {
	m, api, _, _, _ := setup(true)
	api.gate = make(chan struct{})
	first, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var a, b Result
	wg.Add(2)
	go func() {
		defer wg.Done()
		a = m.Upvote(first, "r1", "p1", "/")
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		b = m.Upvote(context.Background(), "r1", "p1", "/")
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(api.gate)
	wg.Wait()

	assert.Equal(t, StatusSent, b.Status)
	assert.Equal(t, StatusSent, a.Status)
	assert.GreaterOrEqual(t, api.count(), 1)
}

func draftFor(productID string) *entity.ReviewDraft {
	return &entity.ReviewDraft{
		Product:  entity.ProductRef{ID: productID},
		FormData: entity.FormData{Body: "parked draft body", Rating: 4},
	}
}
