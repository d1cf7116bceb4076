// Package moderation sends upvotes, downvotes and flags on behalf of a tab,
// parking the click behind a login when nobody is signed in.
package moderation

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/continuation"
)

type Action string

const (
	ActionUpvote   Action = "upvote"
	ActionDownvote Action = "downvote"
	ActionFlag     Action = "flag"
)

func (a Action) intent() continuation.Intent {
	return continuation.Intent(a)
}

type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDeferred  Status = "deferred"
	StatusCancelled Status = "cancelled"
)

const (
	MsgFlagFailed  = "Failed to flag review. Please try again."
	MsgFlagSuccess = "Review has been flagged. Thank you for helping maintain quality!"
)

type Result struct {
	Status   Status `json:"status"`
	Redirect string `json:"redirect,omitempty"`
}

type API interface {
	Upvote(ctx context.Context, reviewID string) error
	Downvote(ctx context.Context, reviewID string) error
	Flag(ctx context.Context, reviewID, reason string) error
}

type Identity interface {
	IsAuthenticated() bool
}

// Prompter asks the user why a review is being flagged. ok is false when the
// user cancelled.
type Prompter interface {
	Reason(ctx context.Context, reviewID string) (reason string, ok bool)
}

// StaticReason answers the prompt with a reason collected beforehand.
type StaticReason string

func (s StaticReason) Reason(context.Context, string) (string, bool) {
	r := strings.TrimSpace(string(s))
	return r, r != ""
}

type Notifier interface {
	Alert(msg string)
}

// Refresher re-reads a product's reviews after any moderation response.
type Refresher interface {
	Refresh(productID string)
}

type Recorder interface {
	ModerationOutcome(action, status string)
}

type Deps struct {
	Auth      Identity
	API       API
	Slot      *continuation.Slot
	Refresher Refresher
	Notifier  Notifier
	LoginPath string
	Logger    *zap.SugaredLogger
	Recorder  Recorder
}

// Moderator belongs to one tab. Identical clicks on the same review that
// overlap are sent once.
type Moderator struct {
	auth      Identity
	api       API
	slot      *continuation.Slot
	refresher Refresher
	notifier  Notifier
	loginPath string
	logger    *zap.SugaredLogger
	recorder  Recorder

	group singleflight.Group
}

func New(d Deps) *Moderator {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.LoginPath == "" {
		d.LoginPath = "/login"
	}
	return &Moderator{
		auth:      d.Auth,
		api:       d.API,
		slot:      d.Slot,
		refresher: d.Refresher,
		notifier:  d.Notifier,
		loginPath: d.LoginPath,
		logger:    d.Logger,
		recorder:  d.Recorder,
	}
}

func (m *Moderator) Upvote(ctx context.Context, reviewID, productID, returnPath string) Result {
	return m.vote(ctx, ActionUpvote, reviewID, productID, returnPath)
}

func (m *Moderator) Downvote(ctx context.Context, reviewID, productID, returnPath string) Result {
	return m.vote(ctx, ActionDownvote, reviewID, productID, returnPath)
}

// Flag asks p for a reason and reports the review. A blank or cancelled
// reason sends nothing.
func (m *Moderator) Flag(ctx context.Context, reviewID, productID, returnPath string, p Prompter) Result {
	if !m.auth.IsAuthenticated() {
		return m.deferAction(ctx, ActionFlag, reviewID, productID, returnPath)
	}
	return m.flag(ctx, reviewID, productID, p)
}

// Resumed describes a parked click that ResumePending acted on.
type Resumed struct {
	Action    Action `json:"action"`
	ReviewID  string `json:"reviewId"`
	ProductID string `json:"productId"`
	Result    Result `json:"result"`
}

// ResumePending replays a moderation click parked before login. Votes are sent
// once; a flag asks p for its reason again, since none was collected while
// anonymous. Returns nil when nothing was parked or the user is still
// anonymous. A parked review draft is left for the review workflow.
func (m *Moderator) ResumePending(ctx context.Context, p Prompter) *Resumed {
	if !m.auth.IsAuthenticated() {
		return nil
	}
	c, err := m.slot.TakeIf(ctx, continuation.IntentUpvote, continuation.IntentDownvote, continuation.IntentFlag)
	if err != nil {
		m.logger.Warnw("read parked moderation action", "err", err)
		return nil
	}
	if c == nil {
		return nil
	}
	r := &Resumed{Action: Action(c.Intent), ReviewID: c.Action.ReviewID, ProductID: c.Action.ProductID}
	m.logger.Debugw("resuming parked moderation action", "action", r.Action, "review_id", r.ReviewID)
	switch r.Action {
	case ActionFlag:
		if p == nil {
			r.Result = m.record(ActionFlag, Result{Status: StatusCancelled})
		} else {
			r.Result = m.flag(ctx, r.ReviewID, r.ProductID, p)
		}
	default:
		r.Result = m.send(ctx, r.Action, r.ReviewID, r.ProductID, "")
	}
	return r
}

func (m *Moderator) vote(ctx context.Context, a Action, reviewID, productID, returnPath string) Result {
	if !m.auth.IsAuthenticated() {
		return m.deferAction(ctx, a, reviewID, productID, returnPath)
	}
	return m.send(ctx, a, reviewID, productID, "")
}

func (m *Moderator) flag(ctx context.Context, reviewID, productID string, p Prompter) Result {
	reason, ok := "", false
	if p != nil {
		reason, ok = p.Reason(ctx, reviewID)
		reason = strings.TrimSpace(reason)
	}
	if !ok || reason == "" {
		return m.record(ActionFlag, Result{Status: StatusCancelled})
	}
	return m.send(ctx, ActionFlag, reviewID, productID, reason)
}

func (m *Moderator) deferAction(ctx context.Context, a Action, reviewID, productID, returnPath string) Result {
	err := m.slot.Save(ctx, continuation.Continuation{
		Intent:     a.intent(),
		ReturnPath: returnPath,
		Action:     &continuation.PendingAction{ReviewID: reviewID, ProductID: productID},
	})
	if err != nil {
		// the redirect still happens; only the replay is lost
		m.logger.Warnw("park moderation action", "action", a, "review_id", reviewID, "err", err)
	}
	return m.record(a, Result{Status: StatusDeferred, Redirect: continuation.LoginRedirect(m.loginPath, returnPath)})
}

// send performs the request. Overlapping calls for the same action and review
// share one request and one set of side effects. The shared request outlives
// the caller that started it; the client's own timeout still bounds it.
func (m *Moderator) send(ctx context.Context, a Action, reviewID, productID, reason string) Result {
	ctx = context.WithoutCancel(ctx)
	v, _, _ := m.group.Do(string(a)+":"+reviewID, func() (any, error) {
		var err error
		switch a {
		case ActionUpvote:
			err = m.api.Upvote(ctx, reviewID)
		case ActionDownvote:
			err = m.api.Downvote(ctx, reviewID)
		case ActionFlag:
			err = m.api.Flag(ctx, reviewID, reason)
		}

		res := Result{Status: StatusSent}
		if err != nil {
			res.Status = StatusFailed
			m.logger.Warnw("moderation request failed", "action", a, "review_id", reviewID, "err", err)
		}
		if a == ActionFlag && m.notifier != nil {
			if err != nil {
				m.notifier.Alert(MsgFlagFailed)
			} else {
				m.notifier.Alert(MsgFlagSuccess)
			}
		}
		if m.refresher != nil && productID != "" {
			m.refresher.Refresh(productID)
		}
		return m.record(a, res), nil
	})
	return v.(Result)
}

func (m *Moderator) record(a Action, r Result) Result {
	if m.recorder != nil {
		m.recorder.ModerationOutcome(string(a), string(r.Status))
	}
	return r
}
