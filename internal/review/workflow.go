// Package review runs the compose, validate, defer and submit cycle of a
// product review for one tab.
package review

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/continuation"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
	"github.com/ovaphlow/pitchfork/service-review-web/pkg/utilities"
)

type Status string

const (
	StatusInvalid   Status = "invalid"
	StatusDeferred  Status = "deferred"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusBusy      Status = "busy"
)

// Outcome tells the caller what to do next. Redirect is set only when the
// submission was deferred behind a login.
type Outcome struct {
	Status   Status      `json:"status"`
	Errors   FieldErrors `json:"errors,omitempty"`
	Redirect string      `json:"redirect,omitempty"`
}

const (
	msgAlreadyReviewed = "You have already reviewed this product"
	msgLoginRequired   = "Please log in to write a review"
	msgSubmitFailed    = "Failed to submit review. Please try again."
)

// Surface is the composition form as the workflow drives it.
type Surface interface {
	Open(product entity.ProductRef, form entity.FormData)
	ShowErrors(errs FieldErrors)
	Close()
	// Refresh asks the product view to re-read its reviews.
	Refresh(productID string)
}

type Identity interface {
	IsAuthenticated() bool
}

type Creator interface {
	CreateReview(ctx context.Context, in entity.CreateReviewRequest) error
}

// Recorder counts workflow outcomes.
type Recorder interface {
	ReviewOutcome(status string)
}

type Deps struct {
	Auth      Identity
	API       Creator
	Slot      *continuation.Slot
	Surface   Surface
	LoginPath string
	Logger    *zap.SugaredLogger
	Recorder  Recorder
}

// Workflow belongs to one tab. At most one submission is in flight at a time.
type Workflow struct {
	auth      Identity
	api       Creator
	slot      *continuation.Slot
	surface   Surface
	loginPath string
	logger    *zap.SugaredLogger
	recorder  Recorder
	now       func() time.Time

	busy atomic.Bool
}

func NewWorkflow(d Deps) *Workflow {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.LoginPath == "" {
		d.LoginPath = "/login"
	}
	return &Workflow{
		auth:      d.Auth,
		api:       d.API,
		slot:      d.Slot,
		surface:   d.Surface,
		loginPath: d.LoginPath,
		logger:    d.Logger,
		recorder:  d.Recorder,
		now:       time.Now,
	}
}

// Compose opens an empty form for product.
func (w *Workflow) Compose(product entity.ProductRef) {
	w.surface.Open(product, entity.NewFormData())
}

// BeginSubmission validates the form, then either parks it behind a login
// redirect (anonymous) or submits it right away. An invalid form is never
// parked.
func (w *Workflow) BeginSubmission(ctx context.Context, product entity.ProductRef, form entity.FormData, currentPath string) Outcome {
	if errs := Validate(form); len(errs) > 0 {
		w.surface.ShowErrors(errs)
		return w.done(Outcome{Status: StatusInvalid, Errors: errs})
	}
	if w.auth.IsAuthenticated() {
		return w.Submit(ctx, product, form)
	}

	draft := &entity.ReviewDraft{
		ID:         utilities.NewSnowflakeID(),
		Product:    product,
		FormData:   form,
		ReturnPath: currentPath,
		CreatedAt:  w.now().UTC(),
	}
	err := w.slot.Save(ctx, continuation.Continuation{
		Intent:     continuation.IntentReviewDraft,
		ReturnPath: currentPath,
		Draft:      draft,
	})
	if err != nil {
		w.logger.Errorw("park review draft", "product_id", product.ID, "err", err)
		errs := FieldErrors{FieldGeneral: msgSubmitFailed}
		w.surface.ShowErrors(errs)
		return w.done(Outcome{Status: StatusFailed, Errors: errs})
	}
	w.logger.Debugw("review draft parked for login", "product_id", product.ID, "draft_id", draft.ID)
	return w.done(Outcome{
		Status:   StatusDeferred,
		Redirect: continuation.LoginRedirect(w.loginPath, currentPath),
	})
}

// Submit sends the review. On success any parked draft is dropped, the form
// closes and the product view is refreshed. On failure the form stays open
// with a general message.
func (w *Workflow) Submit(ctx context.Context, product entity.ProductRef, form entity.FormData) Outcome {
	if !w.busy.CompareAndSwap(false, true) {
		return w.done(Outcome{Status: StatusBusy})
	}
	defer w.busy.Store(false)

	if !w.auth.IsAuthenticated() {
		errs := FieldErrors{FieldGeneral: msgLoginRequired}
		w.surface.ShowErrors(errs)
		return w.done(Outcome{Status: StatusFailed, Errors: errs})
	}
	if errs := Validate(form); len(errs) > 0 {
		w.surface.ShowErrors(errs)
		return w.done(Outcome{Status: StatusInvalid, Errors: errs})
	}

	err := w.api.CreateReview(ctx, entity.CreateReviewRequest{
		ProductID: product.ID,
		Title:     strings.TrimSpace(form.Title),
		Body:      strings.TrimSpace(form.Body),
		Rating:    form.Rating,
	})
	if err != nil {
		w.logger.Warnw("failed to create review", "product_id", product.ID, "err", err)
		errs := FieldErrors{FieldGeneral: submitFailureMessage(err)}
		w.surface.ShowErrors(errs)
		return w.done(Outcome{Status: StatusFailed, Errors: errs})
	}

	if _, err := w.slot.TakeIf(ctx, continuation.IntentReviewDraft); err != nil {
		w.logger.Warnw("clear parked draft after submit", "err", err)
	}
	w.surface.Close()
	w.surface.Refresh(product.ID)
	return w.done(Outcome{Status: StatusSubmitted})
}

// RestorePendingDraft reopens a draft parked before login, pre-filled and not
// submitted. The draft is removed from the slot first, so a second call finds
// nothing. Returns whether a draft was restored.
func (w *Workflow) RestorePendingDraft(ctx context.Context) bool {
	if !w.auth.IsAuthenticated() {
		return false
	}
	c, err := w.slot.TakeIf(ctx, continuation.IntentReviewDraft)
	if err != nil {
		w.logger.Warnw("read parked draft", "err", err)
		return false
	}
	if c == nil {
		return false
	}
	w.surface.Open(c.Draft.Product, c.Draft.FormData)
	w.logger.Debugw("restored review draft", "product_id", c.Draft.Product.ID, "draft_id", c.Draft.ID)
	return true
}

// Abandon closes the form and forgets any parked draft.
func (w *Workflow) Abandon(ctx context.Context) error {
	w.surface.Close()
	_, err := w.slot.TakeIf(ctx, continuation.IntentReviewDraft)
	return err
}

func (w *Workflow) done(o Outcome) Outcome {
	if w.recorder != nil {
		w.recorder.ReviewOutcome(string(o.Status))
	}
	return o
}

func submitFailureMessage(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already reviewed"):
		return msgAlreadyReviewed
	case strings.Contains(msg, "not authenticated"):
		return msgLoginRequired
	}
	return msgSubmitFailed
}
