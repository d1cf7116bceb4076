package web

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/continuation"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/moderation"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/review"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
)

// FormState is the composition surface as the browser renders it.
type FormState struct {
	Open    bool               `json:"open"`
	Product *entity.ProductRef `json:"product,omitempty"`
	Form    entity.FormData    `json:"formData"`
	Errors  review.FieldErrors `json:"errors,omitempty"`
}

// PendingFlag asks the browser to prompt for a flag reason that could not be
// collected before login.
type PendingFlag struct {
	ReviewID  string `json:"reviewId"`
	ProductID string `json:"productId"`
}

// TabView is everything the browser needs to bring one tab up to date.
// Alerts and Refresh are delivered once.
type TabView struct {
	Form        FormState           `json:"form"`
	Alerts      []string            `json:"alerts,omitempty"`
	Refresh     []string            `json:"refresh,omitempty"`
	PendingFlag *PendingFlag        `json:"pendingFlag,omitempty"`
	Resumed     *moderation.Resumed `json:"resumed,omitempty"`
}

// Tab is the server half of one browser tab. op serializes the tab's
// workflow operations; vmu guards the view those operations write to.
type Tab struct {
	ID      string
	browser *Browser

	op        sync.Mutex
	Workflow  *review.Workflow
	Moderator *moderation.Moderator
	Slot      *continuation.Slot

	vmu      sync.Mutex
	view     TabView
	lastSeen time.Time
}

func (t *Tab) Open(product entity.ProductRef, form entity.FormData) {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	p := product
	t.view.Form = FormState{Open: true, Product: &p, Form: form}
}

func (t *Tab) ShowErrors(errs review.FieldErrors) {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	t.view.Form.Errors = errs
}

func (t *Tab) Close() {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	t.view.Form = FormState{}
}

func (t *Tab) Refresh(productID string) {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	for _, id := range t.view.Refresh {
		if id == productID {
			return
		}
	}
	t.view.Refresh = append(t.view.Refresh, productID)
}

func (t *Tab) Alert(msg string) {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	t.view.Alerts = append(t.view.Alerts, msg)
}

// Reason cannot ask the user mid-request, so it records the prompt for the
// browser and reports the flag as cancelled. The browser flags again with the
// reason it collects.
func (t *Tab) Reason(_ context.Context, reviewID string) (string, bool) {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	t.view.PendingFlag = &PendingFlag{ReviewID: reviewID}
	return "", false
}

// Snapshot returns the view and drops the one-shot parts.
func (t *Tab) Snapshot() TabView {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	v := t.view
	if v.Form.Product != nil {
		p := *v.Form.Product
		v.Form.Product = &p
	}
	t.view.Alerts = nil
	t.view.Refresh = nil
	t.view.PendingFlag = nil
	t.view.Resumed = nil
	return v
}

func (t *Tab) form() FormState {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	return t.view.Form
}

func (t *Tab) touch(now time.Time) {
	t.vmu.Lock()
	t.lastSeen = now
	t.vmu.Unlock()
}

func (t *Tab) idleSince(before time.Time) bool {
	t.vmu.Lock()
	defer t.vmu.Unlock()
	return t.lastSeen.Before(before)
}

// resume runs after the browser signs in: a parked draft reopens the form, a
// parked vote is sent, a parked flag asks for its reason again.
func (t *Tab) resume(ctx context.Context) {
	t.op.Lock()
	defer t.op.Unlock()
	if t.Workflow.RestorePendingDraft(ctx) {
		return
	}
	r := t.Moderator.ResumePending(ctx, t)
	if r == nil {
		return
	}
	t.vmu.Lock()
	defer t.vmu.Unlock()
	t.view.Resumed = r
	if t.view.PendingFlag != nil {
		t.view.PendingFlag.ProductID = r.ProductID
	}
}
