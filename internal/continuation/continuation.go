// Package continuation parks one deferred user intent per tab across a login
// redirect and hands it back once the user is authenticated.
//
// There is a single slot per tab. Saving a second continuation replaces the
// first, so starting a new draft while another is parked loses the older one.
package continuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/sessionstore"
)

type Intent string

const (
	IntentReviewDraft Intent = "review_draft"
	IntentUpvote      Intent = "upvote"
	IntentDownvote    Intent = "downvote"
	IntentFlag        Intent = "flag"
)

func (i Intent) valid() bool {
	switch i {
	case IntentReviewDraft, IntentUpvote, IntentDownvote, IntentFlag:
		return true
	}
	return false
}

// PendingAction is a moderation click made while anonymous.
type PendingAction struct {
	ReviewID  string `json:"reviewId"`
	ProductID string `json:"productId"`
}

// Continuation is the record persisted in the slot.
type Continuation struct {
	Intent     Intent              `json:"intent"`
	ReturnPath string              `json:"returnPath"`
	Draft      *entity.ReviewDraft `json:"draft,omitempty"`
	Action     *PendingAction      `json:"action,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

var ErrInvalid = errors.New("continuation: invalid record")

func (c *Continuation) validate() error {
	if !c.Intent.valid() {
		return fmt.Errorf("%w: unknown intent %q", ErrInvalid, c.Intent)
	}
	if c.Intent == IntentReviewDraft {
		if c.Draft == nil || c.Draft.Product.ID == "" {
			return fmt.Errorf("%w: review draft without product", ErrInvalid)
		}
		return nil
	}
	if c.Action == nil || c.Action.ReviewID == "" {
		return fmt.Errorf("%w: %s without review id", ErrInvalid, c.Intent)
	}
	return nil
}

// Slot is the tab's single pending-continuation entry.
type Slot struct {
	store  sessionstore.Store
	scope  string
	logger *zap.SugaredLogger
}

func NewSlot(store sessionstore.Store, tabID string, logger *zap.SugaredLogger) *Slot {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Slot{store: store, scope: sessionstore.TabScope(tabID), logger: logger}
}

// Save overwrites whatever the slot held.
func (s *Slot) Save(ctx context.Context, c Continuation) error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode continuation: %w", err)
	}
	if err := s.store.Set(ctx, s.scope, sessionstore.KeyPendingReview, b); err != nil {
		return fmt.Errorf("save continuation: %w", err)
	}
	return nil
}

// Peek returns the parked continuation without removing it. A corrupt entry
// is cleared and reported as absent.
func (s *Slot) Peek(ctx context.Context) (*Continuation, error) {
	b, ok, err := s.store.Get(ctx, s.scope, sessionstore.KeyPendingReview)
	if err != nil {
		return nil, fmt.Errorf("read continuation: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var c Continuation
	if err := json.Unmarshal(b, &c); err == nil {
		err = c.validate()
		if err == nil {
			return &c, nil
		}
	}
	s.logger.Warnw("discarding unreadable pending continuation", "scope", s.scope)
	if err := s.store.Clear(ctx, s.scope, sessionstore.KeyPendingReview); err != nil {
		return nil, fmt.Errorf("clear continuation: %w", err)
	}
	return nil, nil
}

// TakeIf removes and returns the parked continuation when its intent is one
// of intents. Any other continuation stays in place. Callers serialize access
// per tab; a Save racing between the read and the clear would be dropped.
func (s *Slot) TakeIf(ctx context.Context, intents ...Intent) (*Continuation, error) {
	c, err := s.Peek(ctx)
	if err != nil || c == nil {
		return nil, err
	}
	if !slices.Contains(intents, c.Intent) {
		return nil, nil
	}
	if err := s.Clear(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Slot) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx, s.scope, sessionstore.KeyPendingReview); err != nil {
		return fmt.Errorf("clear continuation: %w", err)
	}
	return nil
}

// LoginRedirect is where an anonymous user is sent so that, after signing in,
// they come back to from.
func LoginRedirect(loginPath, from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") {
		from = "/"
	}
	return loginPath + "?from=" + url.QueryEscape(from)
}
