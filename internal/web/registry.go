package web

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/apiclient"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/auth"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/continuation"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/moderation"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/review"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/sessionstore"
)

// Recorder is what the registry and the workflows it builds report to.
type Recorder interface {
	review.Recorder
	moderation.Recorder
	SetActiveTabs(n int)
}

// Browser owns the credential token and the auth session shared by its tabs.
type Browser struct {
	ID      string
	Session *auth.Session
	Conn    *apiclient.Conn

	mu   sync.Mutex
	tabs map[string]*Tab
}

func (b *Browser) liveTabs() []*Tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		out = append(out, t)
	}
	return out
}

type RegistryOptions struct {
	Client    *apiclient.Client
	Store     sessionstore.Store
	LoginPath string
	Logger    *zap.SugaredLogger
	Recorder  Recorder
}

// Registry keeps the in-process state of every browser and tab that has
// talked to this server. Durable parts live in the session store, so a
// restarted process rebuilds them on the next request.
type Registry struct {
	client    *apiclient.Client
	store     sessionstore.Store
	loginPath string
	logger    *zap.SugaredLogger
	recorder  Recorder
	now       func() time.Time

	mu       sync.Mutex
	browsers map[string]*Browser
	tabs     map[string]*Tab
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Registry{
		client:    opts.Client,
		store:     opts.Store,
		loginPath: opts.LoginPath,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		now:       time.Now,
		browsers:  map[string]*Browser{},
		tabs:      map[string]*Tab{},
	}
}

// Tab returns the state for (browserID, tabID), creating it on first use. A
// tab id seen under another browser is rebound to this one.
func (r *Registry) Tab(browserID, tabID string) *Tab {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.browserLocked(browserID)
	t, ok := r.tabs[tabID]
	if ok && t.browser != b {
		t.browser.mu.Lock()
		delete(t.browser.tabs, tabID)
		t.browser.mu.Unlock()
		ok = false
	}
	if !ok {
		t = r.newTab(b, tabID)
		r.tabs[tabID] = t
		b.mu.Lock()
		b.tabs[tabID] = t
		b.mu.Unlock()
		r.reportTabsLocked()
	}
	t.touch(r.now())
	return t
}

func (r *Registry) browserLocked(id string) *Browser {
	if b, ok := r.browsers[id]; ok {
		return b
	}
	tokens := sessionstore.NewTokenSlot(r.store, id)
	conn := r.client.For(tokens)
	logger := r.logger.With("browser", id)
	b := &Browser{
		ID:      id,
		Conn:    conn,
		Session: auth.NewSession(conn, tokens, logger),
		tabs:    map[string]*Tab{},
	}
	b.Session.OnAuthenticated(func(ctx context.Context) {
		for _, t := range b.liveTabs() {
			t.resume(ctx)
		}
	})
	r.browsers[id] = b
	return b
}

func (r *Registry) newTab(b *Browser, id string) *Tab {
	logger := r.logger.With("browser", b.ID, "tab", id)
	t := &Tab{ID: id, browser: b}
	t.Slot = continuation.NewSlot(r.store, slotKey(b.ID, id), logger)

	var (
		rr review.Recorder
		mr moderation.Recorder
	)
	if r.recorder != nil {
		rr, mr = r.recorder, r.recorder
	}
	t.Workflow = review.NewWorkflow(review.Deps{
		Auth:      b.Session,
		API:       b.Conn,
		Slot:      t.Slot,
		Surface:   t,
		LoginPath: r.loginPath,
		Logger:    logger,
		Recorder:  rr,
	})
	t.Moderator = moderation.New(moderation.Deps{
		Auth:      b.Session,
		API:       b.Conn,
		Slot:      t.Slot,
		Refresher: t,
		Notifier:  t,
		LoginPath: r.loginPath,
		Logger:    logger,
		Recorder:  mr,
	})
	return t
}

// slotKey qualifies a tab id with its browser. Tab ids come from the client,
// so a parked continuation must only be reachable from the browser that
// parked it.
func slotKey(browserID, tabID string) string {
	return browserID + ":" + tabID
}

// Sweep forgets tabs idle since before, and browsers left without tabs. The
// durable store is untouched; see sessionstore purging for that.
func (r *Registry) Sweep(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.tabs {
		if !t.idleSince(before) {
			continue
		}
		delete(r.tabs, id)
		b := t.browser
		b.mu.Lock()
		delete(b.tabs, id)
		empty := len(b.tabs) == 0
		b.mu.Unlock()
		if empty {
			delete(r.browsers, b.ID)
		}
		n++
	}
	if n > 0 {
		r.reportTabsLocked()
	}
	return n
}

func (r *Registry) reportTabsLocked() {
	if r.recorder != nil {
		r.recorder.SetActiveTabs(len(r.tabs))
	}
}
