// Package auth holds the per-browser answer to "who is acting now".
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/apiclient"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/auth/entity"
)

type State int

const (
	StateResolving State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Authenticator is the subset of the review API the session needs.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*apiclient.AuthResponse, error)
	Register(ctx context.Context, email, password, handle string) (*apiclient.AuthResponse, error)
	Profile(ctx context.Context) (*entity.Identity, error)
}

// TokenStore persists the credential token for the browser.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Result is what login and register report. Failures are values, not errors.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hook runs after the session enters StateAuthenticated.
type Hook func(ctx context.Context)

var ErrNotAuthenticated = errors.New("not authenticated")

const supersededMessage = "Sign-in was cancelled"

// Session is the auth state of one browser. Every transition bumps a
// generation counter; an API answer that comes back after a newer transition
// is dropped, so a logout that lands while a login is in flight wins.
type Session struct {
	api    Authenticator
	tokens TokenStore
	logger *zap.SugaredLogger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	identity  *entity.Identity
	lastErr   string
	gen       uint64
	hooks     []Hook
	resolving chan struct{}
	// retryResolve is set when the stored token could not be checked
	retryResolve bool
}

func NewSession(api Authenticator, tokens TokenStore, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{api: api, tokens: tokens, logger: logger, now: time.Now, state: StateResolving}
}

// OnAuthenticated registers a hook. Hooks run in registration order, on the
// goroutine that completed the transition.
func (s *Session) OnAuthenticated(h Hook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loading is true until the initial resolution finishes.
func (s *Session) Loading() bool { return s.State() == StateResolving }

func (s *Session) Identity() *entity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

func (s *Session) IsAuthenticated() bool { return s.Identity() != nil }

// LastError is the message of the most recent failed login or register.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Resolve settles the initial state from the stored token. Only one call does
// work at a time; concurrent callers wait for it. Returns ctx.Err() if the
// caller gives up, in which case nothing is settled and the next call starts
// over. A profile fetch that fails for a reason other than a rejected token
// leaves the browser anonymous but keeps the token for the next call.
func (s *Session) Resolve(ctx context.Context) error {
	s.mu.Lock()
	if ch := s.resolving; ch != nil {
		s.mu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	switch {
	case s.state == StateResolving:
	case s.state == StateAnonymous && s.retryResolve:
		s.retryResolve = false
	default:
		s.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	s.resolving = done
	gen := s.gen
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.resolving = nil
		s.mu.Unlock()
		close(done)
	}()

	tok, err := s.tokens.Token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.abandonResolve(ctx, gen)
		}
		s.logger.Warnw("read stored token", "err", err)
	}
	if tok == "" {
		s.settleAnonymous(gen)
		return nil
	}
	if tokenExpired(tok, s.now()) {
		s.logger.Debugw("stored token expired, discarding")
		s.discardToken(ctx)
		s.settleAnonymous(gen)
		return nil
	}

	profile, err := s.api.Profile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.abandonResolve(ctx, gen)
		}
		s.mu.Lock()
		current := gen == s.gen
		s.mu.Unlock()
		switch apiclient.StatusOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			s.logger.Infow("stored token rejected, discarding", "err", err)
			if current {
				s.discardToken(ctx)
			}
		default:
			s.logger.Warnw("failed to fetch user profile, will retry", "err", err)
			s.mu.Lock()
			if gen == s.gen {
				s.retryResolve = true
			}
			s.mu.Unlock()
		}
		s.settleAnonymous(gen)
		return nil
	}
	if ok, _ := s.settleAuthenticated(ctx, gen, profile, nil); !ok {
		s.settleAnonymous(gen)
	}
	return nil
}

// abandonResolve leaves the state as it was so the next request resolves
// again.
func (s *Session) abandonResolve(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if gen == s.gen && s.state == StateAnonymous {
		s.retryResolve = true
	}
	s.mu.Unlock()
	s.logger.Debugw("auth resolution abandoned", "err", ctx.Err())
	return ctx.Err()
}

func (s *Session) Login(ctx context.Context, email, password string) Result {
	gen := s.begin()
	resp, err := s.api.Login(ctx, email, password)
	return s.finishCredentials(ctx, gen, resp, err, "Login failed")
}

func (s *Session) Register(ctx context.Context, email, password, handle string) Result {
	gen := s.begin()
	resp, err := s.api.Register(ctx, email, password, handle)
	return s.finishCredentials(ctx, gen, resp, err, "Registration failed")
}

// Logout always succeeds. Any in-flight login, register or resolve result is
// discarded when it arrives.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	s.gen++
	s.identity = nil
	s.lastErr = ""
	s.retryResolve = false
	s.state = StateAnonymous
	s.mu.Unlock()
	s.discardToken(ctx)
}

// RefreshProfile re-reads the identity. On failure the current identity is
// kept and the error is logged and returned.
func (s *Session) RefreshProfile(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	gen := s.gen
	s.mu.Unlock()

	profile, err := s.api.Profile(ctx)
	if err != nil {
		s.logger.Warnw("failed to refresh profile", "err", err)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && s.state == StateAuthenticated {
		s.identity = profile
	}
	return nil
}

func (s *Session) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.lastErr = ""
	s.retryResolve = false
	return s.gen
}

func (s *Session) finishCredentials(ctx context.Context, gen uint64, resp *apiclient.AuthResponse, err error, fallback string) Result {
	if err != nil {
		msg := apiclient.MessageOf(err)
		if msg == "" {
			msg = fallback
		}
		s.mu.Lock()
		if gen == s.gen {
			s.lastErr = msg
		}
		s.mu.Unlock()
		return Result{Error: msg}
	}
	if resp == nil || resp.User.ID == "" {
		s.mu.Lock()
		if gen == s.gen {
			s.lastErr = fallback
		}
		s.mu.Unlock()
		return Result{Error: fallback}
	}

	user := resp.User
	ok, err := s.settleAuthenticated(ctx, gen, &user, func() error {
		if resp.Token == "" {
			return nil
		}
		return s.tokens.SetToken(ctx, resp.Token)
	})
	if err != nil {
		s.logger.Errorw("persist token", "err", err)
		return Result{Error: fallback}
	}
	if !ok {
		s.logger.Debugw("dropping superseded auth response")
		return Result{Error: supersededMessage}
	}
	return Result{Success: true}
}

func (s *Session) settleAnonymous(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		// a newer login/logout owns the state; only leave Resolving
		if s.state == StateResolving {
			s.state = StateAnonymous
		}
		return
	}
	s.identity = nil
	s.state = StateAnonymous
}

// settleAuthenticated applies the identity if gen is still current and runs
// the hooks when this is a transition into StateAuthenticated. commit, if not
// nil, runs under the lock first so a concurrent Logout cannot interleave with
// storing the token.
func (s *Session) settleAuthenticated(ctx context.Context, gen uint64, id *entity.Identity, commit func() error) (bool, error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false, nil
	}
	if commit != nil {
		if err := commit(); err != nil {
			s.mu.Unlock()
			return false, err
		}
	}
	entered := s.state != StateAuthenticated
	s.identity = id
	s.state = StateAuthenticated
	s.lastErr = ""
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	if entered {
		for _, h := range hooks {
			h(ctx)
		}
	}
	return true, nil
}

func (s *Session) discardToken(ctx context.Context) {
	if err := s.tokens.ClearToken(ctx); err != nil {
		s.logger.Warnw("clear stored token", "err", err)
	}
}

// tokenExpired reports whether tok is a JWT whose exp has passed. Opaque
// tokens are never considered expired here; the API decides.
func tokenExpired(tok string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(now)
}
