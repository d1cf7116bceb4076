package web

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/ovaphlow/pitchfork/service-review-web/pkg/utilities"
)

const (
	BrowserCookie = "rd_browser"
	TabCookie     = "rd_tab"
	TabHeader     = "X-Tab-ID"

	browserCookieMaxAge = 365 * 24 * time.Hour
)

var tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

type ctxKey struct{}

// CookieOptions controls the identification cookies.
type CookieOptions struct {
	Secure bool
}

// Identify binds every request to a browser and a tab, minting ids the first
// time it sees either, and resolves the browser's auth session before the
// handler runs.
func (reg *Registry) Identify(opts CookieOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			browserID := ""
			if c, err := r.Cookie(BrowserCookie); err == nil && utilities.ValidKSUID(c.Value) {
				browserID = c.Value
			}
			if browserID == "" {
				browserID = utilities.NewKSUID()
				http.SetCookie(w, &http.Cookie{
					Name:     BrowserCookie,
					Value:    browserID,
					Path:     "/",
					MaxAge:   int(browserCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			tabID := r.Header.Get(TabHeader)
			if !tabIDPattern.MatchString(tabID) {
				tabID = ""
				if c, err := r.Cookie(TabCookie); err == nil && tabIDPattern.MatchString(c.Value) {
					tabID = c.Value
				}
			}
			if tabID == "" {
				tabID = utilities.NewKSUID()
				http.SetCookie(w, &http.Cookie{
					Name:     TabCookie,
					Value:    tabID,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(TabHeader, tabID)

			t := reg.Tab(browserID, tabID)
			if err := t.browser.Session.Resolve(r.Context()); err != nil {
				reg.logger.Debugw("auth resolution abandoned", "browser", browserID, "err", err)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, t)))
		})
	}
}

// TabFrom returns the tab bound by Identify.
func TabFrom(ctx context.Context) *Tab {
	t, _ := ctx.Value(ctxKey{}).(*Tab)
	return t
}
