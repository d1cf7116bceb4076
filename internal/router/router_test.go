package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/apiclient"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/catalog"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/sessionstore"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/web"
)

// fakeReviewAPI stands in for the remote /api/v1.
type fakeReviewAPI struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string][]string
}

func (f *fakeReviewAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/v1")
	f.mu.Lock()
	f.requests = append(f.requests, key)
	if f.bodies == nil {
		f.bodies = map[string][]string{}
	}
	f.bodies[key] = append(f.bodies[key], string(b))
	f.mu.Unlock()

	authed := r.Header.Get("Authorization") == "Bearer tok-1"
	switch key {
	case "POST /auth/login":
		_, _ = w.Write([]byte(`{"token":"tok-1","user":{"id":"u1","email":"a@b.c","handle":"ab"}}`))
	case "GET /auth/profile":
		if !authed {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c","handle":"ab"}`))
	case "GET /products":
		_, _ = w.Write([]byte(`{"products":[{"id":"p2","name":"beta","avg_rating":3.5},{"id":"p1","name":"Alpha","avg_rating":4.5}]}`))
	case "GET /products/p1":
		_, _ = w.Write([]byte(`{"id":"p1","name":"Alpha","category":"hosting"}`))
	case "GET /reviews/product/p1":
		_, _ = w.Write([]byte(`{"data":[{"id":"r1","body":"Solid uptime so far","rating":5}]}`))
	case "GET /companies/search":
		_, _ = w.Write([]byte(`{"companies":[{"id":"c1","name":"Acme"}]}`))
	case "GET /companies/c1":
		_, _ = w.Write([]byte(`{"id":"c1","name":"Acme"}`))
	case "GET /products/company/c1":
		_, _ = w.Write([]byte(`{"products":[{"id":"p1","name":"Alpha","company_id":"c1"}]}`))
	case "POST /products":
		if !authed {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p9","name":"Acme Deploy","slug":"acme-deploy"}`))
	case "POST /reviews", "POST /reviews/r1/upvote", "POST /reviews/r1/flag":
		if !authed {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeReviewAPI) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.requests {
		if k == key {
			n++
		}
	}
	return n
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	tab    string
}

func (b *browser) do(method, path string, body any) (int, map[string]any) {
	b.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.base+path, rd)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	if b.tab != "" {
		req.Header.Set(web.TabHeader, b.tab)
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	if b.tab == "" {
		b.tab = resp.Header.Get(web.TabHeader)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func setup(t *testing.T) (*fakeReviewAPI, *browser) {
	t.Helper()
	api := &fakeReviewAPI{}
	apiSrv := httptest.NewServer(api)
	t.Cleanup(apiSrv.Close)

	col := metrics.NewCollector("reviewweb")
	client := apiclient.New(apiclient.Options{BaseURL: apiSrv.URL + "/api/v1", Timeout: 2 * time.Second, Observer: col})
	reg := web.NewRegistry(web.RegistryOptions{
		Client:    client,
		Store:     sessionstore.NewMemoryStore(),
		LoginPath: "/login",
		Recorder:  col,
	})
	h := RegisterRoutes(Options{
		Logger:         nopLogger(),
		Handler:        web.NewHandler(reg, catalog.NewService(client.For(nil), nil), nil),
		Registry:       reg,
		AllowedOrigins: []string{"http://localhost:5173"},
		Observer:       col,
		Metrics:        col.Handler(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return api, &browser{t: t, base: srv.URL, client: &http.Client{Jar: jar}}
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	_, b := setup(t)
	resp, err := b.client.Get(b.base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", resp.Header.Get("Permissions-Policy"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"), "plain http")
}

func TestDraftSurvivesLoginRedirect(t *testing.T) {
	api, b := setup(t)
	form := map[string]any{"title": "", "body": "Great tool, highly recommend it!", "rating": float64(5)}

	status, out := b.do(http.MethodPost, "/app/products/p1/reviews", map[string]any{
		"product":     map[string]any{"name": "Alpha"},
		"formData":    form,
		"currentPath": "/software/p1",
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "deferred", out["status"])
	assert.Equal(t, "/login?from=%2Fsoftware%2Fp1", out["redirect"])
	assert.Zero(t, api.count("POST /reviews"))
	require.NotEmpty(t, b.tab)

	status, out = b.do(http.MethodPost, "/app/auth/login", map[string]any{"email": "a@b.c", "password": "pw"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	tab := out["tab"].(map[string]any)
	restored := tab["form"].(map[string]any)
	assert.Equal(t, true, restored["open"])
	assert.Equal(t, form, restored["formData"])
	assert.Zero(t, api.count("POST /reviews"), "restored, not submitted")

	status, out = b.do(http.MethodPost, "/app/review-form/submit", map[string]any{"formData": restored["formData"], "currentPath": "/software/p1"})
	require.Equal(t, http.StatusCreated, status, out)
	assert.Equal(t, "submitted", out["status"])
	require.Equal(t, 1, api.count("POST /reviews"))
	assert.JSONEq(t, `{"product_id":"p1","title":"","body":"Great tool, highly recommend it!","rating":5}`,
		api.bodies["POST /reviews"][0])

	_, out = b.do(http.MethodGet, "/app/review-form", nil)
	assert.Equal(t, false, out["form"].(map[string]any)["open"])

	resp, err := b.client.Get(b.base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `reviewweb_review_submissions_total{status="submitted"} 1`)
}

func TestInvalidFormIsRejected(t *testing.T) {
	api, b := setup(t)

	status, out := b.do(http.MethodPost, "/app/products/p1/reviews", map[string]any{
		"formData": map[string]any{"body": "short", "rating": 0},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	errs := out["errors"].(map[string]any)
	assert.Equal(t, "Review must be at least 10 characters long", errs["body"])
	assert.Equal(t, "Please select a rating from 1 to 5 stars", errs["rating"])
	assert.Zero(t, api.count("POST /reviews"))
}

func TestSubmitWithoutOpenForm(t *testing.T) {
	_, b := setup(t)
	status, _ := b.do(http.MethodPost, "/app/review-form/submit", map[string]any{})
	assert.Equal(t, http.StatusConflict, status)
}

func TestModerationFlow(t *testing.T) {
	api, b := setup(t)

	status, out := b.do(http.MethodPost, "/app/reviews/r1/upvote", map[string]any{"productId": "p1", "currentPath": "/software/p1"})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "deferred", out["status"])
	assert.Zero(t, api.count("POST /reviews/r1/upvote"))

	status, out = b.do(http.MethodPost, "/app/auth/login", map[string]any{"email": "a@b.c", "password": "pw"})
	require.Equal(t, http.StatusOK, status)
	resumed := out["tab"].(map[string]any)["resumed"].(map[string]any)
	assert.Equal(t, "upvote", resumed["action"])
	assert.Equal(t, 1, api.count("POST /reviews/r1/upvote"))

	status, out = b.do(http.MethodPost, "/app/reviews/r1/flag", map[string]any{"productId": "p1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", out["status"])
	assert.Zero(t, api.count("POST /reviews/r1/flag"))

	status, out = b.do(http.MethodPost, "/app/reviews/r1/flag", map[string]any{"productId": "p1", "reason": "spam"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sent", out["status"])
	assert.JSONEq(t, `{"reason":"spam"}`, api.bodies["POST /reviews/r1/flag"][0])
	tab := out["tab"].(map[string]any)
	assert.Equal(t, []any{"Review has been flagged. Thank you for helping maintain quality!"}, tab["alerts"])
	assert.Equal(t, []any{"p1"}, tab["refresh"])
}

func TestAuthEndpoints(t *testing.T) {
	_, b := setup(t)

	_, out := b.do(http.MethodGet, "/app/auth/me", nil)
	assert.Equal(t, "anonymous", out["state"])
	assert.Nil(t, out["user"])

	status, _ := b.do(http.MethodPost, "/app/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	b.do(http.MethodPost, "/app/auth/login", map[string]any{"email": "a@b.c", "password": "pw"})
	_, out = b.do(http.MethodGet, "/app/auth/me", nil)
	assert.Equal(t, "authenticated", out["state"])
	assert.Equal(t, "user", out["role"])

	status, _ = b.do(http.MethodPost, "/app/auth/refresh", nil)
	assert.Equal(t, http.StatusOK, status)

	b.do(http.MethodPost, "/app/auth/logout", nil)
	_, out = b.do(http.MethodGet, "/app/auth/me", nil)
	assert.Equal(t, "anonymous", out["state"])
}

func TestCatalogRoutes(t *testing.T) {
	_, b := setup(t)

	resp, err := b.client.Get(b.base + "/app/products?sort=rating")
	require.NoError(t, err)
	defer resp.Body.Close()
	var products []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0]["id"])

	status, out := b.do(http.MethodGet, "/app/products/p1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Web Hosting", out["categoryName"])
	assert.Len(t, out["reviews"], 1)
}

func TestCompanyRoutes(t *testing.T) {
	api, b := setup(t)

	status, out := b.do(http.MethodGet, "/app/companies/c1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Acme", out["company"].(map[string]any)["name"])
	assert.Len(t, out["products"], 1)

	resp, err := b.client.Get(b.base + "/app/companies/suggest?q=ac")
	require.NoError(t, err)
	defer resp.Body.Close()
	var suggestions []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&suggestions))
	require.Len(t, suggestions, 1)
	assert.Equal(t, 1, api.count("GET /companies/search"))
}

func TestSubmitSolution(t *testing.T) {
	api, b := setup(t)
	form := map[string]any{"name": "Acme Deploy", "category": "hosting", "description": "Ship it"}

	status, out := b.do(http.MethodPost, "/app/products", map[string]any{"name": "Acme Deploy"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Product category is required", out["errors"].(map[string]any)["category"])
	assert.Zero(t, api.count("POST /products"))

	status, out = b.do(http.MethodPost, "/app/products", form)
	require.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "Error submitting solution: not authenticated", out["error"])

	b.do(http.MethodPost, "/app/auth/login", map[string]any{"email": "a@b.c", "password": "pw"})
	status, out = b.do(http.MethodPost, "/app/products", form)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Solution submitted successfully!", out["message"])
	assert.JSONEq(t, `{"name":"Acme Deploy","slug":"acme-deploy","category":"hosting","short_tagline":"Ship it","description":"Ship it"}`,
		api.bodies["POST /products"][1])
}

func nopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }
