// Package web is the JSON surface the browser talks to. It keeps, per
// browser and per tab, the state a single page app would otherwise hold in
// storage and memory.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/auth"
	authentity "github.com/ovaphlow/pitchfork/service-review-web/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/catalog"
	catentity "github.com/ovaphlow/pitchfork/service-review-web/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/moderation"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/review"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
)

const maxBody = 64 << 10

type Handler struct {
	reg     *Registry
	catalog *catalog.Service
	logger  *zap.SugaredLogger
}

func NewHandler(reg *Registry, cat *catalog.Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{reg: reg, catalog: cat, logger: logger}
}

type errorBody struct {
	Error string `json:"error"`
}

// ---- auth

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Handle   string `json:"handle,omitempty"`
}

type authResponse struct {
	auth.Result
	User *authentity.Identity `json:"user,omitempty"`
	Tab  *TabView             `json:"tab,omitempty"`
}

type meResponse struct {
	State   string               `json:"state"`
	Loading bool                 `json:"loading"`
	User    *authentity.Identity `json:"user"`
	Role    string               `json:"role,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.credentials(w, r, false)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	h.credentials(w, r, true)
}

func (h *Handler) credentials(w http.ResponseWriter, r *http.Request, register bool) {
	t := TabFrom(r.Context())
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	s := t.browser.Session
	var res auth.Result
	if register {
		res = s.Register(r.Context(), req.Email, req.Password, req.Handle)
	} else {
		res = s.Login(r.Context(), req.Email, req.Password)
	}
	if !res.Success {
		h.writeJSON(w, http.StatusUnauthorized, authResponse{Result: res})
		return
	}
	// a parked draft or click was resumed by the session hook by now
	view := t.Snapshot()
	h.writeJSON(w, http.StatusOK, authResponse{Result: res, User: s.Identity(), Tab: &view})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	TabFrom(r.Context()).browser.Session.Logout(r.Context())
	h.writeJSON(w, http.StatusOK, auth.Result{Success: true})
}

func (h *Handler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	s := TabFrom(r.Context()).browser.Session
	err := s.RefreshProfile(r.Context())
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Not signed in"})
		return
	case err != nil:
		// the previous identity stays in place
		h.writeJSON(w, http.StatusBadGateway, errorBody{Error: "Failed to refresh profile"})
		return
	}
	h.Me(w, r)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	s := TabFrom(r.Context()).browser.Session
	out := meResponse{State: s.State().String(), Loading: s.Loading(), User: s.Identity()}
	if out.User != nil {
		out.Role = out.User.DisplayRole()
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ---- catalog

func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ps, err := h.catalog.Products(r.Context(), catalog.ProductQuery{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
	})
	if err != nil {
		h.loadFailed(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.ProductDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.loadFailed(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Companies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cs, err := h.catalog.Companies(r.Context(), catalog.CompanyQuery{Search: q.Get("search"), Sort: q.Get("sort")})
	if err != nil {
		h.loadFailed(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) Company(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.CompanyDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.loadFailed(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) CompanySuggestions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.catalog.CompanySuggestions(r.Context(), r.URL.Query().Get("q")))
}

type solutionResponse struct {
	Message string             `json:"message"`
	Product *catentity.Product `json:"product"`
}

type invalidResponse struct {
	Errors map[string]string `json:"errors"`
}

// SubmitSolution creates a listing with the browser's credentials.
func (h *Handler) SubmitSolution(w http.ResponseWriter, r *http.Request) {
	t := TabFrom(r.Context())
	var form catalog.SolutionForm
	if !h.decode(w, r, &form) {
		return
	}
	p, err := h.catalog.SubmitSolution(r.Context(), t.browser.Conn, form)
	var ie *catalog.InvalidSolutionError
	switch {
	case errors.As(err, &ie):
		h.writeJSON(w, http.StatusUnprocessableEntity, invalidResponse{Errors: ie.Fields})
	case err != nil:
		h.loadFailed(w, err)
	default:
		h.writeJSON(w, http.StatusCreated, solutionResponse{Message: catalog.MsgSolutionSubmitted, Product: p})
	}
}

func (h *Handler) loadFailed(w http.ResponseWriter, err error) {
	var le *catalog.LoadError
	if errors.As(err, &le) {
		h.writeJSON(w, http.StatusBadGateway, errorBody{Error: le.Message})
		return
	}
	h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Request failed"})
}

// ---- review form

type submissionRequest struct {
	Product     entity.ProductRef `json:"product"`
	FormData    entity.FormData   `json:"formData"`
	CurrentPath string            `json:"currentPath"`
}

type outcomeResponse struct {
	review.Outcome
	Tab TabView `json:"tab"`
}

// BeginSubmission is the submit button of a form opened on a product page.
func (h *Handler) BeginSubmission(w http.ResponseWriter, r *http.Request) {
	t := TabFrom(r.Context())
	var req submissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Product.ID = chi.URLParam(r, "id")

	t.op.Lock()
	out := t.Workflow.BeginSubmission(r.Context(), req.Product, req.FormData, req.CurrentPath)
	t.op.Unlock()
	h.writeOutcome(w, t, out)
}

// SubmitForm submits the form currently open in the tab, e.g. one restored
// after login.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	t := TabFrom(r.Context())
	var req submissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	t.op.Lock()
	fs := t.form()
	if !fs.Open || fs.Product == nil {
		t.op.Unlock()
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "No review form is open"})
		return
	}
	out := t.Workflow.BeginSubmission(r.Context(), *fs.Product, req.FormData, req.CurrentPath)
	t.op.Unlock()
	h.writeOutcome(w, t, out)
}

type composeRequest struct {
	Product entity.ProductRef `json:"product"`
}

func (h *Handler) OpenForm(w http.ResponseWriter, r *http.Request) {
	t := TabFrom(r.Context())
	var req composeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Product.ID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "product id is required"})
		return
	}
	t.op.Lock()
	t.Workflow.Compose(req.Product)
	t.op.Unlock()
	h.writeJSON(w, http.StatusOK, t.Snapshot())
}

func (h *Handler) FormState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, TabFrom(r.Context()).Snapshot())
}

func (h *Handler) AbandonForm(w http.ResponseWriter, r *http.Request) {
	t := TabFrom(r.Context())
	t.op.Lock()
	err := t.Workflow.Abandon(r.Context())
	t.op.Unlock()
	if err != nil {
		h.logger.Warnw("abandon review form", "tab", t.ID, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, t *Tab, out review.Outcome) {
	status := http.StatusOK
	switch out.Status {
	case review.StatusSubmitted:
		status = http.StatusCreated
	case review.StatusDeferred:
		status = http.StatusAccepted
	case review.StatusInvalid:
		status = http.StatusUnprocessableEntity
	case review.StatusBusy:
		status = http.StatusConflict
	case review.StatusFailed:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, outcomeResponse{Outcome: out, Tab: t.Snapshot()})
}

// ---- moderation

type moderationRequest struct {
	ProductID   string `json:"productId"`
	CurrentPath string `json:"currentPath"`
	Reason      string `json:"reason,omitempty"`
}

type moderationResponse struct {
	moderation.Result
	Tab TabView `json:"tab"`
}

func (h *Handler) Upvote(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, moderation.ActionUpvote)
}

func (h *Handler) Downvote(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, moderation.ActionDownvote)
}

func (h *Handler) Flag(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, moderation.ActionFlag)
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request, a moderation.Action) {
	t := TabFrom(r.Context())
	var req moderationRequest
	if !h.decode(w, r, &req) {
		return
	}
	reviewID := chi.URLParam(r, "id")

	// moderation requests are not serialized with t.op so that overlapping
	// clicks reach the moderator's collapsing
	var res moderation.Result
	switch a {
	case moderation.ActionUpvote:
		res = t.Moderator.Upvote(r.Context(), reviewID, req.ProductID, req.CurrentPath)
	case moderation.ActionDownvote:
		res = t.Moderator.Downvote(r.Context(), reviewID, req.ProductID, req.CurrentPath)
	case moderation.ActionFlag:
		res = t.Moderator.Flag(r.Context(), reviewID, req.ProductID, req.CurrentPath, moderation.StaticReason(req.Reason))
	}

	status := http.StatusOK
	if res.Status == moderation.StatusDeferred {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, moderationResponse{Result: res, Tab: t.Snapshot()})
}

// ---- helpers

// decode reads a JSON body. An empty body leaves v as is.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
	h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
	return false
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
