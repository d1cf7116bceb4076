package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/web"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// HTTPObserver records one finished request under its route pattern.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// LoggingMiddleware logs requests at debug level and reports them to obs,
// which may be nil.
func LoggingMiddleware(logger *zap.SugaredLogger, obs HTTPObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			if obs != nil {
				obs.ObserveHTTP(r.Method, route, status, dur)
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"remote", r.RemoteAddr,
				"request_id", chimiddleware.GetReqID(r.Context()),
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// no MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// never framed, so no clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			// full referrer only on same-or-stronger transport
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")

			// the JSON surface needs none of these devices
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// self-only CSP unless a handler already set a stricter one
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}

			// per-browser state must never be served from a shared cache
			w.Header().Set("Cache-Control", "no-store")

			// HSTS only when the request actually came over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

type Options struct {
	Logger         *zap.SugaredLogger
	Handler        *web.Handler
	Registry       *web.Registry
	Cookies        web.CookieOptions
	AllowedOrigins []string
	Observer       HTTPObserver
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// RegisterRoutes mounts the browser-facing routes on a chi router.
func RegisterRoutes(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(LoggingMiddleware(opts.Logger, opts.Observer))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", web.TabHeader},
		ExposedHeaders:   []string{web.TabHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(SecurityHeadersMiddleware())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	h := opts.Handler
	r.Route("/app", func(r chi.Router) {
		r.Use(opts.Registry.Identify(opts.Cookies))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
			r.Post("/logout", h.Logout)
			r.Post("/refresh", h.RefreshProfile)
			r.Get("/me", h.Me)
		})

		r.Get("/products", h.Products)
		r.Post("/products", h.SubmitSolution)
		r.Get("/products/{id}", h.Product)
		r.Post("/products/{id}/reviews", h.BeginSubmission)
		r.Get("/companies", h.Companies)
		r.Get("/companies/suggest", h.CompanySuggestions)
		r.Get("/companies/{id}", h.Company)

		r.Route("/review-form", func(r chi.Router) {
			r.Get("/", h.FormState)
			r.Post("/", h.OpenForm)
			r.Delete("/", h.AbandonForm)
			r.Post("/submit", h.SubmitForm)
		})

		r.Route("/reviews/{id}", func(r chi.Router) {
			r.Post("/upvote", h.Upvote)
			r.Post("/downvote", h.Downvote)
			r.Post("/flag", h.Flag)
		})
	})
	return r
}
