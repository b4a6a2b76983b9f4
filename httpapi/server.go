package httpapi

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tokamak-auth/tokamak"
	"github.com/tokamak-auth/tokamak/middleware"
)

const defaultRequestTimeout = 30 * time.Second

// Options controls runtime behaviour for the API handlers.
type Options struct {
	// DevMode includes the underlying error text in 5xx responses.
	// Production deployments should leave it off.
	DevMode bool

	// RequestTimeout bounds each request. Zero means 30 seconds.
	RequestTimeout time.Duration
}

// API wires the engine and configuration for the HTTP handlers.
type API struct {
	engine *tokamak.Engine
	opts   Options
}

// New initialises the API layer around a built engine.
func New(engine *tokamak.Engine, opts Options) (*API, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &API{engine: engine, opts: opts}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(a.opts.RequestTimeout))
	r.Use(requestContext)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/verify", a.handleVerify)
		r.Post("/logout", a.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(a.engine))
			r.Get("/me", a.handleMe)
			r.Get("/sessions", a.handleSessions)
			r.Post("/logout-all", a.handleLogoutAll)
		})
	})

	r.Get("/healthz", a.handleHealth)

	return r
}

// requestContext copies the caller's network identity into the request
// context so the engine can attach it to audit events and rate limit keys.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ip := clientIP(r); ip != "" {
			ctx = tokamak.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = tokamak.WithDeviceInfo(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For
	// when present, so RemoteAddr is the single source here.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
