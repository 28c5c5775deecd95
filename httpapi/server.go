// Package httpapi exposes accountcore.Engine over JSON/HTTP.
//
// Browser clients hold the session handle in an HttpOnly cookie; API clients
// may send it as a bearer token. OAuth sign-in uses server-side state from
// the social package.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/jwt"
	"github.com/MrEthical07/accountcore/middleware"
	"github.com/MrEthical07/accountcore/social"
)

// Config controls cookies and redirects.
type Config struct {
	CookieName   string
	CookieSecure bool
	CookieDomain string
	// TrustProxyHeaders honours X-Forwarded-For for client IPs.
	TrustProxyHeaders bool
	// ExposeSessionToken returns the raw handle in login responses for
	// clients that cannot use cookies.
	ExposeSessionToken bool
	// PostLoginRedirect is where OAuth callbacks send the browser.
	PostLoginRedirect string
	RequestTimeout    time.Duration
}

// Options carries the collaborators. Only Engine is required.
type Options struct {
	Engine     *accountcore.Engine
	Providers  *social.Registry
	States     *social.StateStore
	Assertions *jwt.Manager
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	cfg        Config
	engine     *accountcore.Engine
	providers  *social.Registry
	states     *social.StateStore
	assertions *jwt.Manager
	metrics    http.Handler
	log        *zap.Logger
}

// New validates opts and returns a Server.
func New(cfg Config, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = middleware.DefaultCookieName
	}
	if cfg.PostLoginRedirect == "" {
		cfg.PostLoginRedirect = "/"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Providers == nil {
		opts.Providers = social.NewRegistry()
	}
	if opts.States == nil {
		opts.States = social.NewStateStore(0)
	}
	return &Server{
		cfg:        cfg,
		engine:     opts.Engine,
		providers:  opts.Providers,
		states:     opts.States,
		assertions: opts.Assertions,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(s.cfg.RequestTimeout))
	r.Use(middleware.ClientMeta(s.cfg.TrustProxyHeaders))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/login/mfa", s.handleLoginMFA)
		r.Post("/password/reset-request", s.handleResetRequest)
		r.Post("/password/reset", s.handleReset)
		r.Post("/email/verify", s.handleVerifyEmail)

		r.Get("/oauth/{provider}/start", s.handleOAuthStart)
		r.Get("/oauth/{provider}/callback", s.handleOAuthCallback)

		r.With(middleware.ResolveIdentity(s.engine, s.cfg.CookieName)).Get("/identity", s.handleIdentity)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.engine, s.cfg.CookieName, s.unauthorized))

			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Patch("/me", s.handleUpdateProfile)
			r.Get("/me/export", s.handleExport)
			r.Post("/me/password", s.handleChangePassword)
			r.Put("/me/password", s.handleSetPassword)
			r.Post("/me/email/verify-request", s.handleVerifyRequest)

			r.Get("/me/sessions", s.handleListSessions)
			r.Delete("/me/sessions", s.handleRevokeAll)
			r.Delete("/me/sessions/{id}", s.handleRevokeSession)

			r.Get("/me/activity", s.handleActivity)

			r.Get("/me/oauth", s.handleListLinks)
			r.Get("/me/oauth/{provider}/link", s.handleOAuthLinkStart)
			r.Delete("/me/oauth/{provider}", s.handleUnlink)

			r.Post("/me/mfa/enroll", s.handleMFAEnroll)
			r.Post("/me/mfa/confirm", s.handleMFAConfirm)
			r.Post("/me/mfa/disable", s.handleMFADisable)

			r.Post("/me/assertion", s.handleAssertion)
		})
	})
	return r
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if accountcore.ErrorKind(err) == accountcore.KindTransient {
		s.writeError(w, r, err)
		return
	}
	if errors.Is(err, accountcore.ErrAccountDisabled) {
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusForbidden, errForbidden)
		return
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusUnauthorized, errUnauthorized)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func principal(r *http.Request) *accountcore.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}
