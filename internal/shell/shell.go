// Package shell serves the authgate application shell: the guarded login
// and dashboard views plus health and metrics endpoints.
package shell

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/authgate/app"
	"github.com/jonwraymond/authgate/auth"
	"github.com/jonwraymond/authgate/health"
	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/observe"
	"github.com/jonwraymond/authgate/router"
)

var (
	// ErrLoginPending indicates a sign-in started but has not yet produced
	// an authorization URL.
	ErrLoginPending = errors.New("shell: sign-in already in progress")

	// ErrLoginStalled indicates the identity provider did not produce an
	// authorization URL in time.
	ErrLoginStalled = errors.New("shell: sign-in did not start")
)

// Config configures a Shell.
type Config struct {
	// App provides the resolver, guard, notices and health checks (required).
	App *app.App

	// LoginWait bounds how long POST /login waits for the authorization URL.
	// Default: 10 seconds
	LoginWait time.Duration

	// Metrics serves /metrics. Default: promhttp.Handler()
	Metrics http.Handler
}

// Shell is the HTTP application shell.
type Shell struct {
	app       *app.App
	logger    observe.Logger
	loginWait time.Duration
	metrics   http.Handler

	mu        sync.Mutex
	signingIn bool
	authURL   string
}

// New creates a Shell.
func New(config Config) *Shell {
	if config.LoginWait <= 0 {
		config.LoginWait = 10 * time.Second
	}
	if config.Metrics == nil {
		config.Metrics = promhttp.Handler()
	}
	return &Shell{
		app:       config.App,
		logger:    observe.OrNop(config.App.Logger).With(observe.F("component", "shell")),
		loginWait: config.LoginWait,
		metrics:   config.Metrics,
	}
}

// Handler returns the routes. Views pass through the route guard.
func (s *Shell) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler(s.app.Health))
	r.Handle("/metrics", s.metrics)
	r.Post("/logout", s.logout)

	r.Group(func(r chi.Router) {
		r.Use(s.app.Guard.Middleware)
		r.Get(router.RootPath, http.NotFound)
		r.Get(router.LoginPath, s.loginPage)
		r.Post(router.LoginPath, s.startLogin)
		r.With(s.withUser).Get(router.DashboardPath, s.dashboard)
	})
	return r
}

// withUser attaches the signed-in account to the request context.
func (s *Shell) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if u := s.app.Resolver.UserInfo(ctx); u != nil {
			ctx = auth.WithUserInfo(ctx, u)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Shell) loginPage(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusOK, "login", pageData{Title: "Sign in", Notices: s.app.Notices.Drain()})
}

func (s *Shell) dashboard(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusOK, "dashboard", pageData{
		Title:   "Dashboard",
		User:    auth.UserInfoFromContext(r.Context()),
		Notices: s.app.Notices.Drain(),
	})
}

// startLogin begins interactive sign-in and sends the browser to the
// identity provider. The flow completes on the loopback redirect listener,
// whose completion page links back to the dashboard.
func (s *Shell) startLogin(w http.ResponseWriter, r *http.Request) {
	target, err := s.beginLogin(r.Context())
	if err != nil {
		s.logger.Warn(r.Context(), "sign-in could not start", observe.Err(err))
		render(w, http.StatusServiceUnavailable, "login", pageData{Title: "Sign in", Error: "Sign-in failed. Please try again."})
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Shell) beginLogin(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.signingIn {
		u := s.authURL
		s.mu.Unlock()
		if u == "" {
			return "", ErrLoginPending
		}
		return u, nil
	}
	s.signingIn = true
	s.authURL = ""
	s.mu.Unlock()

	urls := make(chan string, 1)
	done := make(chan error, 1)
	loginCtx := identity.WithOpener(context.WithoutCancel(ctx), func(_ context.Context, u string) error {
		s.mu.Lock()
		s.authURL = u
		s.mu.Unlock()
		select {
		case urls <- u:
		default:
		}
		return nil
	})

	go func() {
		_, err := s.app.Resolver.Login(loginCtx)
		s.mu.Lock()
		s.signingIn = false
		s.authURL = ""
		s.mu.Unlock()
		done <- err
	}()

	timer := time.NewTimer(s.loginWait)
	defer timer.Stop()
	select {
	case u := <-urls:
		return u, nil
	case err := <-done:
		if err != nil {
			return "", err
		}
		return router.DashboardPath, nil
	case <-timer.C:
		return "", ErrLoginStalled
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// logout signs out and clears the session. When the identity provider has
// an end-session endpoint the browser is sent there, else to the login view.
func (s *Shell) logout(w http.ResponseWriter, r *http.Request) {
	var endSession string
	ctx := identity.WithOpener(r.Context(), func(_ context.Context, u string) error {
		endSession = u
		return nil
	})
	if err := s.app.Resolver.Logout(ctx); err != nil {
		s.logger.Warn(r.Context(), "sign-out incomplete", observe.Err(err))
	}

	target := router.LoginPath
	if endSession != "" {
		target = endSession
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
