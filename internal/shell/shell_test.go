package shell

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/authgate/app"
	"github.com/jonwraymond/authgate/config"
	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/identity/identitytest"
	"github.com/jonwraymond/authgate/notify"
	"github.com/jonwraymond/authgate/observe"
)

func testConfig() config.Config {
	return config.Config{
		ClientID:           "client-123",
		Authority:          "https://login.example.com/tenant-1/v2.0",
		RedirectURI:        "http://localhost:8400/callback",
		CacheLocation:      config.CacheMemory,
		SessionTTL:         time.Hour,
		LoginScopes:        []string{"openid", "profile", "email"},
		APITimeout:         5 * time.Second,
		APIRetries:         1,
		InteractiveTimeout: time.Minute,
		ListenAddr:         "localhost:0",
		LogLevel:           "info",
		TracingExporter:    "none",
		MetricsExporter:    "none",
	}
}

func newShell(t *testing.T, p identity.Provider) (*Shell, *app.App) {
	t.Helper()
	a, err := app.New(context.Background(), testConfig(), app.Options{Provider: p, Logger: observe.NopLogger()})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return New(Config{App: a, LoginWait: time.Second, Metrics: http.NotFoundHandler()}), a
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestShell_Routes(t *testing.T) {
	fake := identitytest.New()
	s, _ := newShell(t, fake)
	h := s.Handler()

	tests := []struct {
		name         string
		signedIn     bool
		method, path string
		wantCode     int
		wantLocation string
		wantBody     string
	}{
		{name: "root redirects", method: http.MethodGet, path: "/", wantCode: http.StatusFound, wantLocation: "/login"},
		{name: "dashboard unauthenticated", method: http.MethodGet, path: "/dashboard", wantCode: http.StatusFound, wantLocation: "/login"},
		{name: "login unauthenticated", method: http.MethodGet, path: "/login", wantCode: http.StatusOK, wantBody: "Sign in"},
		{name: "login authenticated", signedIn: true, method: http.MethodGet, path: "/login", wantCode: http.StatusFound, wantLocation: "/dashboard"},
		{name: "dashboard authenticated", signedIn: true, method: http.MethodGet, path: "/dashboard", wantCode: http.StatusOK, wantBody: "Ada Lovelace"},
		{name: "unknown", method: http.MethodGet, path: "/settings", wantCode: http.StatusNotFound},
		{name: "liveness", method: http.MethodGet, path: "/healthz", wantCode: http.StatusOK},
		{name: "readiness", method: http.MethodGet, path: "/readyz", wantCode: http.StatusOK, wantBody: `"identity"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.signedIn {
				fake.SignIn(identitytest.DefaultAccount)
			} else {
				fake.SignOut()
			}

			rec := do(t, h, tt.method, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantCode)
			}
			if loc := rec.Header().Get("Location"); loc != tt.wantLocation {
				t.Fatalf("Location = %q, want %q", loc, tt.wantLocation)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestShell_SignInAndOut(t *testing.T) {
	fake := identitytest.New()
	s, a := newShell(t, fake)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/login")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("POST /login = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if !a.Resolver.IsAuthenticated(context.Background()) {
		t.Fatal("expected signed in")
	}

	rec = do(t, h, http.MethodPost, "/logout")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("POST /logout = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if fake.Calls("Logout") != 1 {
		t.Fatalf("Logout calls = %d", fake.Calls("Logout"))
	}
	if a.Resolver.IsAuthenticated(context.Background()) {
		t.Fatal("expected signed out")
	}
}

func TestShell_FlashNotices(t *testing.T) {
	s, a := newShell(t, identitytest.New())
	a.Notices.Notify(context.Background(), notify.Notice{Level: notify.LevelError, Code: "session_expired", Message: "Your session has expired."})

	rec := do(t, s.Handler(), http.MethodGet, "/login")
	if !strings.Contains(rec.Body.String(), "Your session has expired.") {
		t.Fatalf("notice missing from %q", rec.Body.String())
	}
	if a.Notices.Len() != 0 {
		t.Fatal("notices must be drained once shown")
	}
}

// redirectingProvider opens an authorization URL and waits for release.
type redirectingProvider struct {
	*identitytest.Provider
	authURL string
	release chan struct{}
}

func (p *redirectingProvider) AcquireTokenInteractive(ctx context.Context, req identity.TokenRequest) (*identity.Token, error) {
	if err := identity.OpenerFrom(ctx, nil)(ctx, p.authURL); err != nil {
		return nil, err
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.Provider.AcquireTokenInteractive(ctx, req)
}

func TestShell_LoginRedirectsToProvider(t *testing.T) {
	p := &redirectingProvider{
		Provider: identitytest.New(),
		authURL:  "https://login.example.com/authorize?" + url.Values{"state": {"xyz"}}.Encode(),
		release:  make(chan struct{}),
	}
	s, a := newShell(t, p)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/login")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != p.authURL {
		t.Fatalf("POST /login = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	// A second click while the flow is open goes to the same URL.
	rec = do(t, h, http.MethodPost, "/login")
	if rec.Header().Get("Location") != p.authURL {
		t.Fatalf("second POST /login Location = %q", rec.Header().Get("Location"))
	}
	if got := p.Calls("AcquireTokenInteractive"); got != 0 {
		t.Fatalf("interactive completions = %d before release", got)
	}

	close(p.release)
	deadline := time.Now().Add(2 * time.Second)
	for !a.Resolver.IsAuthenticated(context.Background()) {
		if time.Now().After(deadline) {
			t.Fatal("sign-in did not complete")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShell_LogoutFollowsEndSession(t *testing.T) {
	p := &endSessionProvider{Provider: identitytest.New(), url: "https://login.example.com/logout?client_id=client-123"}
	s, _ := newShell(t, p)

	rec := do(t, s.Handler(), http.MethodPost, "/logout")
	if rec.Header().Get("Location") != p.url {
		t.Fatalf("Location = %q, want %q", rec.Header().Get("Location"), p.url)
	}
}

type endSessionProvider struct {
	*identitytest.Provider
	url string
}

func (p *endSessionProvider) Logout(ctx context.Context) error {
	if err := identity.OpenerFrom(ctx, nil)(ctx, p.url); err != nil {
		return err
	}
	return p.Provider.Logout(ctx)
}
