package identity_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/internal/idptest"
	"github.com/jonwraymond/authgate/session"
)

const (
	testClientID = "authgate-test"
	apiScope     = "api://authgate/access_as_user"
)

var testUser = idptest.User{
	Subject:  "user-42",
	Name:     "Grace Hopper",
	Email:    "grace@example.com",
	TenantID: "tenant-7",
}

func redirectURI(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return "http://" + addr + "/callback"
}

type fixture struct {
	idp      *idptest.Server
	store    *session.MemoryStore
	provider *identity.OIDCProvider
}

func newFixture(t *testing.T, mutate func(*identity.OIDCConfig), setup func(*idptest.Server)) *fixture {
	t.Helper()
	idp := idptest.NewServer(testClientID, testUser)
	t.Cleanup(idp.Close)
	if setup != nil {
		setup(idp)
	}

	store := session.NewMemoryStore(0)
	cfg := identity.OIDCConfig{
		ClientID:              testClientID,
		Authority:             idp.Issuer(),
		RedirectURI:           redirectURI(t),
		PostLogoutRedirectURI: "http://localhost:5173/login",
		Store:                 store,
		Opener:                idp.Browser(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := identity.NewOIDCProvider(cfg)
	if err != nil {
		t.Fatalf("NewOIDCProvider() error = %v", err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return &fixture{idp: idp, store: store, provider: p}
}

func (f *fixture) signIn(t *testing.T) *identity.Token {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tok, err := f.provider.AcquireTokenInteractive(ctx, identity.TokenRequest{Scopes: []string{apiScope}})
	if err != nil {
		t.Fatalf("AcquireTokenInteractive() error = %v", err)
	}
	return tok
}

func TestOIDCProvider_InteractiveThenSilentCacheHit(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	accounts, err := f.provider.Accounts(ctx)
	if err != nil || len(accounts) != 0 {
		t.Fatalf("Accounts() before sign-in = %v, %v", accounts, err)
	}

	tok := f.signIn(t)
	if tok.AccessToken == "" || tok.IDToken == "" {
		t.Fatalf("token = %+v, want access and id tokens", tok)
	}
	want := identity.Account{
		HomeAccountID:  "user-42.tenant-7",
		LocalAccountID: "user-42",
		Name:           "Grace Hopper",
		Username:       "grace@example.com",
		TenantID:       "tenant-7",
	}
	if tok.Account != want {
		t.Errorf("Account = %+v, want %+v", tok.Account, want)
	}

	accounts, err = f.provider.Accounts(ctx)
	if err != nil || len(accounts) != 1 || accounts[0] != want {
		t.Fatalf("Accounts() = %v, %v", accounts, err)
	}

	silent, err := f.provider.AcquireTokenSilent(ctx, identity.TokenRequest{Scopes: []string{apiScope}, Account: &accounts[0]})
	if err != nil {
		t.Fatalf("AcquireTokenSilent() error = %v", err)
	}
	if silent.AccessToken != tok.AccessToken {
		t.Error("silent acquisition did not return the cached token")
	}
	if n := f.idp.Grants("refresh_token"); n != 0 {
		t.Errorf("refresh grants = %d, want 0", n)
	}
	if _, err := f.store.Get(ctx, identity.CacheKey); err != nil {
		t.Errorf("token cache not stored in session: %v", err)
	}
}

func TestOIDCProvider_SilentRefresh(t *testing.T) {
	// Tokens inside the expiry skew are refreshed on the next silent call.
	f := newFixture(t, nil, func(idp *idptest.Server) { idp.AccessTTL = 10 * time.Second })
	first := f.signIn(t)

	tok, err := f.provider.AcquireTokenSilent(context.Background(), identity.TokenRequest{Scopes: []string{apiScope}})
	if err != nil {
		t.Fatalf("AcquireTokenSilent() error = %v", err)
	}
	if tok.AccessToken == first.AccessToken {
		t.Error("expected a refreshed access token")
	}
	if n := f.idp.Grants("refresh_token"); n != 1 {
		t.Errorf("refresh grants = %d, want 1", n)
	}
}

func TestOIDCProvider_SilentNewScopeSetUsesRefreshGrant(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	// Sign in for the login scopes, then ask for the API.
	if _, err := f.provider.AcquireTokenInteractive(ctx, identity.TokenRequest{Scopes: []string{"profile", "email"}}); err != nil {
		t.Fatalf("AcquireTokenInteractive() error = %v", err)
	}

	tok, err := f.provider.AcquireTokenSilent(ctx, identity.TokenRequest{Scopes: []string{apiScope}})
	if err != nil {
		t.Fatalf("AcquireTokenSilent() error = %v", err)
	}
	if n := f.idp.Grants("refresh_token"); n != 1 {
		t.Errorf("refresh grants = %d, want 1", n)
	}

	wantScope := apiScope + " offline_access openid"
	if got := f.idp.RefreshScopes(); len(got) != 1 || got[0] != wantScope {
		t.Fatalf("refresh grant scope = %q, want [%q]", got, wantScope)
	}
	if got := accessTokenScope(t, tok.AccessToken); got != wantScope {
		t.Errorf("access token scp = %q, want %q", got, wantScope)
	}

	// The API token is now cached under its own scope set.
	again, err := f.provider.AcquireTokenSilent(ctx, identity.TokenRequest{Scopes: []string{apiScope}})
	if err != nil || again.AccessToken != tok.AccessToken {
		t.Fatalf("second AcquireTokenSilent() = %v, %v; want cached API token", again, err)
	}
	if n := f.idp.Grants("refresh_token"); n != 1 {
		t.Errorf("refresh grants after cache hit = %d, want 1", n)
	}
}

func TestOIDCProvider_RefreshWithoutIDTokenKeepsSignInIDToken(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := f.signIn(t)
	f.idp.OmitRefreshIDToken(true)

	tok, err := f.provider.AcquireTokenSilent(context.Background(), identity.TokenRequest{Scopes: []string{"profile"}})
	if err != nil {
		t.Fatalf("AcquireTokenSilent() error = %v", err)
	}
	if f.idp.Grants("refresh_token") != 1 {
		t.Fatal("expected a refresh grant")
	}
	if tok.IDToken == "" || tok.IDToken != first.IDToken {
		t.Errorf("IDToken = %q, want the sign-in id token", tok.IDToken)
	}
}

func TestOIDCProvider_RefreshWithClientSecret(t *testing.T) {
	f := newFixture(t, func(c *identity.OIDCConfig) { c.ClientSecret = "s3cret" }, func(idp *idptest.Server) { idp.AccessTTL = time.Second })
	f.signIn(t)

	if _, err := f.provider.AcquireTokenSilent(context.Background(), identity.TokenRequest{Scopes: []string{apiScope}}); err != nil {
		t.Fatalf("AcquireTokenSilent() error = %v", err)
	}
	if n := f.idp.Grants("refresh_token"); n != 1 {
		t.Errorf("refresh grants = %d, want 1", n)
	}
}

func accessTokenScope(t *testing.T, raw string) string {
	t.Helper()
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	scp, _ := claims["scp"].(string)
	return scp
}

func TestOIDCProvider_SilentRefreshErrors(t *testing.T) {
	tests := []struct {
		code            string
		wantInteraction bool
	}{
		{"invalid_grant", true},
		{"interaction_required", true},
		{"consent_required", true},
		{"temporarily_unavailable", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := newFixture(t, nil, func(idp *idptest.Server) { idp.AccessTTL = time.Second })
			f.signIn(t)
			f.idp.FailRefresh(tt.code)

			_, err := f.provider.AcquireTokenSilent(context.Background(), identity.TokenRequest{Scopes: []string{apiScope}})
			if err == nil {
				t.Fatal("AcquireTokenSilent() error = nil")
			}
			if got := errors.Is(err, identity.ErrInteractionRequired); got != tt.wantInteraction {
				t.Fatalf("errors.Is(ErrInteractionRequired) = %v, want %v (err = %v)", got, tt.wantInteraction, err)
			}
			if tt.wantInteraction {
				var ire *identity.InteractionRequiredError
				if !errors.As(err, &ire) || ire.Code != tt.code {
					t.Errorf("InteractionRequiredError code = %v, want %q", ire, tt.code)
				}
			}
		})
	}
}

func TestOIDCProvider_SilentWithoutAccount(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.provider.AcquireTokenSilent(context.Background(), identity.TokenRequest{Scopes: []string{apiScope}})
	if !errors.Is(err, identity.ErrNoAccount) {
		t.Fatalf("AcquireTokenSilent() error = %v, want ErrNoAccount", err)
	}
}

func TestOIDCProvider_NotInitialized(t *testing.T) {
	p, err := identity.NewOIDCProvider(identity.OIDCConfig{
		ClientID:    testClientID,
		Authority:   "http://127.0.0.1:1",
		RedirectURI: redirectURI(t),
		Store:       session.NewMemoryStore(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Accounts(context.Background()); !errors.Is(err, identity.ErrNotInitialized) {
		t.Errorf("Accounts() error = %v, want ErrNotInitialized", err)
	}
	if err := p.Logout(context.Background()); !errors.Is(err, identity.ErrNotInitialized) {
		t.Errorf("Logout() error = %v, want ErrNotInitialized", err)
	}
}

func TestNewOIDCProvider_InvalidConfig(t *testing.T) {
	store := session.NewMemoryStore(0)
	tests := []struct {
		name string
		cfg  identity.OIDCConfig
	}{
		{"missing client id", identity.OIDCConfig{Authority: "https://idp", Store: store}},
		{"missing authority", identity.OIDCConfig{ClientID: "c", Store: store}},
		{"missing store", identity.OIDCConfig{ClientID: "c", Authority: "https://idp"}},
		{"non-loopback redirect", identity.OIDCConfig{ClientID: "c", Authority: "https://idp", Store: store, RedirectURI: "https://app/cb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := identity.NewOIDCProvider(tt.cfg); !errors.Is(err, identity.ErrInvalidConfig) {
				t.Errorf("NewOIDCProvider() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestOIDCProvider_InteractiveDenied(t *testing.T) {
	f := newFixture(t, nil, func(idp *idptest.Server) { idp.Deny(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := f.provider.AcquireTokenInteractive(ctx, identity.TokenRequest{Scopes: []string{apiScope}})
	if !errors.Is(err, identity.ErrInteractionCancelled) {
		t.Fatalf("AcquireTokenInteractive() error = %v, want ErrInteractionCancelled", err)
	}
}

func TestOIDCProvider_InteractiveTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *identity.OIDCConfig) {
		cfg.InteractiveTimeout = 50 * time.Millisecond
		cfg.Opener = func(context.Context, string) error { return nil }
	}, nil)

	_, err := f.provider.AcquireTokenInteractive(context.Background(), identity.TokenRequest{Scopes: []string{apiScope}})
	if !errors.Is(err, identity.ErrInteractionCancelled) {
		t.Fatalf("AcquireTokenInteractive() error = %v, want ErrInteractionCancelled", err)
	}
}

func TestOIDCProvider_Logout(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.signIn(t)
	ctx := context.Background()

	if err := f.provider.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	sessions := f.idp.EndSessions()
	if len(sessions) != 1 {
		t.Fatalf("end-session requests = %d, want 1", len(sessions))
	}
	q := sessions[0]
	if q.Get("client_id") != testClientID || q.Get("id_token_hint") == "" {
		t.Errorf("end-session query = %v", q)
	}
	if q.Get("post_logout_redirect_uri") != "http://localhost:5173/login" {
		t.Errorf("post_logout_redirect_uri = %q", q.Get("post_logout_redirect_uri"))
	}

	accounts, err := f.provider.Accounts(ctx)
	if err != nil || len(accounts) != 0 {
		t.Errorf("Accounts() after Logout = %v, %v", accounts, err)
	}
	if _, err := f.store.Get(ctx, identity.CacheKey); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("cache still present: %v", err)
	}
}

func TestOIDCProvider_LogoutOpenerFailureStillForgetsAccount(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.signIn(t)

	ctx := identity.WithOpener(context.Background(), func(context.Context, string) error {
		return errors.New("no browser")
	})
	if err := f.provider.Logout(ctx); err == nil {
		t.Fatal("Logout() error = nil, want opener failure")
	}
	accounts, _ := f.provider.Accounts(context.Background())
	if len(accounts) != 0 {
		t.Errorf("Accounts() after failed Logout = %v", accounts)
	}
}

func TestOIDCProvider_ThroughHandle(t *testing.T) {
	idp := idptest.NewServer(testClientID, testUser)
	defer idp.Close()

	h := identity.NewHandle(func() (identity.Provider, error) {
		return identity.NewOIDCProvider(identity.OIDCConfig{
			ClientID:    testClientID,
			Authority:   idp.Issuer(),
			RedirectURI: redirectURI(t),
			Store:       session.NewMemoryStore(0),
		})
	}, identity.HandleConfig{})

	p, err := h.Provider(context.Background())
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	if _, ok := p.(*identity.OIDCProvider); !ok {
		t.Errorf("provider type = %T", p)
	}
}
