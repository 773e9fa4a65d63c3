package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/jonwraymond/authgate/observe"
	"github.com/jonwraymond/authgate/resilience"
	"github.com/jonwraymond/authgate/session"
)

// OIDCConfig configures an OIDCProvider.
type OIDCConfig struct {
	// ClientID is the application's client ID (required).
	ClientID string

	// ClientSecret is sent on token requests when set. Public clients
	// leave it empty and rely on PKCE.
	ClientSecret string

	// Authority is the issuer URL used for discovery (required).
	Authority string

	// RedirectURI receives the authorization code.
	// Default: http://localhost:8400/callback
	RedirectURI string

	// PostLogoutRedirectURI is passed to the end-session endpoint.
	PostLogoutRedirectURI string

	// Store holds the session-scoped token cache (required).
	Store session.Store

	// Interactor runs the interactive flow.
	// Default: a LoopbackInteractor on RedirectURI.
	Interactor Interactor

	// Opener opens the end-session URL and, for the default interactor,
	// the authorization URL. A context opener takes precedence.
	Opener Opener

	// ReturnURL is linked from the loopback completion page.
	ReturnURL string

	// InteractiveTimeout bounds one interactive sign-in.
	// Default: 5 minutes
	InteractiveTimeout time.Duration

	// HTTPClient is used for discovery, JWKS and token requests.
	// Default: a client with a 30s timeout.
	HTTPClient *http.Client

	// Logger is the structured logger. Default: no-op.
	Logger observe.Logger
}

// OIDCProvider is a Provider speaking OpenID Connect: discovery, the
// authorization code flow with PKCE, and refresh grants.
type OIDCProvider struct {
	config     OIDCConfig
	cache      tokenCache
	interactor Interactor
	timeout    *resilience.Timeout
	logger     observe.Logger
	now        func() time.Time

	initMu     sync.Mutex
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	endSession string

	// cacheMu serializes read-modify-write cycles on the token cache.
	cacheMu sync.Mutex
}

// NewOIDCProvider validates config and returns an uninitialized provider.
func NewOIDCProvider(config OIDCConfig) (*OIDCProvider, error) {
	if config.ClientID == "" {
		return nil, fmt.Errorf("%w: client ID is required", ErrInvalidConfig)
	}
	if config.Authority == "" {
		return nil, fmt.Errorf("%w: authority is required", ErrInvalidConfig)
	}
	if config.Store == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrInvalidConfig)
	}
	if config.RedirectURI == "" {
		config.RedirectURI = "http://localhost:8400/callback"
	}
	if config.InteractiveTimeout <= 0 {
		config.InteractiveTimeout = 5 * time.Minute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := observe.OrNop(config.Logger).With(observe.F("component", "identity"))

	interactor := config.Interactor
	if interactor == nil {
		loopback, err := NewLoopbackInteractor(LoopbackConfig{
			RedirectURI: config.RedirectURI,
			ReturnURL:   config.ReturnURL,
			Opener:      config.Opener,
			Logger:      config.Logger,
		})
		if err != nil {
			return nil, err
		}
		interactor = loopback
	}

	return &OIDCProvider{
		config:     config,
		cache:      tokenCache{store: config.Store},
		interactor: interactor,
		timeout:    resilience.NewTimeout(resilience.TimeoutConfig{Timeout: config.InteractiveTimeout}),
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.config.HTTPClient)
}

// Initialize runs OIDC discovery. Idempotent; a failed discovery is retried
// on the next call.
func (p *OIDCProvider) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.oauth != nil {
		return nil
	}

	discovered, err := oidc.NewProvider(p.clientContext(ctx), p.config.Authority)
	if err != nil {
		return fmt.Errorf("identity: discovery: %w", err)
	}

	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := discovered.Claims(&meta); err != nil {
		return fmt.Errorf("identity: discovery metadata: %w", err)
	}

	p.verifier = discovered.Verifier(&oidc.Config{ClientID: p.config.ClientID, Now: p.now})
	p.endSession = meta.EndSessionEndpoint
	p.oauth = &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		Endpoint:     discovered.Endpoint(),
		RedirectURL:  p.config.RedirectURI,
	}

	p.logger.Debug(ctx, "identity provider discovered",
		observe.F("authority", p.config.Authority),
		observe.F("end_session", p.endSession != ""),
	)
	return nil
}

func (p *OIDCProvider) ready() (*oauth2.Config, error) {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.oauth == nil {
		return nil, ErrNotInitialized
	}
	return p.oauth, nil
}

// Accounts returns the cached account, if any.
func (p *OIDCProvider) Accounts(ctx context.Context) ([]Account, error) {
	if _, err := p.ready(); err != nil {
		return nil, err
	}
	rec, err := p.cache.load(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return []Account{}, nil
	}
	return []Account{rec.Account}, nil
}

// AcquireTokenSilent returns a cached token for the scope set or redeems
// the cached refresh token.
func (p *OIDCProvider) AcquireTokenSilent(ctx context.Context, req TokenRequest) (*Token, error) {
	conf, err := p.ready()
	if err != nil {
		return nil, err
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	rec, err := p.cache.load(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoAccount
	}
	if req.Account != nil && req.Account.HomeAccountID != rec.Account.HomeAccountID {
		return nil, ErrNoAccount
	}

	key := ScopeKey(req.Scopes)
	if cached, ok := rec.Tokens[key]; ok && cached.valid(p.now()) {
		return rec.token(cached), nil
	}

	if rec.RefreshToken == "" {
		return nil, &InteractionRequiredError{Code: "no_refresh_token"}
	}

	refreshed, err := p.refresh(ctx, conf, rec.RefreshToken, req.Scopes)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && IsInteractionCode(re.ErrorCode) {
			return nil, &InteractionRequiredError{Code: re.ErrorCode, Description: re.ErrorDescription}
		}
		return nil, fmt.Errorf("identity: refresh token: %w", err)
	}

	entry, _, err := p.entryFromToken(ctx, refreshed, req.Scopes, "")
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken != "" {
		rec.RefreshToken = refreshed.RefreshToken
	}
	if entry.IDToken != "" {
		rec.IDToken = entry.IDToken
	}
	rec.Tokens[key] = entry
	if err := p.cache.save(ctx, rec); err != nil {
		return nil, err
	}

	p.logger.Debug(ctx, "token refreshed", observe.F("scopes", key))
	return rec.token(entry), nil
}

// AcquireTokenInteractive signs the user in through the Interactor using
// the authorization code flow with PKCE.
func (p *OIDCProvider) AcquireTokenInteractive(ctx context.Context, req TokenRequest) (*Token, error) {
	conf, err := p.ready()
	if err != nil {
		return nil, err
	}

	authConf := *conf
	authConf.Scopes = normalizeScopes(append(slices.Clone(req.Scopes), oidc.ScopeOpenID, oidc.ScopeOfflineAccess))

	state := oauth2.GenerateVerifier()
	nonce := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	if req.Account != nil && req.Account.Username != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.Account.Username))
	}
	authURL := authConf.AuthCodeURL(state, opts...)

	var code string
	err = p.timeout.Execute(ctx, func(ctx context.Context) error {
		c, err := p.interactor.Authorize(ctx, authURL, state)
		if err != nil {
			return err
		}
		code = c
		return nil
	})
	switch {
	case errors.Is(err, resilience.ErrTimeout):
		return nil, fmt.Errorf("%w: no response within %s", ErrInteractionCancelled, p.config.InteractiveTimeout)
	case errors.Is(err, ErrInteractionCancelled), errors.Is(err, ErrInteractionFailed):
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %w", ErrInteractionCancelled, err)
	case err != nil:
		return nil, err
	}

	tok, err := authConf.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %w", ErrInteractionFailed, err)
	}

	entry, idToken, err := p.entryFromToken(ctx, tok, req.Scopes, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInteractionFailed, err)
	}
	if idToken == nil {
		return nil, fmt.Errorf("%w: token response without id_token", ErrInteractionFailed)
	}
	account, err := accountFromIDToken(idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInteractionFailed, err)
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	rec, err := p.cache.load(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Account.HomeAccountID != account.HomeAccountID {
		rec = &cacheRecord{Tokens: make(map[string]cachedToken)}
	}
	rec.Account = account
	rec.IDToken = entry.IDToken
	if tok.RefreshToken != "" {
		rec.RefreshToken = tok.RefreshToken
	}
	rec.Tokens[ScopeKey(req.Scopes)] = entry
	if err := p.cache.save(ctx, rec); err != nil {
		return nil, err
	}

	p.logger.Info(ctx, "user signed in", observe.F("account", account.Username))
	return entry.token(account), nil
}

// Logout opens the end-session endpoint, when the identity provider has
// one, and removes the cached account. The cache is removed even when
// opening the end-session URL fails.
func (p *OIDCProvider) Logout(ctx context.Context) error {
	if _, err := p.ready(); err != nil {
		return err
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	rec, loadErr := p.cache.load(ctx)

	var openErr error
	if p.endSession != "" {
		endURL, err := p.endSessionURL(rec)
		if err != nil {
			openErr = err
		} else if err := OpenerFrom(ctx, p.config.Opener)(ctx, endURL); err != nil {
			openErr = fmt.Errorf("identity: open end-session URL: %w", err)
		}
	}

	removeErr := p.cache.remove(ctx)
	if rec != nil {
		p.logger.Info(ctx, "user signed out", observe.F("account", rec.Account.Username))
	}
	return errors.Join(loadErr, openErr, removeErr)
}

func (p *OIDCProvider) endSessionURL(rec *cacheRecord) (string, error) {
	u, err := url.Parse(p.endSession)
	if err != nil {
		return "", fmt.Errorf("identity: end-session endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if rec != nil && rec.IDToken != "" {
		q.Set("id_token_hint", rec.IDToken)
	}
	if p.config.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", p.config.PostLogoutRedirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// entryFromToken converts a token response to a cache entry, verifying the
// ID token when one is present. nonce is checked when non-empty.
func (p *OIDCProvider) entryFromToken(ctx context.Context, tok *oauth2.Token, scopes []string, nonce string) (cachedToken, *oidc.IDToken, error) {
	entry := cachedToken{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
		Scopes:      normalizeScopes(scopes),
	}
	if entry.Expiry.IsZero() {
		entry.Expiry = peekExpiry(tok.AccessToken)
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return entry, nil, nil
	}
	idToken, err := p.verifier.Verify(p.clientContext(ctx), raw)
	if err != nil {
		return cachedToken{}, nil, fmt.Errorf("identity: verify id token: %w", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return cachedToken{}, nil, errors.New("identity: id token nonce mismatch")
	}
	entry.IDToken = raw
	return entry, idToken, nil
}

type idClaims struct {
	Subject           string `json:"sub"`
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

func accountFromIDToken(idToken *oidc.IDToken) (Account, error) {
	var c idClaims
	if err := idToken.Claims(&c); err != nil {
		return Account{}, fmt.Errorf("identity: id token claims: %w", err)
	}
	return accountFromClaims(c), nil
}

func accountFromClaims(c idClaims) Account {
	local := c.ObjectID
	if local == "" {
		local = c.Subject
	}
	home := local
	if c.TenantID != "" {
		home = local + "." + c.TenantID
	}
	username := c.PreferredUsername
	if username == "" {
		username = c.Email
	}
	return Account{
		HomeAccountID:  home,
		LocalAccountID: local,
		Name:           c.Name,
		Username:       username,
		TenantID:       c.TenantID,
	}
}

// peekExpiry reads exp from a JWT access token without verifying it. The
// token is opaque to this client; the zero time means unknown.
func peekExpiry(raw string) time.Time {
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (t cachedToken) token(account Account) *Token {
	return &Token{
		AccessToken: t.AccessToken,
		IDToken:     t.IDToken,
		Expiry:      t.Expiry,
		Scopes:      slices.Clone(t.Scopes),
		Account:     account,
	}
}

var _ Provider = (*OIDCProvider)(nil)
