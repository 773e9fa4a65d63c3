// Package identitytest provides a scriptable identity.Provider for tests.
package identitytest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/authgate/identity"
)

// DefaultAccount is signed in by a successful interactive acquisition when
// no account is cached.
var DefaultAccount = identity.Account{
	HomeAccountID:  "user-1.tenant-1",
	LocalAccountID: "user-1",
	Name:           "Ada Lovelace",
	Username:       "ada@example.com",
	TenantID:       "tenant-1",
}

// Provider is an in-memory identity.Provider. Set the exported fields
// before the provider is shared between goroutines.
type Provider struct {
	// InitErr is returned by Initialize.
	InitErr error
	// InitDelay delays Initialize, honoring ctx.
	InitDelay time.Duration
	// AccountsErr is returned by Accounts.
	AccountsErr error
	// SilentErr is returned by AcquireTokenSilent when an account is cached.
	SilentErr error
	// InteractiveErr is returned by AcquireTokenInteractive.
	InteractiveErr error
	// LogoutErr is returned by Logout after the account is forgotten.
	LogoutErr error

	// AccessToken and IDToken are the token values handed out.
	AccessToken string
	IDToken     string

	mu       sync.Mutex
	accounts []identity.Account
	calls    map[string]int
	requests []identity.TokenRequest
}

// New returns a signed-out provider issuing "access-token"/"id-token".
func New() *Provider {
	return &Provider{
		AccessToken: "access-token",
		IDToken:     "id-token",
		calls:       make(map[string]int),
	}
}

// SignIn caches acct as the signed-in account.
func (p *Provider) SignIn(acct identity.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = []identity.Account{acct}
}

// SignOut forgets every account.
func (p *Provider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = nil
}

// Calls returns how many times method was called.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Requests returns the token requests received, silent and interactive.
func (p *Provider) Requests() []identity.TokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

func (p *Provider) record(method string, req *identity.TokenRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	if req != nil {
		p.requests = append(p.requests, *req)
	}
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.record("Initialize", nil)
	if p.InitDelay > 0 {
		timer := time.NewTimer(p.InitDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.InitErr
}

func (p *Provider) Accounts(context.Context) ([]identity.Account, error) {
	p.record("Accounts", nil)
	if p.AccountsErr != nil {
		return nil, p.AccountsErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.accounts), nil
}

func (p *Provider) AcquireTokenSilent(_ context.Context, req identity.TokenRequest) (*identity.Token, error) {
	p.record("AcquireTokenSilent", &req)
	p.mu.Lock()
	signedIn := len(p.accounts) > 0
	p.mu.Unlock()
	if !signedIn {
		return nil, identity.ErrNoAccount
	}
	if p.SilentErr != nil {
		return nil, p.SilentErr
	}
	return p.token(req), nil
}

func (p *Provider) AcquireTokenInteractive(_ context.Context, req identity.TokenRequest) (*identity.Token, error) {
	p.record("AcquireTokenInteractive", &req)
	if p.InteractiveErr != nil {
		return nil, p.InteractiveErr
	}
	p.mu.Lock()
	if len(p.accounts) == 0 {
		p.accounts = []identity.Account{DefaultAccount}
	}
	p.mu.Unlock()
	return p.token(req), nil
}

func (p *Provider) Logout(context.Context) error {
	p.record("Logout", nil)
	p.SignOut()
	return p.LogoutErr
}

func (p *Provider) token(req identity.TokenRequest) *identity.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok := &identity.Token{
		AccessToken: p.AccessToken,
		IDToken:     p.IDToken,
		Expiry:      time.Now().Add(time.Hour),
		Scopes:      slices.Clone(req.Scopes),
	}
	if len(p.accounts) > 0 {
		tok.Account = p.accounts[0]
	}
	return tok
}

var _ identity.Provider = (*Provider)(nil)
