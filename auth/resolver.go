package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/observe"
	"github.com/jonwraymond/authgate/session"
)

// DefaultLoginScopes are requested by Login and IDToken when
// ResolverConfig.LoginScopes is empty.
var DefaultLoginScopes = []string{"openid", "profile", "email"}

// UserInfo describes the signed-in user.
type UserInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	ID    string `json:"id"`
}

// AccountPolicy picks the active account from the cached ones.
type AccountPolicy func(accounts []identity.Account) (identity.Account, bool)

// SingleAccount treats the first cached account as the active one.
func SingleAccount(accounts []identity.Account) (identity.Account, bool) {
	if len(accounts) == 0 {
		return identity.Account{}, false
	}
	return accounts[0], true
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Handle owns the identity provider (required).
	Handle *identity.Handle

	// Store is the session store wiped by Logout (required).
	Store session.Store

	// LoginScopes are used by Login and IDToken.
	// Default: DefaultLoginScopes
	LoginScopes []string

	// APIScopes are used by AccessToken.
	APIScopes []string

	// Policy selects the active account.
	// Default: SingleAccount
	Policy AccountPolicy

	// Logger is the structured logger. Default: no-op.
	Logger observe.Logger

	// Middleware instruments token acquisition. Default: none.
	Middleware *observe.Middleware
}

// Resolver answers authentication-state queries.
//
// Contract:
//   - Concurrency: safe for concurrent use; concurrent AccessToken calls
//     share one acquisition.
//   - Errors: IsAuthenticated, AccessToken, IDToken and UserInfo report
//     failures as negative results and log them.
type Resolver struct {
	config ResolverConfig
	logger observe.Logger
	group  singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if config.Handle == nil {
		return nil, ErrNilHandle
	}
	if config.Store == nil {
		return nil, ErrNilStore
	}
	if len(config.LoginScopes) == 0 {
		config.LoginScopes = slices.Clone(DefaultLoginScopes)
	}
	if config.Policy == nil {
		config.Policy = SingleAccount
	}
	return &Resolver{
		config: config,
		logger: observe.OrNop(config.Logger).With(observe.F("component", "resolver")),
	}, nil
}

// active returns the provider and the active account.
func (r *Resolver) active(ctx context.Context) (identity.Provider, identity.Account, error) {
	p, err := r.config.Handle.Provider(ctx)
	if err != nil {
		return nil, identity.Account{}, err
	}
	accounts, err := p.Accounts(ctx)
	if err != nil {
		return nil, identity.Account{}, fmt.Errorf("auth: list accounts: %w", err)
	}
	acct, ok := r.config.Policy(accounts)
	if !ok {
		return p, identity.Account{}, identity.ErrNoAccount
	}
	return p, acct, nil
}

// IsAuthenticated reports whether an account is signed in. Any failure,
// provider initialization included, reports false.
func (r *Resolver) IsAuthenticated(ctx context.Context) bool {
	_, _, err := r.active(ctx)
	if err != nil && !errors.Is(err, identity.ErrNoAccount) {
		r.logger.Warn(ctx, "authentication check failed", observe.Err(err))
	}
	return err == nil
}

// UserInfo returns the active account's user, or nil when signed out.
func (r *Resolver) UserInfo(ctx context.Context) *UserInfo {
	_, acct, err := r.active(ctx)
	if err != nil {
		if !errors.Is(err, identity.ErrNoAccount) {
			r.logger.Warn(ctx, "user info lookup failed", observe.Err(err))
		}
		return nil
	}
	return userInfo(acct)
}

func userInfo(acct identity.Account) *UserInfo {
	return &UserInfo{Name: acct.Name, Email: acct.Username, ID: acct.LocalAccountID}
}

// AccessToken returns an access token for the API scopes. Silent
// acquisition is tried first; only identity.ErrInteractionRequired falls
// back to interactive sign-in. Returns ("", false) when signed out or on
// any failure.
//
// Concurrent callers share one acquisition. It runs detached from the
// caller that started it, so one caller giving up does not fail the others;
// each caller still returns early when its own ctx ends.
func (r *Resolver) AccessToken(ctx context.Context) (string, bool) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan("access_token", func() (any, error) {
		var token string
		err := r.config.Middleware.Run(shared, observe.Op{Component: "resolver", Name: "access_token"},
			func(ctx context.Context) error {
				var err error
				token, err = r.acquireAccessToken(ctx)
				return err
			})
		return token, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false
		}
		return res.Val.(string), true
	case <-ctx.Done():
		return "", false
	}
}

func (r *Resolver) acquireAccessToken(ctx context.Context) (string, error) {
	p, acct, err := r.active(ctx)
	if errors.Is(err, identity.ErrNoAccount) {
		r.logger.Debug(ctx, "no signed-in account")
		return "", err
	}
	if err != nil {
		r.logger.Error(ctx, "access token acquisition failed", observe.Err(err))
		return "", err
	}

	req := identity.TokenRequest{Scopes: r.config.APIScopes, Account: &acct}
	tok, err := p.AcquireTokenSilent(ctx, req)
	if errors.Is(err, identity.ErrInteractionRequired) {
		r.logger.Info(ctx, "silent acquisition needs interaction", observe.Err(err))
		tok, err = p.AcquireTokenInteractive(ctx, req)
		if errors.Is(err, identity.ErrInteractionCancelled) {
			r.logger.Info(ctx, "interactive acquisition cancelled", observe.Err(err))
			return "", err
		}
	}
	if err != nil {
		r.logger.Error(ctx, "access token acquisition failed", observe.Err(err))
		return "", err
	}
	if tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

// IDToken returns the ID token for the login scopes from silent
// acquisition only.
func (r *Resolver) IDToken(ctx context.Context) (string, bool) {
	p, acct, err := r.active(ctx)
	if err != nil {
		if !errors.Is(err, identity.ErrNoAccount) {
			r.logger.Error(ctx, "id token acquisition failed", observe.Err(err))
		}
		return "", false
	}
	tok, err := p.AcquireTokenSilent(ctx, identity.TokenRequest{Scopes: r.config.LoginScopes, Account: &acct})
	if err != nil {
		r.logger.Error(ctx, "id token acquisition failed", observe.Err(err))
		return "", false
	}
	return tok.IDToken, tok.IDToken != ""
}

// Login runs interactive sign-in with the login scopes.
func (r *Resolver) Login(ctx context.Context) (*UserInfo, error) {
	var info *UserInfo
	err := r.config.Middleware.Run(ctx, observe.Op{Component: "resolver", Name: "login"},
		func(ctx context.Context) error {
			p, err := r.config.Handle.Provider(ctx)
			if err != nil {
				return err
			}
			tok, err := p.AcquireTokenInteractive(ctx, identity.TokenRequest{Scopes: r.config.LoginScopes})
			if err != nil {
				return err
			}
			info = userInfo(tok.Account)
			return nil
		})
	if err != nil {
		r.logger.Warn(ctx, "sign-in failed", observe.Err(err))
		return nil, err
	}
	r.logger.Info(ctx, "signed in", observe.F("user", info.Email))
	return info, nil
}

// Logout signs out at the provider, then clears the whole session store,
// auth and non-auth data alike. The store is cleared even when sign-out
// fails; the sign-out error is logged and returned.
func (r *Resolver) Logout(ctx context.Context) error {
	var logoutErr error
	if p, err := r.config.Handle.Provider(ctx); err != nil {
		logoutErr = err
	} else {
		logoutErr = p.Logout(ctx)
	}
	if logoutErr != nil {
		r.logger.Error(ctx, "sign-out failed", observe.Err(logoutErr))
	}

	clearErr := r.config.Store.Clear(ctx)
	if clearErr != nil {
		r.logger.Error(ctx, "session clear failed", observe.Err(clearErr))
		clearErr = fmt.Errorf("auth: clear session: %w", clearErr)
	}
	return errors.Join(logoutErr, clearErr)
}
