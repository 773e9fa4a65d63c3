package identity

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Account is a signed-in user known to the provider's cache.
type Account struct {
	HomeAccountID  string `json:"home_account_id"`
	LocalAccountID string `json:"local_account_id"`
	Name           string `json:"name,omitempty"`
	Username       string `json:"username,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
}

// Token is the result of a token acquisition.
type Token struct {
	AccessToken string
	IDToken     string
	Expiry      time.Time // zero: unknown, valid until rejected
	Scopes      []string
	Account     Account
}

// TokenRequest selects the scopes and, optionally, the account to use.
type TokenRequest struct {
	Scopes []string

	// Account pins silent acquisition to one account. Interactive
	// acquisition uses it as a login hint.
	Account *Account
}

// Provider is an identity provider client.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: every method honors cancellation.
//   - Errors: methods other than Initialize return ErrNotInitialized
//     before a successful Initialize.
//   - AcquireTokenSilent never prompts the user; it returns
//     ErrInteractionRequired when a prompt is needed and ErrNoAccount when
//     no account is cached.
//   - AcquireTokenInteractive returns ErrInteractionCancelled when the user
//     dismisses the flow.
type Provider interface {
	// Initialize prepares the provider. Idempotent.
	Initialize(ctx context.Context) error

	// Accounts lists the cached accounts. Empty when signed out.
	Accounts(ctx context.Context) ([]Account, error)

	AcquireTokenSilent(ctx context.Context, req TokenRequest) (*Token, error)
	AcquireTokenInteractive(ctx context.Context, req TokenRequest) (*Token, error)

	// Logout signs the user out at the identity provider and forgets the
	// cached account.
	Logout(ctx context.Context) error
}

// ScopeKey normalizes a scope set: trimmed, deduplicated, sorted and
// space-joined.
func ScopeKey(scopes []string) string {
	return strings.Join(normalizeScopes(scopes), " ")
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
