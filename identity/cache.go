package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/authgate/session"
)

// CacheKey is the session key holding the token cache.
const CacheKey = "authgate.identity.cache"

// expirySkew treats tokens this close to expiry as expired.
const expirySkew = 30 * time.Second

type cacheRecord struct {
	Account      Account                `json:"account"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	IDToken      string                 `json:"id_token,omitempty"`
	Tokens       map[string]cachedToken `json:"tokens,omitempty"`
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	IDToken     string    `json:"id_token,omitempty"`
	Expiry      time.Time `json:"expiry,omitzero"`
	Scopes      []string  `json:"scopes"`
}

// token returns t for the record's account. Refresh responses may omit
// id_token; the one from sign-in stands in.
func (r *cacheRecord) token(t cachedToken) *Token {
	tok := t.token(r.Account)
	if tok.IDToken == "" {
		tok.IDToken = r.IDToken
	}
	return tok
}

func (t cachedToken) valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Add(expirySkew).Before(t.Expiry)
}

// tokenCache persists one cacheRecord in a session store.
type tokenCache struct {
	store session.Store
}

// load returns the record, or nil when the session holds none.
func (c tokenCache) load(ctx context.Context) (*cacheRecord, error) {
	data, err := c.store.Get(ctx, CacheKey)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read token cache: %w", err)
	}

	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("identity: decode token cache: %w", err)
	}
	if rec.Account.HomeAccountID == "" {
		return nil, nil
	}
	if rec.Tokens == nil {
		rec.Tokens = make(map[string]cachedToken)
	}
	return &rec, nil
}

func (c tokenCache) save(ctx context.Context, rec *cacheRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("identity: encode token cache: %w", err)
	}
	if err := c.store.Set(ctx, CacheKey, data); err != nil {
		return fmt.Errorf("identity: write token cache: %w", err)
	}
	return nil
}

func (c tokenCache) remove(ctx context.Context) error {
	if err := c.store.Delete(ctx, CacheKey); err != nil {
		return fmt.Errorf("identity: remove token cache: %w", err)
	}
	return nil
}
