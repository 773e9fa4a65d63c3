package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// maxTokenResponse bounds the token endpoint body we are willing to read.
const maxTokenResponse = 1 << 20

// refresh redeems refreshToken for a token scoped to scopes. The scope
// parameter is always sent; without it the provider answers with a token
// for the scopes of the original sign-in.
//
// Failures the token endpoint reports come back as *oauth2.RetrieveError.
func (p *OIDCProvider) refresh(ctx context.Context, conf *oauth2.Config, refreshToken string, scopes []string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {ScopeKey(append(slices.Clone(scopes), oidc.ScopeOpenID, oidc.ScopeOfflineAccess))},
	}
	if conf.ClientSecret == "" {
		form.Set("client_id", conf.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if conf.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(conf.ClientID), url.QueryEscape(conf.ClientSecret))
	}

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &oauth2.RetrieveError{Response: resp, Body: body}
		var e struct {
			Code        string `json:"error"`
			Description string `json:"error_description"`
			URI         string `json:"error_uri"`
		}
		if json.Unmarshal(body, &e) == nil {
			rerr.ErrorCode, rerr.ErrorDescription, rerr.ErrorURI = e.Code, e.Description, e.URI
		}
		return nil, rerr
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	var tj struct {
		AccessToken  string      `json:"access_token"`
		TokenType    string      `json:"token_type"`
		RefreshToken string      `json:"refresh_token"`
		ExpiresIn    json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tj); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tj.AccessToken == "" {
		return nil, &oauth2.RetrieveError{Response: resp, Body: body, ErrorDescription: "server response missing access_token"}
	}

	tok := &oauth2.Token{
		AccessToken:  tj.AccessToken,
		TokenType:    tj.TokenType,
		RefreshToken: tj.RefreshToken,
	}
	if secs, err := tj.ExpiresIn.Int64(); err == nil && secs > 0 {
		tok.Expiry = p.now().Add(time.Duration(secs) * time.Second)
	}
	return tok.WithExtra(raw), nil
}
