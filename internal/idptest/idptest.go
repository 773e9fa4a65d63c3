// Package idptest runs an in-process OpenID Connect identity provider for
// tests. It serves discovery, JWKS, an authorization endpoint that signs
// the configured user in without a prompt, a token endpoint for the
// authorization_code (with PKCE S256) and refresh_token grants, and an
// end-session endpoint.
package idptest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "idptest-1"

// User is the identity the server signs in.
type User struct {
	Subject  string
	Name     string
	Email    string
	TenantID string
}

// Server is a fake identity provider.
type Server struct {
	*httptest.Server

	ClientID  string
	AccessTTL time.Duration

	key *rsa.PrivateKey

	mu            sync.Mutex
	user          User
	deny          bool
	refreshError  string
	refreshNoID   bool
	codes         map[string]authCode
	refreshTokens map[string]string // token -> scope
	grants        map[string]int
	refreshScopes []string
	endSessions   []url.Values
}

type authCode struct {
	challenge   string
	nonce       string
	scope       string
	redirectURI string
}

// NewServer starts a server for clientID. Close it when done.
func NewServer(clientID string, user User) *Server {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("idptest: generate key: " + err.Error())
	}

	s := &Server{
		ClientID:      clientID,
		AccessTTL:     time.Hour,
		key:           key,
		user:          user,
		codes:         make(map[string]authCode),
		refreshTokens: make(map[string]string),
		grants:        make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", s.discovery)
	mux.HandleFunc("GET /keys", s.jwks)
	mux.HandleFunc("GET /authorize", s.authorize)
	mux.HandleFunc("POST /token", s.token)
	mux.HandleFunc("GET /logout", s.logout)
	s.Server = httptest.NewServer(mux)
	return s
}

// Issuer returns the issuer URL to use as authority.
func (s *Server) Issuer() string { return s.URL }

// SetUser changes who the next authorization signs in.
func (s *Server) SetUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// Deny makes the authorization endpoint answer error=access_denied.
func (s *Server) Deny(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deny = deny
}

// FailRefresh makes refresh grants fail with the OAuth2 error code.
// An empty code restores normal behavior.
func (s *Server) FailRefresh(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshError = code
}

// OmitRefreshIDToken makes refresh grant responses leave out id_token.
func (s *Server) OmitRefreshIDToken(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshNoID = omit
}

// Grants returns how many token requests of grantType succeeded.
func (s *Server) Grants(grantType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[grantType]
}

// RefreshScopes returns the scope parameter of every refresh grant, in
// order. A grant without the parameter records "".
func (s *Server) RefreshScopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refreshScopes...)
}

// EndSessions returns the query of every end-session request.
func (s *Server) EndSessions() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.endSessions...)
}

// Browser returns an opener that follows the URL like a browser would,
// with redirects, ignoring the final status.
func (s *Server) Browser() func(ctx context.Context, rawURL string) error {
	return func(ctx context.Context, rawURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

func (s *Server) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"jwks_uri":                              s.URL + "/keys",
		"end_session_endpoint":                  s.URL + "/logout",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

// jwk is the JSON Web Key form of the signing key.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (s *Server) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := s.key.PublicKey
	writeJSON(w, http.StatusOK, map[string][]jwk{"keys": {{
		Kty: "RSA",
		Kid: keyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" || q.Get("client_id") != s.ClientID {
		http.Error(w, "invalid client or redirect_uri", http.StatusBadRequest)
		return
	}

	back := url.Values{"state": {q.Get("state")}}

	s.mu.Lock()
	switch {
	case s.deny:
		back.Set("error", "access_denied")
		back.Set("error_description", "the user declined")
	case q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "":
		back.Set("error", "invalid_request")
		back.Set("error_description", "PKCE S256 required")
	default:
		code := randomString()
		s.codes[code] = authCode{
			challenge:   q.Get("code_challenge"),
			nonce:       q.Get("nonce"),
			scope:       q.Get("scope"),
			redirectURI: redirectURI,
		}
		back.Set("code", code)
	}
	s.mu.Unlock()

	target.RawQuery = back.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", err.Error())
		return
	}
	clientID := r.PostForm.Get("client_id")
	if user, _, ok := r.BasicAuth(); ok {
		clientID, _ = url.QueryUnescape(user)
	}
	if clientID != s.ClientID {
		tokenError(w, "invalid_client", "unknown client")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grant := r.PostForm.Get("grant_type")
	switch grant {
	case "authorization_code":
		code, ok := s.codes[r.PostForm.Get("code")]
		delete(s.codes, r.PostForm.Get("code"))
		if !ok || code.redirectURI != r.PostForm.Get("redirect_uri") {
			tokenError(w, "invalid_grant", "unknown code")
			return
		}
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != code.challenge {
			tokenError(w, "invalid_grant", "PKCE verification failed")
			return
		}
		s.grants[grant]++
		s.issue(w, code.scope, code.nonce, true)

	case "refresh_token":
		if s.refreshError != "" {
			tokenError(w, s.refreshError, "refresh rejected")
			return
		}
		scope, ok := s.refreshTokens[r.PostForm.Get("refresh_token")]
		if !ok {
			tokenError(w, "invalid_grant", "unknown refresh token")
			return
		}
		requested := r.PostForm.Get("scope")
		s.refreshScopes = append(s.refreshScopes, requested)
		if requested != "" {
			scope = requested
		}
		s.grants[grant]++
		s.issue(w, scope, "", !s.refreshNoID)

	default:
		tokenError(w, "unsupported_grant_type", grant)
	}
}

// issue writes a token response. Caller holds s.mu.
func (s *Server) issue(w http.ResponseWriter, scope, nonce string, withIDToken bool) {
	now := time.Now()
	exp := now.Add(s.AccessTTL)

	access, err := s.sign(jwt.MapClaims{
		"iss": s.URL,
		"sub": s.user.Subject,
		"aud": s.ClientID,
		"scp": scope,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"jti": randomString(),
	})
	if err != nil {
		tokenError(w, "server_error", err.Error())
		return
	}

	idClaims := jwt.MapClaims{
		"iss":                s.URL,
		"sub":                s.user.Subject,
		"aud":                s.ClientID,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"name":               s.user.Name,
		"email":              s.user.Email,
		"preferred_username": s.user.Email,
	}
	if s.user.TenantID != "" {
		idClaims["tid"] = s.user.TenantID
	}
	if nonce != "" {
		idClaims["nonce"] = nonce
	}
	id, err := s.sign(idClaims)
	if err != nil {
		tokenError(w, "server_error", err.Error())
		return
	}

	refresh := randomString()
	s.refreshTokens[refresh] = scope

	resp := map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"expires_in":    int(s.AccessTTL.Seconds()),
		"refresh_token": refresh,
		"scope":         scope,
	}
	if withIDToken {
		resp["id_token"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sign(claims jwt.MapClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = keyID
	return tok.SignedString(s.key)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.endSessions = append(s.endSessions, r.URL.Query())
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("signed out"))
}

func tokenError(w http.ResponseWriter, code, desc string) {
	status := http.StatusBadRequest
	if code == "invalid_client" {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomString() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return strings.TrimRight(base64.RawURLEncoding.EncodeToString(b), "=")
}
