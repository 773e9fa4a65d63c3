package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func freeRedirectURI(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return "http://" + addr + "/callback"
}

// callbackOpener simulates the identity provider redirecting the browser
// back to the redirect URI with the given query.
func callbackOpener(redirectURI string, query url.Values) Opener {
	return func(ctx context.Context, _ string) error {
		go func() {
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, redirectURI+"?"+query.Encode(), nil)
			if resp, err := http.DefaultClient.Do(req); err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	}
}

func TestLoopbackInteractor_Authorize(t *testing.T) {
	tests := []struct {
		name     string
		query    url.Values
		wantCode string
		wantErr  error
	}{
		{
			name:     "code",
			query:    url.Values{"code": {"abc"}, "state": {"s1"}},
			wantCode: "abc",
		},
		{
			name:    "state mismatch",
			query:   url.Values{"code": {"abc"}, "state": {"other"}},
			wantErr: ErrInteractionFailed,
		},
		{
			name:    "user declined",
			query:   url.Values{"error": {"access_denied"}, "state": {"s1"}},
			wantErr: ErrInteractionCancelled,
		},
		{
			name:    "provider error",
			query:   url.Values{"error": {"server_error"}, "state": {"s1"}},
			wantErr: ErrInteractionFailed,
		},
		{
			name:    "missing code",
			query:   url.Values{"state": {"s1"}},
			wantErr: ErrInteractionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			redirect := freeRedirectURI(t)
			li, err := NewLoopbackInteractor(LoopbackConfig{
				RedirectURI: redirect,
				Opener:      callbackOpener(redirect, tt.query),
			})
			if err != nil {
				t.Fatalf("NewLoopbackInteractor() error = %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			code, err := li.Authorize(ctx, "https://idp.example/authorize", "s1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authorize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestLoopbackInteractor_ContextOpenerWins(t *testing.T) {
	redirect := freeRedirectURI(t)
	li, err := NewLoopbackInteractor(LoopbackConfig{
		RedirectURI: redirect,
		Opener: func(context.Context, string) error {
			return errors.New("config opener must not be used")
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var opened string
	ctx := WithOpener(context.Background(), func(ctx context.Context, u string) error {
		opened = u
		return callbackOpener(redirect, url.Values{"code": {"c"}, "state": {"st"}})(ctx, u)
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := li.Authorize(ctx, "https://idp.example/authorize?x=1", "st"); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if opened != "https://idp.example/authorize?x=1" {
		t.Errorf("opened %q", opened)
	}
}

func TestLoopbackInteractor_Cancelled(t *testing.T) {
	li, err := NewLoopbackInteractor(LoopbackConfig{
		RedirectURI: freeRedirectURI(t),
		Opener:      func(context.Context, string) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := li.Authorize(ctx, "https://idp.example/authorize", "s"); !errors.Is(err, ErrInteractionCancelled) {
		t.Fatalf("Authorize() error = %v, want ErrInteractionCancelled", err)
	}
}

func TestLoopbackInteractor_OpenerFailure(t *testing.T) {
	li, err := NewLoopbackInteractor(LoopbackConfig{
		RedirectURI: freeRedirectURI(t),
		Opener:      func(context.Context, string) error { return errors.New("no browser") },
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := li.Authorize(context.Background(), "https://idp.example/authorize", "s"); !errors.Is(err, ErrInteractionFailed) {
		t.Fatalf("Authorize() error = %v, want ErrInteractionFailed", err)
	}
}

func TestNewLoopbackInteractor_InvalidRedirect(t *testing.T) {
	for _, uri := range []string{"", "https://example.com/cb", "::not a url"} {
		if _, err := NewLoopbackInteractor(LoopbackConfig{RedirectURI: uri}); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("NewLoopbackInteractor(%q) error = %v, want ErrInvalidConfig", uri, err)
		}
	}
}

func TestWriterOpener(t *testing.T) {
	var b strings.Builder
	if err := WriterOpener(&b)(context.Background(), "https://idp.example/a"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "https://idp.example/a") {
		t.Errorf("output %q does not contain URL", b.String())
	}
}
