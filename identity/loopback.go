package identity

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jonwraymond/authgate/observe"
)

// Interactor carries the user through the authorization endpoint and
// returns the authorization code delivered to the redirect URI.
type Interactor interface {
	Authorize(ctx context.Context, authURL, state string) (code string, err error)
}

// LoopbackConfig configures a LoopbackInteractor.
type LoopbackConfig struct {
	// RedirectURI is the registered http redirect URI. Its host:port is
	// listened on and its path receives the callback.
	RedirectURI string

	// ReturnURL is linked from the completion page. Optional.
	ReturnURL string

	// Opener directs the user to the authorization URL. A context opener
	// set with WithOpener takes precedence.
	Opener Opener

	// Logger receives callback diagnostics. Default: no-op.
	Logger observe.Logger
}

// LoopbackInteractor receives the authorization response on a local HTTP
// listener that lives only for the duration of one Authorize call.
type LoopbackInteractor struct {
	config LoopbackConfig
	addr   string
	path   string
	logger observe.Logger
}

// NewLoopbackInteractor validates the redirect URI and returns an interactor.
func NewLoopbackInteractor(config LoopbackConfig) (*LoopbackInteractor, error) {
	u, err := url.Parse(config.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: redirect URI: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return nil, fmt.Errorf("%w: redirect URI must be an http loopback URL, got %q", ErrInvalidConfig, config.RedirectURI)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &LoopbackInteractor{
		config: config,
		addr:   u.Host,
		path:   path,
		logger: observe.OrNop(config.Logger).With(observe.F("component", "loopback")),
	}, nil
}

type callbackResult struct {
	code string
	err  error
}

// Authorize listens on the redirect address, opens authURL and waits for
// the callback. A callback whose state differs from state fails the
// interaction; error=access_denied cancels it.
func (l *LoopbackInteractor) Authorize(ctx context.Context, authURL, state string) (string, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", l.addr)
	if err != nil {
		return "", fmt.Errorf("%w: listen on %s: %v", ErrInteractionFailed, l.addr, err)
	}

	results := make(chan callbackResult, 1)
	var once sync.Once
	deliver := func(r callbackResult) {
		once.Do(func() { results <- r })
	}

	mux := http.NewServeMux()
	mux.HandleFunc(l.path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if !q.Has("code") && !q.Has("error") && !q.Has("state") {
			http.NotFound(w, r)
			return
		}
		res := parseCallback(q, state)
		if res.err != nil {
			l.logger.Warn(r.Context(), "sign-in callback rejected", observe.Err(res.err))
		}
		l.renderCompletion(w, res.err)
		deliver(res)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(callbackResult{err: fmt.Errorf("%w: callback server: %v", ErrInteractionFailed, err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	open := OpenerFrom(ctx, l.config.Opener)
	if err := open(ctx, authURL); err != nil {
		return "", fmt.Errorf("%w: open authorization URL: %v", ErrInteractionFailed, err)
	}

	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrInteractionCancelled, ctx.Err())
	}
}

func parseCallback(q url.Values, state string) callbackResult {
	if code := q.Get("error"); code != "" {
		desc := q.Get("error_description")
		if code == "access_denied" {
			return callbackResult{err: fmt.Errorf("%w: %s", ErrInteractionCancelled, desc)}
		}
		return callbackResult{err: fmt.Errorf("%w: %s: %s", ErrInteractionFailed, code, desc)}
	}
	if q.Get("state") != state {
		return callbackResult{err: fmt.Errorf("%w: state mismatch", ErrInteractionFailed)}
	}
	code := q.Get("code")
	if code == "" {
		return callbackResult{err: fmt.Errorf("%w: callback without code", ErrInteractionFailed)}
	}
	return callbackResult{code: code}
}

var completionPage = template.Must(template.New("completion").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>authgate</title></head>
<body>
{{if .Failed}}<p>Sign-in did not complete.</p>{{else}}<p>Signed in. You can close this window.</p>{{end}}
{{with .ReturnURL}}<p><a href="{{.}}">Continue</a></p>{{end}}
</body></html>
`))

func (l *LoopbackInteractor) renderCompletion(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = completionPage.Execute(w, struct {
		Failed    bool
		ReturnURL string
	}{err != nil, l.config.ReturnURL})
}

var _ Interactor = (*LoopbackInteractor)(nil)
