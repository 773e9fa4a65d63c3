package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/authgate/notify"
	"github.com/jonwraymond/authgate/observe"
	"github.com/jonwraymond/authgate/resilience"
)

// Config configures a Client.
type Config struct {
	// BaseURL prefixes every request path (required).
	BaseURL string

	// Timeout bounds each attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// HTTPClient sends the requests. Its Timeout is overridden by Timeout.
	// Default: a new http.Client.
	HTTPClient *http.Client

	// Tokens supplies the bearer token. Optional.
	Tokens TokenSource

	// Notifier receives user-visible failure notices. Default: none.
	Notifier notify.Notifier

	// MaxAttempts for idempotent requests failing with ErrConnection.
	// Default: 1 (no retry)
	MaxAttempts int

	// Headers are added to every request.
	Headers http.Header

	// Middleware instruments each request. Default: none.
	Middleware *observe.Middleware

	// Logger is the structured logger. Default: no-op.
	Logger observe.Logger
}

// Client is the API client.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: requests honor ctx cancellation.
//   - Errors: non-2xx responses return *StatusError, transport failures
//     wrap ErrConnection; both are reported to the Notifier first.
type Client struct {
	base    *url.URL
	http    *http.Client
	headers http.Header
	do      Doer
	logger  observe.Logger
}

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base URL: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	hc := &http.Client{}
	if config.HTTPClient != nil {
		copied := *config.HTTPClient
		hc = &copied
	}
	hc.Timeout = config.Timeout

	c := &Client{
		base:    base,
		http:    hc,
		headers: config.Headers.Clone(),
		logger:  observe.OrNop(config.Logger).With(observe.F("component", "apiclient")),
	}

	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: config.MaxAttempts,
		Backoff:     resilience.WithJitter(resilience.DefaultBackoff),
		RetryIf:     resilience.RetryOn(ErrConnection),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Warn(context.Background(), "retrying request",
				observe.F("attempt", attempt), observe.F("delay_ms", delay.Milliseconds()), observe.Err(err))
		},
	})

	c.do = Chain(c.dispatch,
		Instrument(config.Middleware),
		StatusNotices(config.Notifier),
		RequestID(),
		BearerToken(config.Tokens),
		Retry(retry),
	)
	return c, nil
}

// dispatch sends the request, tagging transport failures.
func (c *Client) dispatch(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return resp, nil
}

// Do sends req through the middleware chain. On success the caller must
// close the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, vs := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = vs
		}
	}
	return c.do(req)
}

// URL resolves path against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// NewRequest builds a JSON request for path. A non-nil body is
// JSON-encoded.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), rdr)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Send issues a request and decodes a JSON response into out when out is
// non-nil and the response has a body.
func (c *Client) Send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.NewRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// Get requests path with query parameters.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.Send(ctx, http.MethodGet, path, params, nil, out)
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Send(ctx, http.MethodPost, path, nil, body, out)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Send(ctx, http.MethodPut, path, nil, body, out)
}

// Patch sends body as JSON.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Send(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Send(ctx, http.MethodDelete, path, nil, nil, out)
}
