package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jonwraymond/authgate/notify"
	"github.com/jonwraymond/authgate/observe"
	"github.com/jonwraymond/authgate/resilience"
)

// Doer sends one request.
type Doer func(req *http.Request) (*http.Response, error)

// Middleware wraps a Doer.
type Middleware func(next Doer) Doer

// Chain composes middleware around d. The first middleware is outermost.
func Chain(d Doer, mws ...Middleware) Doer {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			d = mws[i](d)
		}
	}
	return d
}

// TokenSource supplies the access token. ok is false when there is none.
type TokenSource interface {
	AccessToken(ctx context.Context) (token string, ok bool)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, bool)

// AccessToken calls f(ctx).
func (f TokenSourceFunc) AccessToken(ctx context.Context) (string, bool) { return f(ctx) }

// BearerToken fetches a token before dispatch and attaches it as a bearer
// Authorization header. Without a token the request is sent unchanged.
func BearerToken(ts TokenSource) Middleware {
	return func(next Doer) Doer {
		return func(req *http.Request) (*http.Response, error) {
			if ts == nil {
				return next(req)
			}
			token, ok := ts.AccessToken(req.Context())
			if !ok || token == "" {
				return next(req)
			}
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+token)
			return next(req)
		}
	}
}

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// RequestID sets a random X-Request-ID unless the request has one.
func RequestID() Middleware {
	return func(next Doer) Doer {
		return func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(RequestIDHeader) != "" {
				return next(req)
			}
			req = req.Clone(req.Context())
			req.Header.Set(RequestIDHeader, uuid.NewString())
			return next(req)
		}
	}
}

// User-visible notices for failed requests.
var (
	NoticeSessionExpired = notify.Notice{Level: notify.LevelError, Code: "session_expired", Message: "Your session has expired. Please sign in again."}
	NoticeForbidden      = notify.Notice{Level: notify.LevelError, Code: "forbidden", Message: "You do not have permission to access this resource."}
	NoticeNotFound       = notify.Notice{Level: notify.LevelError, Code: "not_found", Message: "The requested resource does not exist."}
	NoticeServerError    = notify.Notice{Level: notify.LevelError, Code: "server_error", Message: "Server error. Please try again later."}
	NoticeConnection     = notify.Notice{Level: notify.LevelError, Code: "connection_error", Message: "Network error. Please check your connection."}
)

// NoticeFor returns the notice shown for a failed request.
func NoticeFor(err error) notify.Notice {
	var serr *StatusError
	if !errors.As(err, &serr) {
		return NoticeConnection
	}
	switch serr.Outcome {
	case OutcomeNeedsReauth:
		return NoticeSessionExpired
	case OutcomeForbidden:
		return NoticeForbidden
	case OutcomeNotFound:
		return NoticeNotFound
	case OutcomeServerError:
		return NoticeServerError
	default:
		return notify.Notice{Level: notify.LevelError, Code: "request_failed", Message: "Request failed: " + serr.Message}
	}
}

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 64 << 10

// StatusNotices converts non-2xx responses into *StatusError, tags
// transport failures with ErrConnection and notifies the user of both.
// Failures caused by the caller's own cancellation are not reported.
// The error is always returned to the caller.
func StatusNotices(n notify.Notifier) Middleware {
	if n == nil {
		n = notify.Nop()
	}
	return func(next Doer) Doer {
		return func(req *http.Request) (*http.Response, error) {
			resp, err := next(req)
			if err != nil {
				if !errors.Is(err, ErrConnection) {
					err = fmt.Errorf("%w: %w", ErrConnection, err)
				}
				if req.Context().Err() != nil {
					return nil, err
				}
				n.Notify(req.Context(), NoticeFor(err))
				return nil, err
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			_ = resp.Body.Close()
			serr := newStatusError(resp.StatusCode, body)
			n.Notify(req.Context(), NoticeFor(serr))
			return nil, serr
		}
	}
}

// idempotent methods may be resent after a transport failure.
var idempotent = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
}

// Retry resends idempotent requests that failed with ErrConnection.
// Requests with a body are retried only when it can be replayed.
func Retry(r *resilience.Retry) Middleware {
	return func(next Doer) Doer {
		if r == nil || r.Attempts() <= 1 {
			return next
		}
		return func(req *http.Request) (*http.Response, error) {
			if !idempotent[req.Method] || (req.Body != nil && req.Body != http.NoBody && req.GetBody == nil) {
				return next(req)
			}

			var resp *http.Response
			attempt := 0
			err := r.Execute(req.Context(), func(ctx context.Context) error {
				attempt++
				out := req
				if attempt > 1 {
					out = req.Clone(ctx)
					if req.GetBody != nil {
						body, err := req.GetBody()
						if err != nil {
							return err
						}
						out.Body = body
					}
				}
				var err error
				resp, err = next(out)
				return err
			})
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
	}
}

// Instrument wraps each request in an observe operation named after the
// HTTP method.
func Instrument(mw *observe.Middleware) Middleware {
	return func(next Doer) Doer {
		if mw == nil {
			return next
		}
		return func(req *http.Request) (*http.Response, error) {
			op := observe.Op{
				Component: "apiclient",
				Name:      req.Method,
				Attrs: []attribute.KeyValue{
					semconv.HTTPRequestMethodKey.String(req.Method),
					semconv.URLPath(req.URL.Path),
				},
			}
			var resp *http.Response
			err := mw.Run(req.Context(), op, func(ctx context.Context) error {
				var err error
				resp, err = next(req.WithContext(ctx))
				return err
			})
			return resp, err
		}
	}
}
