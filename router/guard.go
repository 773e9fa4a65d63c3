package router

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jonwraymond/authgate/observe"
)

// Checker reports whether a user is signed in.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: failures report false; IsAuthenticated must not panic.
type Checker interface {
	IsAuthenticated(ctx context.Context) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) bool

// IsAuthenticated calls f(ctx).
func (f CheckerFunc) IsAuthenticated(ctx context.Context) bool { return f(ctx) }

// Intent is a requested transition.
type Intent struct {
	To   string
	From string
}

// Decision is the guard's answer to an Intent. Redirect is empty when the
// transition is allowed.
type Decision struct {
	Redirect      string
	Authenticated bool
}

// Allowed reports whether the transition may proceed.
func (d Decision) Allowed() bool { return d.Redirect == "" }

// Guard decides navigation intents.
type Guard struct {
	table   *Table
	checker Checker
	logger  observe.Logger
}

// NewGuard creates a guard over table consulting checker.
func NewGuard(table *Table, checker Checker, logger observe.Logger) *Guard {
	return &Guard{
		table:   table,
		checker: checker,
		logger:  observe.OrNop(logger).With(observe.F("component", "guard")),
	}
}

// Check decides intent. Alias routes redirect without an authentication
// check; unknown routes return ErrNotFound.
func (g *Guard) Check(ctx context.Context, intent Intent) (Decision, error) {
	route, ok := g.table.Lookup(intent.To)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrNotFound, intent.To)
	}
	if route.Redirect != "" {
		return Decision{Redirect: route.Redirect}, nil
	}

	authenticated := g.checker.IsAuthenticated(ctx)
	g.logger.Debug(ctx, "route guard check",
		observe.F("to", intent.To),
		observe.F("from", intent.From),
		observe.F("authenticated", authenticated),
	)

	switch {
	case route.RequiresAuth && !authenticated:
		return Decision{Redirect: LoginPath, Authenticated: false}, nil
	case route.Path == LoginPath && authenticated:
		return Decision{Redirect: DashboardPath, Authenticated: true}, nil
	default:
		return Decision{Authenticated: authenticated}, nil
	}
}

// Middleware applies the guard to HTTP requests. Redirects answer 302
// Found; unknown paths answer 404. The request's Referer path is used as
// the intent's origin.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec, err := g.Check(r.Context(), Intent{To: r.URL.Path, From: refererPath(r)})
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if !dec.Allowed() {
			http.Redirect(w, r, dec.Redirect, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func refererPath(r *http.Request) string {
	ref := r.Referer()
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		return ""
	}
	return u.Path
}
