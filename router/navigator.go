package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonwraymond/authgate/observe"
)

// NavigatorConfig configures a Navigator.
type NavigatorConfig struct {
	// MaxRedirects caps the redirects followed by one navigation.
	// Default: 5
	MaxRedirects int

	// Start is the initial current path. Default: "" (no page yet).
	Start string

	// Middleware instruments each navigation. Default: none.
	Middleware *observe.Middleware
}

// Navigation records the outcome of one Navigate call.
type Navigation struct {
	From      string
	To        string
	Final     string
	Redirects []string
}

// Navigator performs guarded in-process navigations.
//
// Contract:
//   - Concurrency: navigations are serialized; a navigation is not
//     evaluated until the previous one has resolved.
//   - Context: cancellation aborts the navigation; the current path is
//     unchanged.
//   - Errors: ErrNotFound for unknown paths, ErrRedirectLoop when the
//     redirect limit is exceeded.
type Navigator struct {
	guard  *Guard
	config NavigatorConfig

	mu      sync.Mutex
	current string
}

// NewNavigator creates a navigator using guard.
func NewNavigator(guard *Guard, config NavigatorConfig) *Navigator {
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = 5
	}
	return &Navigator{guard: guard, config: config, current: config.Start}
}

// Current returns the path of the last completed navigation.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Navigate moves to path, following guard redirects. Each redirect
// re-enters the guard.
func (n *Navigator) Navigate(ctx context.Context, path string) (Navigation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	nav := Navigation{From: n.current, To: path}
	op := observe.Op{Component: "router", Name: "navigate"}
	err := n.config.Middleware.Run(ctx, op, func(ctx context.Context) error {
		target := path
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			dec, err := n.guard.Check(ctx, Intent{To: target, From: nav.From})
			if err != nil {
				return err
			}
			if dec.Allowed() {
				nav.Final = target
				return nil
			}
			if len(nav.Redirects) == n.config.MaxRedirects {
				return fmt.Errorf("%w: %s after %v", ErrRedirectLoop, path, nav.Redirects)
			}
			nav.Redirects = append(nav.Redirects, dec.Redirect)
			target = dec.Redirect
		}
	})
	if err != nil {
		return nav, err
	}

	n.current = nav.Final
	return nav, nil
}
