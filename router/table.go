package router

import (
	"fmt"
	"strings"
)

// Well-known paths.
const (
	RootPath      = "/"
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// Route is the metadata of one path.
type Route struct {
	Path         string
	Name         string
	RequiresAuth bool

	// Redirect makes the route an alias: navigating to it goes to Redirect
	// without consulting the authentication state.
	Redirect string
}

// Table is an immutable set of routes.
type Table struct {
	routes map[string]Route
	order  []string
}

// NewTable validates routes and builds a table. Paths must start with "/"
// and be unique; redirect targets must be routes of the table.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidRoute, r.Path)
		}
		if _, dup := t.routes[r.Path]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, r.Path)
		}
		t.routes[r.Path] = r
		t.order = append(t.order, r.Path)
	}
	for _, r := range routes {
		if r.Redirect == "" {
			continue
		}
		if _, ok := t.routes[r.Redirect]; !ok {
			return nil, fmt.Errorf("%w: %s redirects to unknown route %s", ErrInvalidRoute, r.Path, r.Redirect)
		}
	}
	return t, nil
}

// DefaultTable returns the application's routes: / redirects to /login,
// /login is public, /dashboard requires authentication.
func DefaultTable() *Table {
	t, err := NewTable(
		Route{Path: RootPath, Redirect: LoginPath},
		Route{Path: LoginPath, Name: "Login"},
		Route{Path: DashboardPath, Name: "Dashboard", RequiresAuth: true},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the route for path.
func (t *Table) Lookup(path string) (Route, bool) {
	r, ok := t.routes[path]
	return r, ok
}

// Routes returns the routes in declaration order.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.order))
	for _, p := range t.order {
		out = append(out, t.routes[p])
	}
	return out
}
