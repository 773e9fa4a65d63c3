package router

import "errors"

// Sentinel errors for routing.
var (
	ErrNotFound       = errors.New("router: route not found")
	ErrRedirectLoop   = errors.New("router: too many redirects")
	ErrDuplicateRoute = errors.New("router: duplicate route")
	ErrInvalidRoute   = errors.New("router: invalid route")
)
