package auth

import "errors"

// Sentinel errors for resolver construction and sign-in.
var (
	ErrNilHandle = errors.New("auth: identity handle is nil")
	ErrNilStore  = errors.New("auth: session store is nil")
	ErrNoToken   = errors.New("auth: no token available")
)
