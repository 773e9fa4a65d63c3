package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors for token acquisition.
var (
	ErrNoAccount            = errors.New("identity: no signed-in account")
	ErrInteractionRequired  = errors.New("identity: user interaction required")
	ErrInteractionCancelled = errors.New("identity: interaction cancelled")
	ErrInteractionFailed    = errors.New("identity: interaction failed")
	ErrNotInitialized       = errors.New("identity: provider not initialized")
	ErrInvalidConfig        = errors.New("identity: invalid configuration")
)

// InteractionRequiredError reports that silent acquisition cannot succeed
// without the user. Code is the identity provider's error code, or
// "no_refresh_token" when the cache holds nothing to redeem.
type InteractionRequiredError struct {
	Code        string
	Description string
}

func (e *InteractionRequiredError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("identity: user interaction required (%s): %s", e.Code, e.Description)
	}
	return fmt.Sprintf("identity: user interaction required (%s)", e.Code)
}

// Is matches ErrInteractionRequired.
func (e *InteractionRequiredError) Is(target error) bool {
	return target == ErrInteractionRequired
}

// interactionCodes are the OAuth2 error codes that only a new interactive
// sign-in can resolve.
var interactionCodes = map[string]bool{
	"invalid_grant":        true,
	"interaction_required": true,
	"login_required":       true,
	"consent_required":     true,
}

// IsInteractionCode reports whether an OAuth2 error code calls for
// interactive sign-in.
func IsInteractionCode(code string) bool {
	return interactionCodes[code]
}
