// Package identity acquires OAuth2/OIDC tokens for a single signed-in user.
//
// A Provider caches one account per session and issues tokens for it, first
// silently (cache hit or refresh grant) and, when the identity provider
// demands it, interactively. OIDCProvider implements Provider with
// golang.org/x/oauth2 and github.com/coreos/go-oidc/v3; its interactive
// flow runs through an Interactor, by default a LoopbackInteractor that
// receives the authorization code on a local redirect URI.
//
// Handle owns the one Provider instance of an application and initializes
// it lazily, exactly once.
//
// # Errors
//
// Silent acquisition reports ErrInteractionRequired (as an
// *InteractionRequiredError carrying the identity provider's error code)
// when only the user can unblock it. Callers recover from it by calling
// AcquireTokenInteractive. ErrInteractionCancelled and ErrInteractionFailed
// end an interactive attempt.
package identity
