// Package auth resolves the application's authentication state.
//
// Resolver answers the questions the rest of the application asks about
// the signed-in user (is anyone signed in, what is their access token,
// who are they) by consulting the identity.Provider behind an
// identity.Handle. Token acquisition tries the silent path first and
// falls back to interactive sign-in only when the provider reports
// identity.ErrInteractionRequired.
//
// Resolver methods never panic and, apart from Login and Logout, never
// return errors: failures are logged and reported as "not authenticated"
// or "no token".
package auth
