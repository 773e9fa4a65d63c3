// Package router gates the application's routes behind the
// authentication state.
//
// A Table holds the fixed route metadata. A Guard decides each navigation
// intent against a Checker: a route that requires authentication sends
// signed-out users to the login route, and signed-in users asking for the
// login route are sent to the dashboard. A Navigator applies the guard to
// in-process navigations, one at a time, following the redirects it
// produces up to a hop limit. Guard.Middleware applies the same decision
// to HTTP requests.
package router
