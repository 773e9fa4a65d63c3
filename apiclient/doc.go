// Package apiclient calls the backend API with the signed-in user's
// access token.
//
// Requests pass through an explicit middleware chain around the HTTP
// dispatch:
//
//	Instrument -> StatusNotices -> RequestID -> BearerToken -> Retry -> dispatch
//
// BearerToken attaches "Authorization: Bearer <token>" when the
// TokenSource has a token and sends the request without it otherwise.
// StatusNotices turns non-2xx responses into a *StatusError and transport
// failures into ErrConnection, notifying the user in every case. A 401
// response matches ErrNeedsReauth; the client itself never navigates.
package apiclient
