// Package resilience bounds and repeats operations that talk to the network.
//
// Two wrappers are provided:
//
//   - Retry repeats an operation with backoff while RetryIf accepts the error.
//     The API client uses it for transport failures of idempotent requests.
//
//   - Timeout bounds an operation. The identity provider uses it to cap how
//     long an interactive sign-in may wait for the browser redirect.
//
// Both take the operation as func(context.Context) error and honor the
// caller's context.
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts: 3,
//	    RetryIf:     resilience.RetryOn(apiclient.ErrConnection),
//	})
//	err := retry.Execute(ctx, func(ctx context.Context) error {
//	    return send(ctx)
//	})
package resilience
