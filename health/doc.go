// Package health exposes liveness and readiness for the authgate shell.
//
// Readiness aggregates Checkers: the identity provider handle (discovery
// reachable) and the session store (Redis reachable, degraded when slow).
// Liveness only reports that the process serves HTTP.
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.NewProviderChecker(handle))
//	agg.Register(health.NewStoreChecker(store))
//	r.Get("/readyz", health.ReadinessHandler(agg))
package health
