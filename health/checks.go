package health

import (
	"context"
	"time"

	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/session"
)

// NewProviderChecker reports whether the identity provider behind h can be
// initialized. The first check triggers lazy initialization.
func NewProviderChecker(h *identity.Handle) Checker {
	return CheckFunc("identity", func(ctx context.Context) Result {
		if h == nil {
			return Unhealthy("no identity provider", identity.ErrNotInitialized)
		}
		if h.Initialized() {
			return Healthy("initialized")
		}
		if _, err := h.Provider(ctx); err != nil {
			return Unhealthy("initialization failed", err)
		}
		return Healthy("initialized")
	})
}

// SlowPing is the store round trip above which the session check degrades.
const SlowPing = 200 * time.Millisecond

// NewStoreChecker pings stores implementing session.Pinger. Other stores are
// in-process and always healthy.
func NewStoreChecker(store session.Store) Checker {
	return CheckFunc("session", func(ctx context.Context) Result {
		p, ok := store.(session.Pinger)
		if !ok {
			return Healthy("in-process store")
		}
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			return Unhealthy("ping failed", err)
		}
		if rtt := time.Since(start); rtt > SlowPing {
			return Degraded("slow ping: " + rtt.Round(time.Millisecond).String())
		}
		return Healthy("reachable")
	})
}
