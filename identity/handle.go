package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Factory constructs an uninitialized Provider.
type Factory func() (Provider, error)

// HandleConfig configures a Handle.
type HandleConfig struct {
	// InitTimeout bounds one initialization attempt. It runs detached from
	// the first caller's context so that one caller giving up does not fail
	// the others.
	// Default: 30 seconds
	InitTimeout time.Duration
}

// Handle owns the application's single Provider and initializes it on
// first use.
//
// Contract:
//   - Concurrency: concurrent first callers share one in-flight
//     initialization; at most one Provider is ever kept.
//   - Context: waiters return ctx.Err() when their context ends first.
//   - Errors: a failed initialization is not memoized; the next call retries.
type Handle struct {
	factory Factory
	config  HandleConfig

	mu       sync.RWMutex
	provider Provider
	group    singleflight.Group
}

// NewHandle creates a Handle that builds its provider with factory.
func NewHandle(factory Factory, config HandleConfig) *Handle {
	if config.InitTimeout <= 0 {
		config.InitTimeout = 30 * time.Second
	}
	return &Handle{factory: factory, config: config}
}

// NewStaticHandle wraps an already constructed provider. It is still
// initialized on first use.
func NewStaticHandle(p Provider) *Handle {
	return NewHandle(func() (Provider, error) { return p, nil }, HandleConfig{})
}

// Provider returns the initialized provider.
func (h *Handle) Provider(ctx context.Context) (Provider, error) {
	if p := h.loaded(); p != nil {
		return p, nil
	}

	ch := h.group.DoChan("init", func() (any, error) {
		if p := h.loaded(); p != nil {
			return p, nil
		}
		if h.factory == nil {
			return nil, fmt.Errorf("%w: nil provider factory", ErrInvalidConfig)
		}

		p, err := h.factory()
		if err != nil {
			return nil, fmt.Errorf("identity: build provider: %w", err)
		}

		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.InitTimeout)
		defer cancel()
		if err := p.Initialize(initCtx); err != nil {
			return nil, fmt.Errorf("identity: initialize provider: %w", err)
		}

		h.mu.Lock()
		h.provider = p
		h.mu.Unlock()
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Provider), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Initialized reports whether a provider has been initialized.
func (h *Handle) Initialized() bool {
	return h.loaded() != nil
}

func (h *Handle) loaded() Provider {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.provider
}
