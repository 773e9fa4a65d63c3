package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/authgate/health"
	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/identity/identitytest"
	"github.com/jonwraymond/authgate/session"
)

func TestProviderChecker(t *testing.T) {
	t.Run("initializes lazily", func(t *testing.T) {
		fake := identitytest.New()
		h := identity.NewStaticHandle(fake)

		r := health.NewProviderChecker(h).Check(context.Background())
		if r.Status != health.StatusHealthy {
			t.Fatalf("Check() = %+v", r)
		}
		if !h.Initialized() {
			t.Fatal("expected handle initialized")
		}

		_ = health.NewProviderChecker(h).Check(context.Background())
		if got := fake.Calls("Initialize"); got != 1 {
			t.Fatalf("Initialize calls = %d, want 1", got)
		}
	})

	t.Run("initialization failure", func(t *testing.T) {
		discovery := errors.New("discovery failed")
		fake := identitytest.New()
		fake.InitErr = discovery

		r := health.NewProviderChecker(identity.NewStaticHandle(fake)).Check(context.Background())
		if r.Status != health.StatusUnhealthy || !errors.Is(r.Error, discovery) {
			t.Fatalf("Check() = %+v", r)
		}
	})

	t.Run("nil handle", func(t *testing.T) {
		r := health.NewProviderChecker(nil).Check(context.Background())
		if r.Status != health.StatusUnhealthy {
			t.Fatalf("Check() = %+v", r)
		}
	})
}

type pingStore struct {
	*session.MemoryStore
	err   error
	delay time.Duration
}

func (s pingStore) Ping(context.Context) error {
	time.Sleep(s.delay)
	return s.err
}

func TestStoreChecker(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name  string
		store session.Store
		want  health.Status
	}{
		{name: "memory", store: session.NewMemoryStore(0), want: health.StatusHealthy},
		{name: "reachable", store: pingStore{MemoryStore: session.NewMemoryStore(0)}, want: health.StatusHealthy},
		{name: "slow", store: pingStore{MemoryStore: session.NewMemoryStore(0), delay: health.SlowPing + 50*time.Millisecond}, want: health.StatusDegraded},
		{name: "unreachable", store: pingStore{MemoryStore: session.NewMemoryStore(0), err: down}, want: health.StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := health.NewStoreChecker(tt.store)
			if c.Name() != "session" {
				t.Fatalf("Name() = %q", c.Name())
			}
			if got := c.Check(context.Background()).Status; got != tt.want {
				t.Fatalf("Check().Status = %v, want %v", got, tt.want)
			}
		})
	}
}
