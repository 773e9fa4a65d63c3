package secret

import (
	"errors"
	"slices"
	"testing"
)

func TestRegistry_RegisterAndCreate(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("stub", func(map[string]any) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p, err := reg.Create("stub", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Name() != "stub" {
		t.Fatalf("Name() = %q", p.Name())
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	factory := func(map[string]any) (Provider, error) { return &stubProvider{name: "stub"}, nil }

	if err := reg.Register(" ", factory); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("blank name: err = %v", err)
	}
	if err := reg.Register("stub", nil); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("nil factory: err = %v", err)
	}
	if err := reg.Register("stub", factory); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("stub", factory); !errors.Is(err, ErrDuplicateProvider) {
		t.Fatalf("duplicate: err = %v", err)
	}
	if _, err := reg.Create("missing", nil); !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("missing: err = %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()
	factory := func(map[string]any) (Provider, error) { return &stubProvider{}, nil }
	_ = reg.Register("zeta", factory)
	_ = reg.Register("alpha", factory)

	if got := reg.List(); !slices.Equal(got, []string{"alpha", "zeta"}) {
		t.Fatalf("List() = %v", got)
	}
}

func TestDefaultRegistry_HasFileProvider(t *testing.T) {
	if !slices.Contains(DefaultRegistry.List(), FileProviderName) {
		t.Fatalf("DefaultRegistry.List() = %v, want %q", DefaultRegistry.List(), FileProviderName)
	}
	p, err := DefaultRegistry.Create(FileProviderName, map[string]any{"dir": t.TempDir()})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Name() != FileProviderName {
		t.Fatalf("Name() = %q", p.Name())
	}
}
