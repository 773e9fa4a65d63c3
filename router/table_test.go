package router

import (
	"errors"
	"testing"
)

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name   string
		routes []Route
		want   error
	}{
		{"valid", []Route{{Path: "/"}, {Path: "/a", Redirect: "/"}}, nil},
		{"relative path", []Route{{Path: "a"}}, ErrInvalidRoute},
		{"duplicate", []Route{{Path: "/a"}, {Path: "/a"}}, ErrDuplicateRoute},
		{"dangling redirect", []Route{{Path: "/", Redirect: "/gone"}}, ErrInvalidRoute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.routes...); !errors.Is(err, tt.want) {
				t.Errorf("NewTable() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()

	routes := table.Routes()
	if len(routes) != 3 {
		t.Fatalf("routes = %d, want 3", len(routes))
	}

	root, _ := table.Lookup(RootPath)
	if root.Redirect != LoginPath {
		t.Errorf("/ redirect = %q, want %q", root.Redirect, LoginPath)
	}
	login, _ := table.Lookup(LoginPath)
	if login.RequiresAuth {
		t.Error("/login requires auth")
	}
	dash, _ := table.Lookup(DashboardPath)
	if !dash.RequiresAuth {
		t.Error("/dashboard does not require auth")
	}
}
