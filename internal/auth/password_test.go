package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

type userMap map[string]core.User

func (m userMap) GetUser(_ context.Context, username string) (core.User, error) {
	u, ok := m[username]
	if !ok {
		return core.User{}, fmt.Errorf("user %q: %w", username, core.ErrNotFound)
	}
	return u, nil
}

type brokenLookup struct{}

func (brokenLookup) GetUser(context.Context, string) (core.User, error) {
	return core.User{}, errors.New("database is locked")
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := HashPassword(pw)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return h
}

func TestHashAndVerifyPassword(t *testing.T) {
	h := mustHash(t, "correct horse")
	if h == "correct horse" {
		t.Fatal("hash must not equal plaintext")
	}
	if !VerifyPassword(h, "correct horse") {
		t.Error("expected password to verify")
	}
	if VerifyPassword(h, "wrong horse") {
		t.Error("wrong password verified")
	}
	if VerifyPassword("not-a-hash", "correct horse") {
		t.Error("garbage hash verified")
	}

	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin(core.User{Role: "admin"}) {
		t.Error("admin user should be admin")
	}
	if IsAdmin(core.User{Role: "operator"}) || IsAdmin(core.User{Role: "root"}) {
		t.Error("non-admin roles should not be admin")
	}
}

func TestBasicAuthenticator(t *testing.T) {
	users := userMap{
		"dana": {Username: "dana", PasswordHash: mustHash(t, "hunter2hunter2"), Role: "operator"},
		"lee":  {Username: "lee", PasswordHash: mustHash(t, "viewer-pass"), Role: "mystery"},
	}
	b := NewBasicAuthenticator(users, nil)

	tests := []struct {
		name     string
		user     string
		pass     string
		noHeader bool
		wantRole Role
		wantErr  error
	}{
		{name: "no header", noHeader: true},
		{name: "valid operator", user: "dana", pass: "hunter2hunter2", wantRole: RoleOperator},
		{name: "unknown role falls back to viewer", user: "lee", pass: "viewer-pass", wantRole: RoleViewer},
		{name: "wrong password", user: "dana", pass: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown user", user: "ghost", pass: "whatever1", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/tickets", nil)
			if !tt.noHeader {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			id, err := b.Authenticate(req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.noHeader || tt.wantErr != nil {
				if id != nil {
					t.Fatalf("expected no identity, got %+v", id)
				}
				return
			}
			if id == nil || id.Role != tt.wantRole || id.Name != tt.user || id.AuthType != "basic" {
				t.Fatalf("unexpected identity %+v", id)
			}
		})
	}
}

func TestBasicAuthenticator_LookupFailure(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("dana", "hunter2hunter2")
	if _, err := NewBasicAuthenticator(brokenLookup{}, nil).Authenticate(req); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestNewUser(t *testing.T) {
	u, err := NewUser("  ops ", "correct horse", "Operator")
	if err != nil {
		t.Fatalf("NewUser() error = %v", err)
	}
	if u.Username != "ops" || u.Role != "operator" {
		t.Errorf("unexpected user %+v", u)
	}
	if !VerifyPassword(u.PasswordHash, "correct horse") {
		t.Error("hash does not verify")
	}

	if u, err := NewUser("viewer1", "long enough", ""); err != nil || u.Role != "viewer" {
		t.Errorf("blank role: got %+v, %v", u, err)
	}

	for _, tc := range []struct{ name, pass, role string }{
		{"", "long enough", "viewer"},
		{"x", "long enough", "root"},
		{"x", "long enough", "none"},
	} {
		if _, err := NewUser(tc.name, tc.pass, tc.role); !errors.Is(err, ErrInvalidUser) {
			t.Errorf("NewUser(%q, _, %q) = %v, want ErrInvalidUser", tc.name, tc.role, err)
		}
	}
	if _, err := NewUser("x", "short", "viewer"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password: got %v", err)
	}
}
