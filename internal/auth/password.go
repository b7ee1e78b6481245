package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
)

// MinPasswordLength is enforced by HashPassword.
const MinPasswordLength = 8

// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// ErrInvalidUser is returned by NewUser for a blank name or unknown role.
var ErrInvalidUser = errors.New("invalid user")

// HashPassword returns a bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches the bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsAdmin reports whether a stored user has the admin role.
func IsAdmin(u core.User) bool {
	r, err := ParseRole(u.Role)
	return err == nil && r == RoleAdmin
}

// NewUser validates a new account and hashes its password. A blank role
// defaults to viewer; the stored role is its canonical lower-case name.
func NewUser(username, password, role string) (core.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return core.User{}, fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	if strings.TrimSpace(role) == "" {
		role = RoleViewer.String()
	}
	r, err := ParseRole(role)
	if err != nil || r == RoleNone {
		return core.User{}, fmt.Errorf("%w: role must be viewer, operator or admin, got %q", ErrInvalidUser, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return core.User{}, err
	}
	return core.User{Username: username, PasswordHash: hash, Role: r.String()}, nil
}

// UserLookup fetches a dashboard account by name.
type UserLookup interface {
	GetUser(ctx context.Context, username string) (core.User, error)
}

// BasicAuthenticator checks HTTP basic credentials against stored users.
type BasicAuthenticator struct {
	users UserLookup
	log   logger.Logger
}

// NewBasicAuthenticator creates an authenticator over users.
func NewBasicAuthenticator(users UserLookup, log logger.Logger) *BasicAuthenticator {
	if log == nil {
		log = logger.NewNop()
	}
	return &BasicAuthenticator{users: users, log: log}
}

// Authenticate implements Authenticator. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (b *BasicAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	u, err := b.users.GetUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		b.log.Error("user lookup failed", logger.F("username", username), logger.F("error", err))
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	role, err := ParseRole(u.Role)
	if err != nil {
		b.log.Warn("user has unknown role", logger.F("username", username), logger.F("role", u.Role))
		role = RoleViewer
	}

	return &Identity{
		ID:       "user:" + u.Username,
		Name:     u.Username,
		Role:     role,
		AuthType: "basic",
	}, nil
}
