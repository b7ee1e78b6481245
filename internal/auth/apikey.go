package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/ChrisB0-2/opsdash/internal/logger"
)

const (
	// APIKeyPrefix marks opsdash keys.
	APIKeyPrefix = "od_"
	// APIKeyLength is the total length of a valid key: prefix plus 32 hex chars.
	APIKeyLength = len(APIKeyPrefix) + 32

	// DefaultHeaderName is the default header for API key authentication.
	DefaultHeaderName = "X-API-Key"
)

// APIKeyEntry is a stored key. Only the SHA-256 hash is kept.
type APIKeyEntry struct {
	Hash string
	Name string
	Role Role
}

// APIKeyAuthenticator authenticates requests using API keys.
type APIKeyAuthenticator struct {
	mu         sync.RWMutex
	keys       map[string]APIKeyEntry // hash -> entry
	headerName string
	log        logger.Logger
}

// APIKeyConfig configures the API key authenticator.
type APIKeyConfig struct {
	// Key is a single plaintext key.
	Key string
	// KeyEnv names an environment variable holding a key.
	KeyEnv string
	// KeysFile holds one key per line as "key" or "key:role:name".
	KeysFile string
	// HeaderName defaults to X-API-Key.
	HeaderName string
	// DefaultRole applies to keys without an explicit role (default: Operator).
	DefaultRole Role
}

// NewAPIKeyAuthenticator loads keys from every configured source. At
// least one key must be found.
func NewAPIKeyAuthenticator(cfg APIKeyConfig, log logger.Logger) (*APIKeyAuthenticator, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.DefaultRole == RoleNone {
		cfg.DefaultRole = RoleOperator
	}

	a := &APIKeyAuthenticator{
		keys:       make(map[string]APIKeyEntry),
		headerName: cfg.HeaderName,
		log:        log,
	}

	if cfg.Key != "" {
		if err := a.AddKey(cfg.Key, "config", cfg.DefaultRole); err != nil {
			return nil, fmt.Errorf("invalid key in config: %w", err)
		}
	}
	if cfg.KeyEnv != "" {
		if key := strings.TrimSpace(os.Getenv(cfg.KeyEnv)); key != "" {
			if err := a.AddKey(key, "env:"+cfg.KeyEnv, cfg.DefaultRole); err != nil {
				return nil, fmt.Errorf("invalid key in env %s: %w", cfg.KeyEnv, err)
			}
		}
	}
	if cfg.KeysFile != "" {
		if err := a.loadKeysFile(cfg.KeysFile, cfg.DefaultRole); err != nil {
			return nil, fmt.Errorf("load keys file: %w", err)
		}
	}

	if a.Len() == 0 {
		return nil, fmt.Errorf("no API keys configured")
	}

	log.Info("API key authenticator initialized", logger.F("key_count", a.Len()))
	return a, nil
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	key := a.extractKey(r)
	if key == "" {
		return nil, nil
	}
	if !ValidateKeyFormat(key) {
		return nil, ErrInvalidKeyFormat
	}

	hash := HashKey(key)

	a.mu.RLock()
	entry, ok := a.lookup(hash)
	a.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return &Identity{
		ID:       hash[:16],
		Name:     entry.Name,
		Role:     entry.Role,
		AuthType: "apikey",
	}, nil
}

// lookup compares hashes in constant time. Callers hold a.mu.
func (a *APIKeyAuthenticator) lookup(hash string) (APIKeyEntry, bool) {
	var found APIKeyEntry
	ok := false
	for h, e := range a.keys {
		if SecureCompare(h, hash) {
			found, ok = e, true
		}
	}
	return found, ok
}

// extractKey checks the key header first, then Authorization: Bearer.
func (a *APIKeyAuthenticator) extractKey(r *http.Request) string {
	if key := r.Header.Get(a.headerName); key != "" {
		return strings.TrimSpace(key)
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// AddKey registers a plaintext key under name with the given role.
func (a *APIKeyAuthenticator) AddKey(key, name string, role Role) error {
	if !ValidateKeyFormat(key) {
		return ErrInvalidKeyFormat
	}
	hash := HashKey(key)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[hash] = APIKeyEntry{Hash: hash, Name: name, Role: role}
	return nil
}

// Len returns the number of registered keys.
func (a *APIKeyAuthenticator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys)
}

// loadKeysFile reads "key" or "key:role:name" lines. Blank lines and
// lines starting with # are ignored.
func (a *APIKeyAuthenticator) loadKeysFile(path string, defaultRole Role) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for lineNum := 1; sc.Scan(); lineNum++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 3)
		role := defaultRole
		name := fmt.Sprintf("file:%s:%d", path, lineNum)

		if len(parts) >= 2 && parts[1] != "" {
			r, err := ParseRole(parts[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNum, err)
			}
			role = r
		}
		if len(parts) == 3 && parts[2] != "" {
			name = parts[2]
		}

		if err := a.AddKey(parts[0], name, role); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	return sc.Err()
}

// ValidateKeyFormat checks for the od_ prefix followed by exactly 32
// hex characters.
func ValidateKeyFormat(key string) bool {
	if len(key) != APIKeyLength || !strings.HasPrefix(key, APIKeyPrefix) {
		return false
	}
	_, err := hex.DecodeString(key[len(APIKeyPrefix):])
	return err == nil
}

// HashKey computes the hex SHA-256 of a key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// SecureCompare performs a constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateAPIKey returns a new random key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}
