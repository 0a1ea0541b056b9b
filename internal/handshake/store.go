package handshake

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calendai/calendai/internal/logging"
)

// StateTTL bounds how long a pending authorization state stays redeemable.
const StateTTL = 10 * time.Minute

// AuthError reasons.
const (
	ReasonInvalidState      = "invalid_state"
	ReasonAlreadyUsed       = "already_used"
	ReasonExpired           = "expired"
	ReasonMissingCredential = "missing_credential"
)

// AuthError is a rejected handshake. It is surfaced to the boundary and
// never retried automatically.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "handshake rejected: " + e.Reason
}

// IsAuthError reports whether err is an AuthError with the given reason.
func IsAuthError(err error, reason string) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Reason == reason
}

// CredentialBundle holds everything needed to act on the user's calendar.
// It is stored by the Store and referenced by an opaque credential token;
// raw secrets never travel to the client.
type CredentialBundle struct {
	AccessToken  string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

// entry is one record of the persisted flat cache. A token maps to either
// a pending authorization state or an issued credential bundle.
type entry struct {
	// Pending state fields
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Used      *bool      `json:"used,omitempty"`

	// Credential fields
	Credential *CredentialBundle `json:"credential,omitempty"`
}

func (e *entry) isState() bool {
	return e.CreatedAt != nil
}

// Store owns OAuth state tokens and issued credential bundles. All
// mutations happen under one mutex and are rewritten to a single JSON file
// via write-to-temp-then-rename, so concurrent authorize/callback pairs
// cannot corrupt each other and a crash never leaves a truncated cache.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewStore opens (or lazily creates) the cache file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Begin generates a fresh authorization state token and persists it as
// pending. The token is embedded in the provider's authorization URL and
// redeemed exactly once by Complete.
func (s *Store) Begin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.load()
	if err != nil {
		return "", err
	}

	token, err := randomToken()
	if err != nil {
		return "", err
	}

	created := s.now()
	used := false
	cache[token] = &entry{CreatedAt: &created, Used: &used}

	if err := s.save(cache); err != nil {
		return "", err
	}

	s.logger.Debug("handshake started",
		"state", logging.SanitizeToken(token))
	return token, nil
}

// Complete redeems a state token. The check-and-mark is one atomic unit:
// two callers racing on the same token cannot both succeed. A consumed
// state is kept as a used tombstone until the TTL sweep removes it, so a
// second redemption is reported as already_used rather than unknown.
func (s *Store) Complete(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.load()
	if err != nil {
		return err
	}

	e, ok := cache[token]
	if !ok || !e.isState() {
		return &AuthError{Reason: ReasonInvalidState}
	}
	if e.Used != nil && *e.Used {
		return &AuthError{Reason: ReasonAlreadyUsed}
	}
	if s.now().Sub(*e.CreatedAt) > StateTTL {
		delete(cache, token)
		if err := s.save(cache); err != nil {
			return err
		}
		return &AuthError{Reason: ReasonExpired}
	}

	used := true
	e.Used = &used
	if err := s.save(cache); err != nil {
		return err
	}

	s.logger.Debug("handshake completed",
		"state", logging.SanitizeToken(token))
	return nil
}

// IssueCredential stores the bundle under a fresh opaque token with no
// expiry; refresh is delegated to the calendar provider's own token
// semantics.
func (s *Store) IssueCredential(bundle CredentialBundle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.load()
	if err != nil {
		return "", err
	}

	token, err := randomToken()
	if err != nil {
		return "", err
	}
	cache[token] = &entry{Credential: &bundle}

	if err := s.save(cache); err != nil {
		return "", err
	}

	s.logger.Info("credential issued",
		"credential", logging.SanitizeToken(token))
	return token, nil
}

// ResolveCredential returns the bundle referenced by a credential token,
// or an AuthError with reason missing_credential.
func (s *Store) ResolveCredential(token string) (*CredentialBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.load()
	if err != nil {
		return nil, err
	}

	e, ok := cache[token]
	if !ok || e.Credential == nil {
		return nil, &AuthError{Reason: ReasonMissingCredential}
	}

	// Copy so callers cannot mutate the stored bundle.
	bundle := *e.Credential
	return &bundle, nil
}

// Sweep removes pending and consumed states older than the TTL. Issued
// credentials are never swept.
func (s *Store) Sweep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.load()
	if err != nil {
		return err
	}

	now := s.now()
	removed := 0
	for token, e := range cache {
		if e.isState() && now.Sub(*e.CreatedAt) > StateTTL {
			delete(cache, token)
			removed++
		}
	}

	if removed == 0 {
		return nil
	}
	if err := s.save(cache); err != nil {
		return err
	}

	s.logger.Debug("swept expired handshake states", "count", removed)
	return nil
}

// load reads the cache file. A missing or corrupt file yields an empty
// cache rather than an error; the next save rewrites it whole.
func (s *Store) load() (map[string]*entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*entry), nil
		}
		return nil, fmt.Errorf("failed to read handshake cache: %w", err)
	}

	cache := make(map[string]*entry)
	if err := json.Unmarshal(data, &cache); err != nil {
		s.logger.Warn("handshake cache unreadable, starting empty",
			logging.Err(err))
		return make(map[string]*entry), nil
	}
	return cache, nil
}

// save rewrites the whole cache atomically: write to a temp file in the
// same directory, then rename over the old one.
func (s *Store) save(cache map[string]*entry) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode handshake cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "handshake-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write handshake cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace handshake cache: %w", err)
	}
	return nil
}

// randomToken returns a URL-safe token with 256 bits of entropy.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
