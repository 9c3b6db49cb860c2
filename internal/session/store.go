// Package session implements the credential and session store: a single
// admin identity, opaque bearer-token sessions kept in an in-memory map,
// and an HTTP Basic Auth fallback.
//
// Grounded on the token broker's active-tokens-map-under-mutex-plus-
// periodic-sweep shape (internal/security/token_broker.go); simplified
// from HMAC-signed JWT-like tokens to opaque random tokens, since
// sessions here are meant to be plain random strings kept in memory
// rather than self-describing cryptographic tokens.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ocx/accessd/internal/model"
)

const tokenBytes = 18 // 144 bits

// bcryptPrefix tags a stored digest as a modern bcrypt hash rather than
// the legacy unsalted-SHA-256 digest, so Verify can dispatch on format
// without a separate schema-version field.
const bcryptPrefix = "bcrypt:"

// Store holds the single admin credential and the live session map.
type Store struct {
	mu sync.Mutex

	username     string
	passwordHash string // either a bcryptPrefix-tagged bcrypt hash, or a bare legacy SHA-256 hex digest

	sessions map[string]model.Session

	ttl time.Duration
}

// Config configures the credential store.
type Config struct {
	Username     string
	PasswordHash string
	SessionTTL   time.Duration
}

// New builds a Store. A zero SessionTTL defaults to 12 hours.
func New(cfg Config) *Store {
	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = 12 * time.Hour
	}
	return &Store{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		sessions:     make(map[string]model.Session),
		ttl:          ttl,
	}
}

// LegacyDigest computes the unsalted SHA-256 hex digest used for the
// legacy admin credential format.
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// BcryptDigest computes a modern, tagged bcrypt hash suitable for
// UpdateCredentials.
func BcryptDigest(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("session: hash password: %w", err)
	}
	return bcryptPrefix + string(hash), nil
}

// Verify implements users.PasswordVerifier and is also used by Login and
// the Basic Auth path. Dispatches on the stored digest's format tag.
func (s *Store) Verify(password string) bool {
	s.mu.Lock()
	hash := s.passwordHash
	s.mu.Unlock()

	if strings.HasPrefix(hash, bcryptPrefix) {
		return bcrypt.CompareHashAndPassword([]byte(strings.TrimPrefix(hash, bcryptPrefix)), []byte(password)) == nil
	}
	// Legacy path: constant-time compare of hex digests.
	got := LegacyDigest(password)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

// UpdateCredentials replaces the stored username/password digest, used by
// the /update_security route.
func (s *Store) UpdateCredentials(username, passwordHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if username != "" {
		s.username = username
	}
	if passwordHash != "" {
		s.passwordHash = passwordHash
	}
}

// Login verifies username/password and, on success, issues a fresh
// session token.
func (s *Store) Login(username, password string) (string, error) {
	s.mu.Lock()
	expected := s.username
	s.mu.Unlock()

	// Username compare is case-sensitive, matching the Basic Auth path.
	if username != expected || !s.Verify(password) {
		return "", model.NewError(model.ErrAuth, "invalid username or password")
	}

	token, err := newToken()
	if err != nil {
		return "", model.NewError(model.ErrStorage, "failed to issue session token")
	}

	now := time.Now()
	s.mu.Lock()
	s.sessions[token] = model.Session{
		Token:     token,
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Unlock()

	return token, nil
}

// Logout removes a token from the live map.
func (s *Store) Logout(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Authenticate reports whether token is currently valid: present in the
// live map and unexpired. An expired token is removed on discovery.
func (s *Store) Authenticate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(s.sessions, token)
		return false
	}
	return true
}

// AuthenticateBasic verifies HTTP Basic credentials: case-sensitive
// username, constant-time password digest comparison (handled by Verify).
func (s *Store) AuthenticateBasic(username, password string) bool {
	s.mu.Lock()
	expected := s.username
	s.mu.Unlock()
	return username == expected && s.Verify(password)
}

// Sweep removes every expired session, called periodically by the
// housekeeping worker.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	swept := 0
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
			swept++
		}
	}
	return swept
}

// ActiveCount returns the number of live (not-yet-swept) sessions.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
