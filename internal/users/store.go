// Package users is the durable user/blocklist store: two JSON files
// (users, blocklist) mutated under a single mutex and replaced
// atomically via temp-file + fsync + rename.
//
// The atomic-replace shape is grounded on the filesystem block store in
// the dittofs example pack (pkg/payload/store/fs/store.go).
package users

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ocx/accessd/internal/model"
)

const (
	usersFile   = "users.json"
	blockedFile = "blocked_users.json"
	fileMode    = 0o644
)

// PasswordVerifier checks an admin password against the stored digest,
// used by set_privacy's re-verification requirement.
type PasswordVerifier interface {
	Verify(password string) bool
}

// Store is the in-memory, disk-backed user/blocklist store.
type Store struct {
	dir string
	mu  sync.Mutex

	users   map[string]model.User // card -> user
	blocked map[string]bool       // card -> blocked
}

// Open loads (or initializes) the store from dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("users: create directory: %w", err)
	}
	s := &Store{
		dir:     dir,
		users:   make(map[string]model.User),
		blocked: make(map[string]bool),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if err := readJSON(filepath.Join(s.dir, usersFile), &s.users); err != nil {
		return fmt.Errorf("users: load users file: %w", err)
	}
	var blockedList []string
	if err := readJSON(filepath.Join(s.dir, blockedFile), &blockedList); err != nil {
		return fmt.Errorf("users: load blocklist file: %w", err)
	}
	for _, card := range blockedList {
		s.blocked[card] = true
	}
	return nil
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// writeAtomic marshals v to JSON and replaces path via temp-file + fsync
// + rename, so a crash mid-write never leaves a truncated file behind.
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// persist rewrites both files from the in-memory maps. Caller must hold s.mu.
func (s *Store) persist() error {
	if err := writeAtomic(filepath.Join(s.dir, usersFile), s.users); err != nil {
		return fmt.Errorf("users: persist users file: %w", err)
	}
	blockedList := make([]string, 0, len(s.blocked))
	for card, blocked := range s.blocked {
		if blocked {
			blockedList = append(blockedList, card)
		}
	}
	if err := writeAtomic(filepath.Join(s.dir, blockedFile), blockedList); err != nil {
		return fmt.Errorf("users: persist blocklist file: %w", err)
	}
	return nil
}

// Get resolves a card to its user record.
func (s *Store) Get(card string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[card]
	return u, ok
}

// IsBlocked implements policy.Blocklist.
func (s *Store) IsBlocked(card string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked[card]
}

// List returns a snapshot of every user.
func (s *Store) List() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

// Add inserts or replaces a user by card number. card_number, id and name
// are required fields; a request missing any of them is rejected rather
// than defaulted, matching the add_user contract.
func (s *Store) Add(u model.User) error {
	if u.Card == "" || u.ID == "" || u.Name == "" {
		return model.NewError(model.ErrValidation, "card_number, id and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.Card] = u
	s.blocked[u.Card] = u.Blocked
	return s.persist()
}

// Delete removes a user and its blocklist entry.
func (s *Store) Delete(card string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[card]; !ok {
		return model.NewError(model.ErrNotFound, "no such user")
	}
	delete(s.users, card)
	delete(s.blocked, card)
	return s.persist()
}

// SetBlocked sets a user's blocked flag, keeping the redundant blocklist
// set consistent with it.
func (s *Store) SetBlocked(card string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[card]
	if !ok {
		return model.NewError(model.ErrNotFound, "no such user")
	}
	u.Blocked = blocked
	s.users[card] = u
	s.blocked[card] = blocked
	return s.persist()
}

// SetPrivacy sets a user's privacy_protected flag after re-verifying the
// admin password, since this flag silently suppresses audit records for
// the card going forward.
func (s *Store) SetPrivacy(card string, enable bool, password string, verifier PasswordVerifier) error {
	if !verifier.Verify(password) {
		return model.NewError(model.ErrAuth, "invalid admin password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[card]
	if !ok {
		return model.NewError(model.ErrNotFound, "no such user")
	}
	u.PrivacyProtected = enable
	s.users[card] = u
	return s.persist()
}
