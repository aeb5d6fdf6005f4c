package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"cardsync/internal/fileutil"
)

// Token holds the credentials returned by the identity provider.
type Token struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	IDToken      string `json:"idToken,omitempty"`
}

// Empty reports whether no credentials are present.
func (t Token) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// TokenStore abstracts persistence for authentication state.
type TokenStore interface {
	Load() (Token, error)
	Save(Token) error
	Clear() error
}

// FileTokenStore writes tokens to a JSON file on disk. An advisory file lock
// serializes access across cardsync processes sharing the same config dir.
type FileTokenStore struct {
	path string

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileTokenStore builds a FileTokenStore rooted at the provided path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the token file location.
func (s *FileTokenStore) Path() string {
	return s.path
}

// Load reads tokens from disk. A missing file resolves to an empty token.
func (s *FileTokenStore) Load() (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return Token{}, nil
	}
	if err := s.lock.RLock(); err != nil {
		return Token{}, fmt.Errorf("lock auth state: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Token{}, nil
		}
		return Token{}, fmt.Errorf("read auth state: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, fmt.Errorf("decode auth state: %w", err)
	}
	return token, nil
}

// Save persists tokens to disk with restricted permissions.
func (s *FileTokenStore) Save(token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ensure auth state directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock auth state: %w", err)
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode auth state: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write auth state: %w", err)
	}
	return nil
}

// Clear removes persisted tokens. Clearing an absent file is not an error.
func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock auth state: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove auth state: %w", err)
	}
	return nil
}
