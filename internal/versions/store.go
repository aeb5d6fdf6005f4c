package versions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cardsync/internal/cards"
	"cardsync/internal/fileutil"
	"cardsync/internal/logging"
	"cardsync/internal/services"
)

const (
	timestampLayout = "20060102T150405.000000000Z"
	snapshotExt     = ".json"
	maxCollisions   = 1000
)

// Snapshot is one immutable saved copy of a card.
type Snapshot struct {
	CardID    string     `json:"cardId,omitempty"`
	Title     string     `json:"title"`
	Timestamp time.Time  `json:"timestamp"`
	Card      cards.Card `json:"card"`
}

// Ref addresses a stored snapshot.
type Ref struct {
	// Key is the snapshot directory: the card ID, or the title slug for cards
	// that have not been created yet.
	Key       string
	Name      string
	Timestamp time.Time
	Path      string
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store keeps append-only card snapshots under a root directory, one
// subdirectory per card.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewStore creates the root directory if needed and returns a Store.
func NewStore(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "versions", "open", "versions directory is empty", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create versions directory %q: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "versions"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// KeyFor returns the directory key a card's snapshots are filed under.
func KeyFor(card cards.Card) string {
	if id := strings.TrimSpace(card.ID); id != "" {
		return Slug(id)
	}
	return Slug(card.Title)
}

// Save appends a snapshot of card. Existing snapshots are never overwritten;
// a name collision advances the timestamp by a nanosecond.
func (s *Store) Save(card cards.Card) (Ref, error) {
	key := KeyFor(card)
	cardDir := filepath.Join(s.dir, key)
	if err := os.MkdirAll(cardDir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("create snapshot directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	for range maxCollisions {
		snap := Snapshot{CardID: card.ID, Title: card.Title, Timestamp: ts, Card: card.Clone()}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return Ref{}, fmt.Errorf("encode snapshot: %w", err)
		}

		name := ts.Format(timestampLayout) + snapshotExt
		path := filepath.Join(cardDir, name)
		err = fileutil.WriteFileExclusive(path, data, 0o644)
		if err == nil {
			s.logger.Debug("card snapshot saved",
				logging.String(logging.FieldEventType, "snapshot_saved"),
				logging.String(logging.FieldCardID, card.ID),
				logging.String(logging.FieldPath, path),
			)
			return Ref{Key: key, Name: name, Timestamp: ts, Path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return Ref{}, fmt.Errorf("write snapshot: %w", err)
		}
		ts = ts.Add(time.Nanosecond)
	}
	return Ref{}, fmt.Errorf("write snapshot: too many name collisions in %s", cardDir)
}

// List returns the snapshots filed under key, newest first. Ties on
// timestamp order by name. A card without snapshots yields an empty list.
func (s *Store) List(key string) ([]Ref, error) {
	key = Slug(key)
	cardDir := filepath.Join(s.dir, key)
	entries, err := os.ReadDir(cardDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Ref{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	refs := make([]Ref, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ts, ok := parseName(entry.Name())
		if !ok {
			continue
		}
		refs = append(refs, Ref{Key: key, Name: entry.Name(), Timestamp: ts, Path: filepath.Join(cardDir, entry.Name())})
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].Timestamp.Equal(refs[j].Timestamp) {
			return refs[i].Timestamp.After(refs[j].Timestamp)
		}
		return refs[i].Name > refs[j].Name
	})
	return refs, nil
}

// Latest returns the newest snapshot filed under key.
func (s *Store) Latest(key string) (Ref, bool, error) {
	refs, err := s.List(key)
	if err != nil || len(refs) == 0 {
		return Ref{}, false, err
	}
	return refs[0], true, nil
}

// Resolve finds the snapshot called name under key.
func (s *Store) Resolve(key, name string) (Ref, error) {
	refs, err := s.List(key)
	if err != nil {
		return Ref{}, err
	}
	name = strings.TrimSpace(name)
	for _, ref := range refs {
		if ref.Name == name || strings.TrimSuffix(ref.Name, snapshotExt) == name {
			return ref, nil
		}
	}
	return Ref{}, services.Wrap(services.ErrNotFound, "versions", "resolve", fmt.Sprintf("no snapshot %q for %q", name, key), nil)
}

// Load reads the snapshot ref points at.
func (s *Store) Load(ref Ref) (Snapshot, error) {
	path := ref.Path
	if path == "" {
		path = filepath.Join(s.dir, Slug(ref.Key), ref.Name)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, services.Wrap(services.ErrNotFound, "versions", "load", ref.Name, err)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", ref.Name, err)
	}
	return snap, nil
}

// Delete removes one snapshot and, once empty, its card directory.
func (s *Store) Delete(ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := ref.Path
	if path == "" {
		path = filepath.Join(s.dir, Slug(ref.Key), ref.Name)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "versions", "delete", ref.Name, err)
		}
		return fmt.Errorf("delete snapshot: %w", err)
	}
	// Fails harmlessly while other snapshots remain.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Cards lists the keys that have at least one snapshot, sorted.
func (s *Store) Cards() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list versions directory: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		refs, err := s.List(entry.Name())
		if err != nil {
			return nil, err
		}
		if len(refs) > 0 {
			keys = append(keys, entry.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func parseName(name string) (time.Time, bool) {
	if !strings.HasSuffix(name, snapshotExt) {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, strings.TrimSuffix(name, snapshotExt))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
