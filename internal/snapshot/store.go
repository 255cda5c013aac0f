package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

var ErrNotFound = errors.New("snapshot not found")

// Meta summarizes one stored snapshot.
type Meta struct {
	Key       int64     `json:"key"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	Passes    int       `json:"passes"`
	Trackers  int       `json:"trackers"`
	HasShadow bool      `json:"has_shadow"`
	SizeBytes int64     `json:"size_bytes"`
}

// Store keeps one JSON file per origin session, named by the origin's
// creation time in milliseconds. A later pass for the same session replaces
// the earlier file.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func validateKey(key int64) error {
	if key <= 0 {
		return fmt.Errorf("invalid snapshot key: %d", key)
	}
	return nil
}

func (s *Store) path(key int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(key, 10)+".json")
}

// Save writes snap under key, replacing any previous version atomically.
func (s *Store) Save(key int64, snap tracking.SessionSnapshot) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot store: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("snapshot store: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("snapshot store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("snapshot store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("snapshot store: rename: %w", err)
	}
	return nil
}

// Get reads the snapshot stored under key.
func (s *Store) Get(key int64) (tracking.SessionSnapshot, error) {
	if err := validateKey(key); err != nil {
		return tracking.SessionSnapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return tracking.SessionSnapshot{}, fmt.Errorf("%w: %d", ErrNotFound, key)
		}
		return tracking.SessionSnapshot{}, fmt.Errorf("snapshot store: read: %w", err)
	}
	var snap tracking.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return tracking.SessionSnapshot{}, fmt.Errorf("snapshot store: unmarshal: %w", err)
	}
	return snap, nil
}

// List returns metadata for all snapshots, newest first. Unreadable files
// are skipped.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		key, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(path), ".json"), 10, 64)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("snapshot skipped", "path", path, "error", err)
			continue
		}
		var snap tracking.SessionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			slog.Debug("snapshot skipped", "path", path, "error", err)
			continue
		}
		metas = append(metas, metaOf(key, snap, int64(len(data))))
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Key > metas[j].Key })
	return metas, nil
}

func metaOf(key int64, snap tracking.SessionSnapshot, size int64) Meta {
	m := Meta{
		Key:       key,
		URL:       snap.URL,
		Domain:    snap.Domain,
		CreatedAt: snap.CreatedAt,
		Passes:    snap.Passes,
		HasShadow: snap.Shadow != nil,
		SizeBytes: size,
	}
	for _, d := range snap.Domains {
		if d.Tracker {
			m.Trackers++
		}
	}
	return m
}

// Prune deletes all but the newest keep snapshots and reports how many
// were removed. keep <= 0 disables pruning.
func (s *Store) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("snapshot store: glob: %w", err)
	}
	var keys []int64
	for _, path := range matches {
		if key, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(path), ".json"), 10, 64); err == nil {
			keys = append(keys, key)
		}
	}
	if len(keys) <= keep {
		return 0, nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	removed := 0
	for _, key := range keys[keep:] {
		if err := os.Remove(s.path(key)); err != nil {
			slog.Debug("snapshot prune failed", "key", key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
