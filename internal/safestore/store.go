package safestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is stored in PRAGMA user_version. Any other value on open
// triggers a rebuild from the seed list.
const schemaVersion = 2

const schema = `
CREATE TABLE safe_cookies (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	domain      TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL DEFAULT '',
	recorded_at INTEGER NOT NULL
);
CREATE INDEX safe_cookies_domain ON safe_cookies(domain);
`

// Record is one safe cookie key for a domain. Value is the value observed
// when the key was proven safe and is kept for auditing only.
type Record struct {
	Domain     string    `json:"domain"`
	Key        string    `json:"key"`
	Value      string    `json:"value,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the persisted knowledge base of cookie keys known not to identify
// a user. Lookups are served from memory; writes go to SQLite first. A Store
// without a database keeps everything in memory.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	path  string
	index map[string]map[string]struct{}
	count int
}

// Memory returns a store with no backing database.
func Memory() *Store {
	return &Store{index: make(map[string]map[string]struct{})}
}

// Open opens or creates the SQLite database at path. A new database, or one
// with an unexpected schema version, is built from seed.
func Open(ctx context.Context, path string, seed io.Reader) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("safestore: mkdir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("safestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, index: make(map[string]map[string]struct{})}
	if err := s.migrate(ctx, seed); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("safe cookie store opened", "path", path, "domains", len(s.index), "keys", s.count)
	return s, nil
}

// OpenOrMemory opens the database at path and degrades to an empty in-memory
// store when that fails, so classification never blocks on persistence.
func OpenOrMemory(ctx context.Context, path string, seed io.Reader) *Store {
	s, err := Open(ctx, path, seed)
	if err != nil {
		slog.Warn("safe cookie store unavailable, using empty in-memory store", "path", path, "error", err)
		return Memory()
	}
	return s
}

func (s *Store) migrate(ctx context.Context, seed io.Reader) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("safestore: read schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	var tables int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'safe_cookies'").Scan(&tables); err != nil {
		return fmt.Errorf("safestore: inspect schema: %w", err)
	}
	if tables > 0 {
		slog.Warn("safe cookie store schema changed, rebuilding from seed list",
			"path", s.path, "found_version", version, "want_version", schemaVersion)
	}

	var records []Record
	if seed != nil {
		var err error
		if records, err = ParseSeed(seed); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("safestore: begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS safe_cookies"); err != nil {
		return fmt.Errorf("safestore: drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("safestore: create schema: %w", err)
	}
	if err := insertRecords(ctx, tx, records, time.Now()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("safestore: set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("safestore: commit rebuild: %w", err)
	}
	slog.Info("safe cookie store seeded", "path", s.path, "records", len(records))
	return nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, records []Record, at time.Time) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO safe_cookies (domain, key, value, recorded_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("safestore: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Domain, r.Key, r.Value, at.UnixMilli()); err != nil {
			return fmt.Errorf("safestore: insert %s/%s: %w", r.Domain, r.Key, err)
		}
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT domain, key FROM safe_cookies")
	if err != nil {
		return fmt.Errorf("safestore: load: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var domain, key string
		if err := rows.Scan(&domain, &key); err != nil {
			return fmt.Errorf("safestore: scan: %w", err)
		}
		s.addLocked(domain, key)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("safestore: iterate: %w", err)
	}
	return nil
}

func (s *Store) addLocked(domain, key string) bool {
	keys, ok := s.index[domain]
	if !ok {
		keys = make(map[string]struct{})
		s.index[domain] = keys
	}
	if _, ok := keys[key]; ok {
		return false
	}
	keys[key] = struct{}{}
	s.count++
	return true
}

// Lookup returns the safe keys recorded for domain. The returned set is a
// copy and may be retained by the caller.
func (s *Store) Lookup(domain string) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.index[domain]
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(keys))
	for k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// RecordSafe appends a safe key for domain. Keys already known are not
// written again.
func (s *Store) RecordSafe(ctx context.Context, domain, key, value string) error {
	if domain == "" || key == "" {
		return errors.New("safestore: domain and key are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[domain][key]; ok {
		return nil
	}
	if s.db != nil {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO safe_cookies (domain, key, value, recorded_at) VALUES (?, ?, ?, ?)",
			domain, key, value, time.Now().UnixMilli(),
		); err != nil {
			return fmt.Errorf("safestore: record %s/%s: %w", domain, key, err)
		}
	}
	s.addLocked(domain, key)
	return nil
}

// Import appends records in one transaction and returns how many were new.
func (s *Store) Import(ctx context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []Record
	seen := make(map[string]struct{})
	for _, r := range records {
		if _, ok := s.index[r.Domain][r.Key]; ok {
			continue
		}
		id := r.Domain + "\x00" + r.Key
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if s.db != nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("safestore: begin import: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := insertRecords(ctx, tx, fresh, time.Now()); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("safestore: commit import: %w", err)
		}
	}
	for _, r := range fresh {
		s.addLocked(r.Domain, r.Key)
	}
	return len(fresh), nil
}

// Records lists stored records, optionally filtered by domain, oldest first.
// In-memory stores report keys without values or timestamps.
func (s *Store) Records(ctx context.Context, domain string) ([]Record, error) {
	if s.db == nil {
		return s.memoryRecords(domain), nil
	}
	query := "SELECT domain, key, value, recorded_at FROM safe_cookies"
	var args []any
	if domain != "" {
		query += " WHERE domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("safestore: query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r  Record
			ms int64
		)
		if err := rows.Scan(&r.Domain, &r.Key, &r.Value, &ms); err != nil {
			return nil, fmt.Errorf("safestore: scan record: %w", err)
		}
		r.RecordedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("safestore: iterate records: %w", err)
	}
	return out, nil
}

func (s *Store) memoryRecords(domain string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for d, keys := range s.index {
		if domain != "" && d != domain {
			continue
		}
		for k := range keys {
			out = append(out, Record{Domain: d, Key: k})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Stats reports how many domains and distinct keys are known.
func (s *Store) Stats() (domains, keys int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index), s.count
}

// Persistent reports whether the store is backed by a database.
func (s *Store) Persistent() bool { return s.db != nil }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
