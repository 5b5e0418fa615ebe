package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// Provider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// partitioned into named generations.
// Every operation is atomic on its own: a Put either fully replaces the
// entry or fails without side effects.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the stored bytes for the given key within a generation.
	// It also returns a boolean indicating whether the key was found.
	Get(ctx context.Context, generation, key string) ([]byte, bool, error)
	// Put stores the bytes under the given key, replacing any previous value.
	// The generation is created if it does not exist.
	Put(ctx context.Context, generation, key string, bytes []byte) error
	// Purge removes the entry for the given key.
	// Purging a missing key is not an error.
	Purge(ctx context.Context, generation, key string) error
	// Generations returns the names of all generations holding entries, sorted.
	Generations(ctx context.Context) ([]string, error)
	// PurgeGeneration removes a generation and every entry in it.
	PurgeGeneration(ctx context.Context, generation string) error
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemCache) Get(_ context.Context, generation, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[generation][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry...), true, nil
}

func (m MemCache) Put(_ context.Context, generation, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	gen, ok := m.db[generation]
	if !ok {
		gen = make(map[string][]byte)
		m.db[generation] = gen
	}
	gen[key] = append([]byte(nil), bytes...)
	return nil
}

func (m MemCache) Purge(_ context.Context, generation, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[generation], key)
	return nil
}

func (m MemCache) Generations(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) PurgeGeneration(_ context.Context, generation string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, generation)
	return nil
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("open %s: %w", filename, err)
	}
	// a single connection keeps in-memory databases consistent and avoids busy errors
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			generation TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("init %s: %w", filename, err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM cache WHERE generation = ? AND key = ?", generation, key,
	).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(ctx context.Context, generation, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (generation, key, bytes) VALUES (?, ?, ?)",
		generation, key, bytes)
	return err
}

func (s SQLiteCache) Purge(ctx context.Context, generation, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cache WHERE generation = ? AND key = ?", generation, key)
	return err
}

func (s SQLiteCache) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT generation FROM cache ORDER BY generation")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) PurgeGeneration(ctx context.Context, generation string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE generation = ?", generation)
	return err
}

// Close closes the underlying database.
func (s SQLiteCache) Close() error {
	return s.db.Close()
}
