package cache

import (
	"context"
	"fmt"
	"time"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// Entry is a stored response together with where it lives in the cache.
type Entry struct {
	Generation string
	Key        string
	serializer.StoredResponse
}

// Store reads and writes cache entries on top of a Provider.
// Writes are stamped with the store clock.
type Store struct {
	provider Provider
	now      func() time.Time
}

// NewStore returns a Store backed by the provider.
// If now is nil, time.Now is used.
func NewStore(provider Provider, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{provider: provider, now: now}
}

// Now returns the current time according to the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get returns the entry for key, or nil if there is none.
// No freshness check is done. An entry that cannot be decoded is purged
// and reported as an error.
func (s *Store) Get(ctx context.Context, generation, key string) (*Entry, error) {
	bts, ok, err := s.provider.Get(ctx, generation, key)
	if err != nil {
		return nil, fmt.Errorf("get %s from %s: %w", key, generation, err)
	}
	if !ok {
		return nil, nil
	}
	sRes, err := serializer.BytesToStoredResponse(bts)
	if err != nil {
		// corrupted entries are removed so that the next write can replace them
		if perr := s.provider.Purge(ctx, generation, key); perr != nil {
			return nil, fmt.Errorf("decode %s from %s: %w (purge: %w)", key, generation, err, perr)
		}
		return nil, fmt.Errorf("decode %s from %s: %w", key, generation, err)
	}
	return &Entry{Generation: generation, Key: key, StoredResponse: sRes}, nil
}

// Lookup is Get followed by the expiry check.
// A stale entry is deleted and reported as absent.
func (s *Store) Lookup(ctx context.Context, generation, key string) (*Entry, error) {
	entry, err := s.Get(ctx, generation, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if IsFresh(*entry, s.now()) {
		return entry, nil
	}
	if err := s.Delete(ctx, generation, key); err != nil {
		return nil, err
	}
	return nil, nil
}

// Put stores the response under key with the given time to live,
// stamping it with the current time. Any previous entry is replaced.
func (s *Store) Put(ctx context.Context, generation, key string, res serializer.StoredResponse, ttl time.Duration) (*Entry, error) {
	res.StoredAt = s.now()
	res.TTL = ttl
	bts, err := serializer.StoredResponseToBytes(res)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.provider.Put(ctx, generation, key, bts); err != nil {
		return nil, fmt.Errorf("put %s in %s: %w", key, generation, err)
	}
	stored, err := serializer.BytesToStoredResponse(bts)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &Entry{Generation: generation, Key: key, StoredResponse: stored}, nil
}

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, generation, key string) error {
	if err := s.provider.Purge(ctx, generation, key); err != nil {
		return fmt.Errorf("delete %s from %s: %w", key, generation, err)
	}
	return nil
}

// Generations returns the names of all generations.
func (s *Store) Generations(ctx context.Context) ([]string, error) {
	names, err := s.provider.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return names, nil
}

// DeleteGeneration removes the generation and all of its entries.
func (s *Store) DeleteGeneration(ctx context.Context, generation string) error {
	if err := s.provider.PurgeGeneration(ctx, generation); err != nil {
		return fmt.Errorf("delete generation %s: %w", generation, err)
	}
	return nil
}
