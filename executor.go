package offlinecache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// networkOnly returns the network result unmodified and never touches the store.
func (c *Cache) networkOnly(r *http.Request, reason CacheStatusFwdReason) (*http.Response, error) {
	res, err := c.fetcher.Fetch(r)
	if err != nil {
		return nil, err
	}
	var cs CacheStatus
	cs.Forward(reason)
	setCacheStatus(res, cs)
	return res, nil
}

// cacheOnly returns the fresh stored response, without falling back to the network.
func (c *Cache) cacheOnly(r *http.Request, key, generation string) (*http.Response, error) {
	entry, err := c.store.Lookup(r.Context(), generation, key)
	if err != nil {
		c.getLogger(r).Warn().Err(err).Str("key", key).Msg("Could not read from cache")
	}
	if entry == nil {
		return nil, ErrNotCached
	}
	var cs CacheStatus
	cs.Hit()
	return c.storedResponse(r, entry, cs), nil
}

// networkFirst prefers a live response. On transport failure it falls back
// to the stored response regardless of its age, then to the offline response
// for the api generation.
func (c *Cache) networkFirst(r *http.Request, key, generation string, ttl time.Duration) (*http.Response, error) {
	log := c.getLogger(r)
	res, body, err := c.fetch(r)
	if err == nil {
		var cs CacheStatus
		cs.Forward(CacheStatusFwdRequest)
		if c.write(r, key, generation, res, body, ttl) {
			cs.Stored()
		}
		setCacheStatus(res, cs)
		return res, nil
	}

	log.Warn().Err(err).Str("key", key).Msg("Network unavailable, falling back to cache")
	// availability wins over freshness: the entry is served even if stale
	if entry := c.get(r, key, generation); entry != nil {
		var cs CacheStatus
		cs.Hit()
		cs.Detail(detailOffline)
		return c.storedResponse(r, entry, cs), nil
	}
	if generation == c.apiGeneration {
		return offlineResponse(r), nil
	}
	return nil, err
}

// cacheFirst serves any stored response immediately and refreshes it in the
// background. Without a stored response it fetches synchronously.
func (c *Cache) cacheFirst(r *http.Request, key, generation string, ttl time.Duration) (*http.Response, error) {
	if entry := c.get(r, key, generation); entry != nil {
		var cs CacheStatus
		cs.Hit()
		if !cache.IsFresh(*entry, c.store.Now()) {
			cs.Detail(detailStale)
		}
		c.revalidator.schedule(r, key, generation, ttl)
		return c.storedResponse(r, entry, cs), nil
	}

	res, body, err := c.fetch(r)
	if err != nil {
		return nil, err
	}
	var cs CacheStatus
	cs.Forward(CacheStatusFwdUriMiss)
	if c.write(r, key, generation, res, body, ttl) {
		cs.Stored()
	}
	setCacheStatus(res, cs)
	return res, nil
}

// appShell returns the stored root document for navigation requests, or nil.
func (c *Cache) appShell(r *http.Request) *http.Response {
	key := c.keyer.KeyForPath("/")
	entry, err := c.store.Get(r.Context(), c.staticGeneration, key)
	if err != nil {
		c.getLogger(r).Warn().Err(err).Str("key", key).Msg("Could not read application shell from cache")
		return nil
	}
	if entry == nil {
		return nil
	}
	var cs CacheStatus
	cs.Hit()
	cs.Detail(detailNavigation)
	return c.storedResponse(r, entry, cs)
}

// refresh fetches the request and overwrites the stored entry on success.
func (c *Cache) refresh(r *http.Request, key, generation string, ttl time.Duration) error {
	res, body, err := c.fetch(r)
	if err != nil {
		return err
	}
	if !isSuccess(res.StatusCode) {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	if !c.write(r, key, generation, res, body, ttl) {
		return fmt.Errorf("could not store %s", key)
	}
	return nil
}

// fetch issues the network request and buffers the response body.
// A body that cannot be read counts as a transport failure.
func (c *Cache) fetch(r *http.Request) (*http.Response, []byte, error) {
	res, err := c.fetcher.Fetch(r)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return res, body, nil
}

// get returns the stored entry regardless of freshness.
// Store failures are logged and treated as a miss.
func (c *Cache) get(r *http.Request, key, generation string) *cache.Entry {
	entry, err := c.store.Get(r.Context(), generation, key)
	if err != nil {
		c.getLogger(r).Warn().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil
	}
	return entry
}

// write stores a successful response. It reports whether the response was stored.
// The write is detached from the request context.
func (c *Cache) write(r *http.Request, key, generation string, res *http.Response, body []byte, ttl time.Duration) bool {
	log := c.getLogger(r)
	if !isSuccess(res.StatusCode) {
		log.Trace().Str("key", key).Int("http-status", res.StatusCode).Msg("Non-cacheable response")
		return false
	}
	sRes := serializer.StoredResponse{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Header:     res.Header.Clone(),
		Body:       body,
	}
	if _, err := c.store.Put(detach(r), generation, key, sRes, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not write to cache")
		return false
	}
	log.Trace().Str("key", key).Str("generation", generation).Dur("ttl", ttl).Msg("Cache write")
	return true
}

func (c *Cache) storedResponse(r *http.Request, entry *cache.Entry, cs CacheStatus) *http.Response {
	res := entry.Response(r)
	setCacheStatus(res, cs)
	return res
}

func setCacheStatus(res *http.Response, cs CacheStatus) {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(cacheStatusHeaderName, cs.String())
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
