package offlinecache

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

type refreshFunc func(r *http.Request, key, generation string, ttl time.Duration) error

// revalidator runs background refreshes of stored entries.
// Refreshes are fire-and-forget: at most `limit` run at once, concurrent
// refreshes of the same entry share one fetch, and a refresh that cannot get
// a slot is dropped.
type revalidator struct {
	slots   *semaphore.Weighted
	flights singleflight.Group
	running sync.WaitGroup
	log     zerolog.Logger
	refresh refreshFunc
}

func newRevalidator(limit int, log zerolog.Logger, refresh refreshFunc) *revalidator {
	if limit <= 0 {
		limit = 4
	}
	return &revalidator{
		slots:   semaphore.NewWeighted(int64(limit)),
		log:     log,
		refresh: refresh,
	}
}

// schedule refreshes the entry for key in the background.
// The refresh is not tied to the lifetime of r.
func (u *revalidator) schedule(r *http.Request, key, generation string, ttl time.Duration) {
	if !u.slots.TryAcquire(1) {
		u.log.Trace().Str("key", key).Msg("Revalidation pool full, skipping")
		return
	}
	req := r.Clone(detach(r))
	u.running.Add(1)
	go func() {
		defer u.running.Done()
		defer u.slots.Release(1)
		defer func() {
			if err := recover(); err != nil {
				u.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("key", key).Msg("Panic in revalidation")
			}
		}()
		_, err, shared := u.flights.Do(generation+"\n"+key, func() (interface{}, error) {
			return nil, u.refresh(req, key, generation, ttl)
		})
		if err != nil {
			u.log.Trace().Err(err).Str("key", key).Msg("Revalidation failed, keeping stored response")
			return
		}
		u.log.Trace().Str("key", key).Bool("shared", shared).Msg("Revalidated stored response")
	}()
}

// wait blocks until all scheduled refreshes have returned.
func (u *revalidator) wait() {
	u.running.Wait()
}
