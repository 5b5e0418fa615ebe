package resync

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Handler answers requests. *offlinecache.Cache is a Handler, so fetching
// through it warms the cache.
type Handler interface {
	Handle(r *http.Request) (*http.Response, error)
}

// FetchTask GETs a list of paths in parallel.
type FetchTask struct {
	Handler Handler
	Paths   []string
	// Maximum number of parallel requests. Unlimited if zero.
	Concurrency int
}

// Run fetches every path. All paths are attempted; the first failure is returned.
// A non-2xx response counts as a failure.
func (t FetchTask) Run(ctx context.Context) error {
	var eg errgroup.Group
	if t.Concurrency > 0 {
		eg.SetLimit(t.Concurrency)
	}
	for _, path := range t.Paths {
		path := path
		eg.Go(func() error {
			return t.fetch(ctx, path)
		})
	}
	return eg.Wait()
}

func (t FetchTask) fetch(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", path, err)
	}
	res, err := t.Handler.Handle(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: unexpected status %d", path, res.StatusCode)
	}
	return nil
}
