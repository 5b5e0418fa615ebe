package offlinecache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a cache version.
type State int32

const (
	StateInstalling State = iota
	// Installed and waiting for activation. A new version does not wait for
	// old consumers; it may be activated right away.
	StateInstalled
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	return State(c.state.Load())
}

// InstallReport lists the manifest paths that were and were not pre-cached.
type InstallReport struct {
	Cached []string
	Failed []string
}

// Start installs and immediately activates the cache.
func (c *Cache) Start(ctx context.Context) (InstallReport, error) {
	report := c.Install(ctx)
	return report, c.Activate(ctx)
}

// Install pre-caches the manifest into the static generation.
// Every asset is fetched independently; failures are logged and reported,
// never returned, so installation always completes.
// On an active cache, Install refreshes the static generation and the cache
// keeps intercepting requests.
func (c *Cache) Install(ctx context.Context) InstallReport {
	active := c.State() == StateActive
	if !active {
		c.state.Store(int32(StateInstalling))
	}
	c.log.Info().Int("assets", len(c.manifest)).Str("generation", c.staticGeneration).Msg("Installing")

	var (
		report InstallReport
		mu     sync.Mutex
		eg     errgroup.Group
	)
	eg.SetLimit(c.installConcurrency)
	for _, path := range c.manifest {
		path := path
		eg.Go(func() error {
			err := c.precache(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Str("path", path).Msg("Could not pre-cache asset")
				report.Failed = append(report.Failed, path)
			} else {
				report.Cached = append(report.Cached, path)
			}
			return nil
		})
	}
	eg.Wait()
	sort.Strings(report.Cached)
	sort.Strings(report.Failed)

	if !active {
		c.state.Store(int32(StateInstalled))
	}
	c.log.Info().Strs("cached", report.Cached).Strs("failed", report.Failed).Msg("Installed")
	return report
}

// precache fetches a manifest path and stores it in the static generation.
func (c *Cache) precache(ctx context.Context, path string) error {
	key := c.keyer.KeyForPath(path)
	req, err := c.keyer.GetRequestFromKey(key)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	res, body, err := c.fetch(req)
	if err != nil {
		return err
	}
	if !isSuccess(res.StatusCode) {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	_, ttl := c.table.Resolve(req.URL.Path)
	if !c.write(req, key, c.staticGeneration, res, body, ttl) {
		return fmt.Errorf("could not store %s", key)
	}
	return nil
}

// Activate deletes every generation that does not belong to the current version
// and starts intercepting requests for all consumers.
// Requests are intercepted even if old generations could not be listed or deleted;
// the returned error reports such failures.
func (c *Cache) Activate(ctx context.Context) error {
	c.state.Store(int32(StateActivating))
	defer c.state.Store(int32(StateActive))

	generations, err := c.store.Generations(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not list generations")
		return err
	}
	var firstErr error
	for _, name := range generations {
		if name == c.staticGeneration || name == c.apiGeneration {
			continue
		}
		c.log.Info().Str("generation", name).Msg("Deleting old generation")
		if err := c.store.DeleteGeneration(ctx, name); err != nil {
			c.log.Error().Err(err).Str("generation", name).Msg("Could not delete old generation")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.log.Info().Msg("Activated")
	return firstErr
}
