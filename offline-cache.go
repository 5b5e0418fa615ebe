package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// ErrNotCached is returned for cache-only requests without a stored response.
var ErrNotCached = errors.New("no cached response")

const (
	staticKind = "static"
	apiKind    = "api"
)

type Config struct {
	// Storage for cache entries. An in-memory cache is used if nil.
	Cache cache.Provider
	// URL of the origin server. Request identities are scoped to it.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Network to use. Requests are forwarded to OriginURL if nil.
	Fetcher Fetcher
	// Version baked into generation names, e.g. "v3" gives `static-v3` and `api-v3`.
	Version string
	// Path prefix of requests stored in the api generation. Defaults to `/api/`.
	APIPrefix string
	// Strategy bindings. DefaultTable is used if it has no bindings.
	Table Table
	// Paths pre-cached into the static generation on install. DefaultManifest if nil.
	Manifest []string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Maximum number of concurrent background revalidations. Defaults to 4.
	RevalidateConcurrency int
	// Maximum number of concurrent manifest fetches on install. Defaults to 4.
	InstallConcurrency int
	// Clock for stamping and expiring entries. Defaults to time.Now.
	Now func() time.Time
}

// Cache intercepts requests and answers them from the network or the cache
// according to the strategy bound to the request path.
type Cache struct {
	store              *cache.Store
	keyer              cachekey.CacheKeyer
	fetcher            Fetcher
	table              Table
	apiPrefix          string
	staticGeneration   string
	apiGeneration      string
	manifest           []string
	installConcurrency int
	log                zerolog.Logger
	state              atomic.Int32
	revalidator        *revalidator
}

// New initializes the cache. It does not intercept requests until
// it has been activated (see Start).
func New(config Config) *Cache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	origin := config.OriginURL
	if origin.Host == "" {
		origin = url.URL{Scheme: "http", Host: "localhost"}
	}
	version := config.Version
	if version == "" {
		version = "v1"
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", origin.String()).
		Str("version", version).
		Logger()

	provider := config.Cache
	if provider == nil {
		provider = cache.NewMemCache()
	}
	fetcher := config.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(origin, config.OriginHost)
	}
	table := config.Table
	if len(table.Bindings) == 0 && table.Default.Strategy == "" {
		table = DefaultTable()
	}
	manifest := config.Manifest
	if manifest == nil {
		manifest = DefaultManifest
	}
	apiPrefix := config.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}
	installConcurrency := config.InstallConcurrency
	if installConcurrency <= 0 {
		installConcurrency = 4
	}

	c := &Cache{
		store:              cache.NewStore(provider, config.Now),
		keyer:              cachekey.NewCacheKeyer(origin),
		fetcher:            fetcher,
		table:              table,
		apiPrefix:          apiPrefix,
		staticGeneration:   StaticGeneration(version),
		apiGeneration:      APIGeneration(version),
		manifest:           manifest,
		installConcurrency: installConcurrency,
		log:                logger,
	}
	c.revalidator = newRevalidator(config.RevalidateConcurrency, logger, c.refresh)
	return c
}

// StaticGeneration returns the name of the static generation for a version.
func StaticGeneration(version string) string {
	return staticKind + "-" + version
}

// APIGeneration returns the name of the api generation for a version.
func APIGeneration(version string) string {
	return apiKind + "-" + version
}

// Middleware uses next as the network and returns the cache as a handler.
// It must be called before the cache serves any request.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	c.fetcher = HandlerFetcher(next)
	return c
}

// Store returns the store backing the cache.
func (c *Cache) Store() *cache.Store {
	return c.store
}

// Wait blocks until all background revalidations have finished.
func (c *Cache) Wait() {
	c.revalidator.wait()
}

// ServeHTTP implements the http.Handler interface.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer c.recover(w, r)
	res, err := c.Handle(r)
	if errors.Is(err, ErrNotCached) {
		http.Error(w, "Not available offline", http.StatusGatewayTimeout)
		return
	}
	if err != nil {
		c.getLogger(r).Error().Err(err).Str("url", r.URL.String()).Msg("Could not fetch response from origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	c.send(w, r, res)
}

// Handle is the single entry point of the cache: it resolves the strategy
// for the request and returns the response to give back to the caller.
// The error is non-nil only when the network failed and no fallback exists,
// or when a cache-only request has no stored response (ErrNotCached).
func (c *Cache) Handle(r *http.Request) (*http.Response, error) {
	log := c.getLogger(r)
	key, reason := c.intercepts(r)
	if reason != "" {
		log.Trace().Str("method", r.Method).Str("url", r.URL.String()).Msg("Not intercepting request")
		return c.networkOnly(r, reason)
	}

	generation := c.generationFor(r.URL.Path)
	strategy, ttl := c.table.Resolve(r.URL.Path)
	log.Trace().
		Str("key", key).
		Str("generation", generation).
		Str("strategy", string(strategy)).
		Dur("ttl", ttl).
		Msg("Incoming request")

	if IsNavigation(r) {
		if res := c.appShell(r); res != nil {
			return res, nil
		}
		return c.cacheFirst(r, key, generation, ttl)
	}

	switch strategy {
	case NetworkOnly:
		return c.networkOnly(r, CacheStatusFwdBypass)
	case CacheOnly:
		return c.cacheOnly(r, key, generation)
	case CacheFirst:
		return c.cacheFirst(r, key, generation, ttl)
	default:
		return c.networkFirst(r, key, generation, ttl)
	}
}

// intercepts returns the request identity, or the reason for forwarding
// the request without involving the cache.
// Only active caches intercept, and only same-origin GET requests.
func (c *Cache) intercepts(r *http.Request) (string, CacheStatusFwdReason) {
	if c.State() != StateActive {
		return "", CacheStatusFwdBypass
	}
	if r.Method != http.MethodGet {
		return "", CacheStatusFwdMethod
	}
	key, err := c.keyer.GetKey(r)
	if err != nil {
		return "", CacheStatusFwdBypass
	}
	return key, ""
}

func (c *Cache) generationFor(path string) string {
	if strings.HasPrefix(path, c.apiPrefix) {
		return c.apiGeneration
	}
	return c.staticGeneration
}

// recover recovers from panics and answers with a bad gateway.
func (c *Cache) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		c.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("url", r.URL.String()).Msg("Panic in cache handler")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
	}
}

func (c *Cache) send(w http.ResponseWriter, r *http.Request, res *http.Response) {
	log := c.getLogger(r)
	log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("status", res.StatusCode).
		Str("cacheStatus", res.Header.Get(cacheStatusHeaderName)).
		Msg("Sending response to client")

	if res.Body != nil {
		defer res.Body.Close()
	}
	for k, vv := range res.Header {
		w.Header()[k] = append(w.Header()[k], vv...)
	}
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
	log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the cache logger.
func (c *Cache) getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &c.log
	}
	return logger
}

// detach returns a context that is not cancelled with the caller's request,
// so that cache writes complete even if the caller goes away.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
