package offlinecache

import (
	"fmt"
	"strings"
	"time"
)

// Strategy decides whether a request prefers the network or the cache.
type Strategy string

const (
	NetworkFirst Strategy = "network-first"
	CacheFirst   Strategy = "cache-first"
	NetworkOnly  Strategy = "network-only"
	CacheOnly    Strategy = "cache-only"
)

// ParseStrategy returns the strategy with the given name.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(strings.TrimSpace(name)); s {
	case NetworkFirst, CacheFirst, NetworkOnly, CacheOnly:
		return s, nil
	}
	return "", fmt.Errorf("unknown strategy %q", name)
}

// Binding binds a path prefix to a strategy and a time to live.
type Binding struct {
	Prefix   string
	Strategy Strategy
	TTL      time.Duration
}

// DefaultBinding applies when no binding of a table matches.
var DefaultBinding = Binding{Strategy: NetworkFirst, TTL: 5 * time.Minute}

// Table is an ordered list of bindings. The first binding whose prefix
// matches the request path wins.
type Table struct {
	Bindings []Binding
	// Default is used when nothing matches. DefaultBinding if zero.
	Default Binding
}

// Resolve returns the strategy and time to live for a request path.
// Matching is prefix-based and case-sensitive.
func (t Table) Resolve(path string) (Strategy, time.Duration) {
	for _, b := range t.Bindings {
		if strings.HasPrefix(path, b.Prefix) {
			return b.Strategy, b.TTL
		}
	}
	if t.Default.Strategy == "" {
		return DefaultBinding.Strategy, DefaultBinding.TTL
	}
	return t.Default.Strategy, t.Default.TTL
}

// DefaultTable returns the bindings used by the flight dashboard.
func DefaultTable() Table {
	return Table{
		Bindings: []Binding{
			{Prefix: "/api/auth", Strategy: NetworkOnly},
			{Prefix: "/api/flights", Strategy: NetworkFirst, TTL: 2 * time.Minute},
			{Prefix: "/api/prices", Strategy: NetworkFirst, TTL: 5 * time.Minute},
			{Prefix: "/api/airports", Strategy: CacheFirst, TTL: 24 * time.Hour},
			{Prefix: "/api/airlines", Strategy: CacheFirst, TTL: 24 * time.Hour},
			{Prefix: "/static/", Strategy: CacheFirst, TTL: 7 * 24 * time.Hour},
			{Prefix: "/icons/", Strategy: CacheFirst, TTL: 30 * 24 * time.Hour},
			{Prefix: "/offline", Strategy: CacheOnly, TTL: 24 * time.Hour},
		},
		Default: DefaultBinding,
	}
}

// DefaultManifest lists the application shell assets pre-cached on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/static/js/main.js",
	"/static/css/main.css",
	"/icons/icon-192x192.png",
	"/offline",
}
