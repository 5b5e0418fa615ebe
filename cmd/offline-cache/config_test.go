package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

const testConfig = `
origin: https://flights.example.com
port: 9000
version: v3
manifest:
  - /
  - /index.html
sync:
  - /api/flights
bindings:
  - prefix: /api/auth
    strategy: network-only
  - prefix: /static/
    strategy: cache-first
    ttl: 168h
default:
  strategy: network-first
  ttl: 1m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestGetConfig(t *testing.T) {
	config, err := getConfig(writeConfig(t, testConfig), map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if config.Origin != "https://flights.example.com" || config.Port != 9000 || config.Version != "v3" {
		t.Fatalf("Config is %+v", config)
	}
	if !reflect.DeepEqual(config.Manifest, []string{"/", "/index.html"}) {
		t.Fatalf("Manifest is %v", config.Manifest)
	}

	table, err := config.Table()
	if err != nil {
		t.Fatal(err)
	}
	want := offlinecache.Table{
		Bindings: []offlinecache.Binding{
			{Prefix: "/api/auth", Strategy: offlinecache.NetworkOnly, TTL: serializer.NoTTL},
			{Prefix: "/static/", Strategy: offlinecache.CacheFirst, TTL: 7 * 24 * time.Hour},
		},
		Default: offlinecache.Binding{Strategy: offlinecache.NetworkFirst, TTL: time.Minute},
	}
	if !reflect.DeepEqual(table, want) {
		t.Fatalf("Table is %+v", table)
	}
}

func TestGetConfigEnvOverrides(t *testing.T) {
	environ := map[string]string{
		"OFFLINE_CACHE_PORT":     "9090",
		"OFFLINE_CACHE_VERSION":  "v4",
		"OFFLINE_CACHE_MANIFEST": "/,/offline.html",
	}
	config, err := getConfig(writeConfig(t, testConfig), environ)
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 9090 || config.Version != "v4" {
		t.Fatalf("Config is %+v", config)
	}
	if !reflect.DeepEqual(config.Manifest, []string{"/", "/offline.html"}) {
		t.Fatalf("Manifest is %v", config.Manifest)
	}
	// not overridden
	if config.Origin != "https://flights.example.com" {
		t.Fatalf("Origin is %s", config.Origin)
	}
}

func TestGetConfigWithoutFile(t *testing.T) {
	config, err := getConfig("", map[string]string{"OFFLINE_CACHE_ORIGIN": "http://localhost:3000"})
	if err != nil {
		t.Fatal(err)
	}
	table, err := config.Table()
	if err != nil {
		t.Fatal(err)
	}
	if config.Origin != "http://localhost:3000" || len(table.Bindings) != 0 {
		t.Fatalf("Config is %+v", config)
	}
}

func TestConfigUnknownStrategy(t *testing.T) {
	config, err := getConfig(writeConfig(t, `
bindings:
  - prefix: /api/
    strategy: stale-while-revalidate
`), map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := config.Table(); err == nil {
		t.Fatal("Expected error for unknown strategy")
	}
}

func TestConfigBindingWithoutTTLNeverExpires(t *testing.T) {
	config, err := getConfig(writeConfig(t, `
bindings:
  - prefix: /offline
    strategy: cache-only
`), map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	table, err := config.Table()
	if err != nil {
		t.Fatal(err)
	}
	strategy, ttl := table.Resolve("/offline")
	if strategy != offlinecache.CacheOnly || ttl != serializer.NoTTL {
		t.Fatalf("Resolved %s with ttl %s", strategy, ttl)
	}

	// an entry stored with the resolved ttl stays readable
	ctx := context.Background()
	clock := time.UnixMilli(0)
	store := cache.NewStore(cache.NewMemCache(), func() time.Time { return clock })
	if _, err := store.Put(ctx, "static-v1", "GET:http://localhost/offline", serializer.StoredResponse{StatusCode: 200, Body: []byte("offline")}, ttl); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(365 * 24 * time.Hour)
	entry, err := store.Lookup(ctx, "static-v1", "GET:http://localhost/offline")
	if err != nil || entry == nil {
		t.Fatalf("Entry expired: %v %v", entry, err)
	}
}

func TestConfigInvalidTTL(t *testing.T) {
	config := Config{Bindings: []ConfigBinding{{Prefix: "/", Strategy: "cache-first", TTL: "a week"}}}
	if _, err := config.Table(); err == nil {
		t.Fatal("Expected error for invalid ttl")
	}
}
