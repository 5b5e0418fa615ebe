package offlinecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/offline-cache/cache"
)

func TestInstallPartialFailure(t *testing.T) {
	manifest := []string{"/", "/index.html", "/manifest.json", "/static/js/main.js", "/static/css/main.css"}
	net := &network{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/manifest.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("asset " + r.URL.Path))
	})}
	logger := zerolog.Nop()
	c := New(Config{Fetcher: net, Manifest: manifest, Logger: &logger})

	report := c.Install(context.Background())

	if c.State() != StateInstalled {
		t.Fatalf("State is %s", c.State())
	}
	if want := []string{"/manifest.json"}; !reflect.DeepEqual(report.Failed, want) {
		t.Fatalf("Failed is %v", report.Failed)
	}
	if want := []string{"/", "/index.html", "/static/css/main.css", "/static/js/main.js"}; !reflect.DeepEqual(report.Cached, want) {
		t.Fatalf("Cached is %v", report.Cached)
	}
	for _, path := range report.Cached {
		entry, err := c.Store().Get(context.Background(), StaticGeneration("v1"), c.keyer.KeyForPath(path))
		if err != nil || entry == nil {
			t.Fatalf("%s not pre-cached: %v", path, err)
		}
		if string(entry.Body) != "asset "+path {
			t.Fatalf("%s body is %s", path, entry.Body)
		}
	}
	entry, _ := c.Store().Get(context.Background(), StaticGeneration("v1"), c.keyer.KeyForPath("/manifest.json"))
	if entry != nil {
		t.Fatal("404 response was pre-cached")
	}
}

func TestInstallUsesBindingTTL(t *testing.T) {
	fetcher := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		return textResponse(r, http.StatusOK, "icon"), nil
	})
	logger := zerolog.Nop()
	c := New(Config{Fetcher: fetcher, Manifest: []string{"/icons/icon-192x192.png"}, Logger: &logger})

	c.Install(context.Background())

	entry, _ := c.Store().Get(context.Background(), StaticGeneration("v1"), c.keyer.KeyForPath("/icons/icon-192x192.png"))
	if entry == nil || entry.TTL != 30*24*time.Hour {
		t.Fatalf("Entry is %+v", entry)
	}
}

func TestInstallOffline(t *testing.T) {
	net := &network{offline: true}
	logger := zerolog.Nop()
	c := New(Config{Fetcher: net, Logger: &logger})

	report, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Cached) != 0 || len(report.Failed) != len(DefaultManifest) {
		t.Fatalf("Report is %+v", report)
	}
	if c.State() != StateActive {
		t.Fatalf("State is %s", c.State())
	}
}

func TestActivateDeletesOldGenerations(t *testing.T) {
	ctx := context.Background()
	provider := cache.NewMemCache()
	for _, gen := range []string{"static-v1", "api-v1", "static-v2", "api-v2", "images"} {
		if err := provider.Put(ctx, gen, "GET:http://localhost/", []byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
			t.Fatal(err)
		}
	}
	logger := zerolog.Nop()
	c := New(Config{Cache: provider, Version: "v2", Logger: &logger})

	if c.State() != StateInstalling {
		t.Fatalf("State is %s", c.State())
	}
	if err := c.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	gens, err := c.Store().Generations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"api-v2", "static-v2"}; !reflect.DeepEqual(gens, want) {
		t.Fatalf("Generations are %v", gens)
	}
	if c.State() != StateActive {
		t.Fatalf("State is %s", c.State())
	}
}

func TestDefaultOfflinePageServedAfterStart(t *testing.T) {
	net := &network{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	})}
	logger := zerolog.Nop()
	c := New(Config{Fetcher: net, Logger: &logger})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	net.SetOffline(true)

	// cache-only by the default table, so it must have been pre-cached
	res, err := c.Handle(httptest.NewRequest("GET", "/offline", nil))
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, res); body != "<html>/offline</html>" {
		t.Fatalf("Body is %s", body)
	}
}

func TestInstallOnActiveCacheKeepsIntercepting(t *testing.T) {
	var block atomic.Bool
	release := make(chan struct{})
	started := make(chan struct{})
	fetcher := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		// holds the reinstall open while requests are served
		if r.URL.Path == "/index.html" && block.Load() {
			close(started)
			<-release
		}
		return textResponse(r, http.StatusOK, "asset "+r.URL.Path), nil
	})
	logger := zerolog.Nop()
	c := New(Config{Fetcher: fetcher, Manifest: []string{"/", "/index.html"}, Logger: &logger})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	block.Store(true)
	done := make(chan InstallReport)
	go func() { done <- c.Install(context.Background()) }()
	<-started
	if c.State() != StateActive {
		t.Fatalf("State during reinstall is %s", c.State())
	}
	res, err := c.Handle(httptest.NewRequest("GET", "/static/js/main.js", nil))
	if err != nil {
		t.Fatal(err)
	}
	if cs := res.Header.Get("Cache-Status"); cs != "Offline-Cache; fwd=uri-miss; stored" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	close(release)
	report := <-done
	if len(report.Cached) != 2 || c.State() != StateActive {
		t.Fatalf("Report is %+v, state %s", report, c.State())
	}
}

func TestStartServesPrecachedShellOffline(t *testing.T) {
	net := &network{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	})}
	logger := zerolog.Nop()
	c := New(Config{Fetcher: net, Logger: &logger})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	net.SetOffline(true)

	req, _ := http.NewRequest("GET", "http://localhost/flights/AY123", nil)
	res, err := c.Handle(navigate(req))
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, res); body != "<html>/</html>" {
		t.Fatalf("Body is %s", body)
	}
}

func navigate(r *http.Request) *http.Request {
	return r.WithContext(WithNavigation(r.Context()))
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateInstalling: "installing",
		StateInstalled:  "installed",
		StateActivating: "activating",
		StateActive:     "active",
		State(9):        "State(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %s, want %s", state, got, want)
		}
	}
}
