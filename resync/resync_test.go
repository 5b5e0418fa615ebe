package resync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestTriggerRunsTask(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	ran := 0
	r.Register(BackgroundSync, TaskFunc(func(ctx context.Context) error {
		ran++
		return nil
	}))

	if err := r.Trigger(context.Background(), BackgroundSync); err != nil {
		t.Fatal(err)
	}
	if ran != 1 {
		t.Fatalf("Task ran %d times", ran)
	}
}

func TestTriggerSwallowsFailures(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	r.Register("fails", TaskFunc(func(ctx context.Context) error {
		return errors.New("offline")
	}))
	r.Register("panics", TaskFunc(func(ctx context.Context) error {
		panic("boom")
	}))

	for _, name := range []string{"fails", "panics"} {
		if err := r.Trigger(context.Background(), name); err != nil {
			t.Fatalf("Trigger(%s) returned %v", name, err)
		}
	}
}

func TestTriggerUnknown(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	if err := r.Trigger(context.Background(), "sync-flights"); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("Error is %v", err)
	}
}

func TestTriggers(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	noop := TaskFunc(func(ctx context.Context) error { return nil })
	r.Register(BackgroundSync, noop)
	r.Register("alerts", noop)
	if got := r.Triggers(); !reflect.DeepEqual(got, []string{"alerts", BackgroundSync}) {
		t.Fatalf("Triggers are %v", got)
	}
}

type handlerFunc func(r *http.Request) (*http.Response, error)

func (f handlerFunc) Handle(r *http.Request) (*http.Response, error) {
	return f(r)
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

func TestFetchTask(t *testing.T) {
	var mu sync.Mutex
	var fetched []string
	task := FetchTask{
		Handler: handlerFunc(func(r *http.Request) (*http.Response, error) {
			mu.Lock()
			defer mu.Unlock()
			fetched = append(fetched, r.URL.Path)
			return response(http.StatusOK), nil
		}),
		Paths:       []string{"/api/flights", "/api/prices", "/api/airports"},
		Concurrency: 2,
	}

	if err := task.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	sort.Strings(fetched)
	if want := []string{"/api/airports", "/api/flights", "/api/prices"}; !reflect.DeepEqual(fetched, want) {
		t.Fatalf("Fetched %v", fetched)
	}
}

func TestFetchTaskFailure(t *testing.T) {
	var mu sync.Mutex
	count := 0
	task := FetchTask{
		Handler: handlerFunc(func(r *http.Request) (*http.Response, error) {
			mu.Lock()
			count++
			mu.Unlock()
			switch r.URL.Path {
			case "/api/prices":
				return response(http.StatusServiceUnavailable), nil
			case "/api/flights":
				return nil, fmt.Errorf("connection refused")
			}
			return response(http.StatusOK), nil
		}),
		Paths: []string{"/api/flights", "/api/prices", "/api/airports"},
	}

	if err := task.Run(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	// every path is attempted
	if count != 3 {
		t.Fatalf("Fetched %d paths", count)
	}
}
