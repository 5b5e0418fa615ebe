package offlinecache

import (
	"context"
	"net/http"
)

type navigationKey struct{}

// WithNavigation marks requests carrying the context as top-level navigations.
func WithNavigation(ctx context.Context) context.Context {
	return context.WithValue(ctx, navigationKey{}, true)
}

// IsNavigation reports whether the request loads the application shell itself:
// either marked with WithNavigation or sent by a browser with `Sec-Fetch-Mode: navigate`.
func IsNavigation(r *http.Request) bool {
	if nav, ok := r.Context().Value(navigationKey{}).(bool); ok && nav {
		return true
	}
	return r.Header.Get("Sec-Fetch-Mode") == "navigate"
}
