package cachekey

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var ErrCrossOrigin = errors.New("request is not same-origin")

const methodSeparator = ":"

// CacheKeyer builds request identities for a single origin.
type CacheKeyer struct {
	// Origin all identities are scoped to, e.g. `https://flights.example.com`.
	Origin url.URL
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(origin url.URL) CacheKeyer {
	o := url.URL{Scheme: strings.ToLower(origin.Scheme), Host: strings.ToLower(origin.Host)}
	return CacheKeyer{
		Origin:       o,
		OriginPrefix: o.String(),
	}
}

// SameOrigin reports whether the request targets the keyer origin.
// Requests with a relative URL (as received by a server) are same-origin.
func (c CacheKeyer) SameOrigin(r *http.Request) bool {
	if r.URL.Host == "" {
		return true
	}
	return strings.EqualFold(r.URL.Scheme, c.Origin.Scheme) && strings.EqualFold(r.URL.Host, c.Origin.Host)
}

// AbsoluteURL returns the absolute URL of a same-origin request.
func (c CacheKeyer) AbsoluteURL(r *http.Request) (string, error) {
	if !c.SameOrigin(r) {
		return "", ErrCrossOrigin
	}
	return c.OriginPrefix + r.URL.RequestURI(), nil
}

// GetKey returns the canonical identity for a request: method and absolute URL.
func (c CacheKeyer) GetKey(r *http.Request) (string, error) {
	abs, err := c.AbsoluteURL(r)
	if err != nil {
		return "", err
	}
	return r.Method + methodSeparator + abs, nil
}

// KeyForPath returns the identity of a GET request for the given path
// (optionally with a query) on the keyer origin.
func (c CacheKeyer) KeyForPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return http.MethodGet + methodSeparator + c.OriginPrefix + path
}

// GetRequestFromKey creates a request equal to the one that resulted in the provided key.
// Only keys for the keyer origin are accepted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || !strings.HasPrefix(uri, c.OriginPrefix) {
		return nil, ErrCrossOrigin
	}
	return http.NewRequest(method, uri, nil)
}
