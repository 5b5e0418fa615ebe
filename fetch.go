package offlinecache

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
)

// Fetcher performs network requests on behalf of the cache.
// An error means the network could not be reached; any HTTP status,
// including 5xx, is a successful fetch.
type Fetcher interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

// HTTPFetcher fetches requests from an origin server.
// Requests for absolute URLs on other hosts are sent to those hosts.
type HTTPFetcher struct {
	originURL     url.URL
	originHost    string
	httpClient    http.Client
	foreignClient http.Client
}

// NewHTTPFetcher returns a fetcher forwarding requests to originURL.
// If originHost is set, it is used as Host header and TLS server name.
func NewHTTPFetcher(originURL url.URL, originHost string) *HTTPFetcher {
	// do not follow redirects
	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	f := &HTTPFetcher{
		originURL:     originURL,
		originHost:    originHost,
		httpClient:    http.Client{CheckRedirect: noRedirect},
		foreignClient: http.Client{CheckRedirect: noRedirect},
	}
	// use provided hostname for origin if configured
	if originHost != "" {
		f.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return f
}

// Fetch the resource specified in the incoming request from the origin.
func (f *HTTPFetcher) Fetch(r *http.Request) (*http.Response, error) {
	foreign := f.foreign(r)
	uri := f.originURL.Scheme + "://" + f.originURL.Host + r.URL.RequestURI()
	if foreign {
		uri = r.URL.String()
	}
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", uri, err)
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	if foreign {
		return f.foreignClient.Do(req)
	}
	if f.originHost != "" {
		req.Host = f.originHost
	}
	return f.httpClient.Do(req)
}

// foreign reports whether the request targets a host other than the origin.
func (f *HTTPFetcher) foreign(r *http.Request) bool {
	if !r.URL.IsAbs() || r.URL.Host == "" {
		return false
	}
	return !strings.EqualFold(r.URL.Scheme, f.originURL.Scheme) || !strings.EqualFold(r.URL.Host, f.originURL.Host)
}

// HandlerFetcher uses an in-process handler as the network.
// A panicking handler is reported as a fetch error.
func HandlerFetcher(next http.Handler) Fetcher {
	return FetcherFunc(func(r *http.Request) (res *http.Response, err error) {
		defer func() {
			if p := recover(); p != nil {
				res, err = nil, fmt.Errorf("handler panic: %v", p)
			}
		}()
		rw := tee.NewResponseSaver(nil)
		next.ServeHTTP(rw, r)
		return rw.Result(r), nil
	})
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
