package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	// StoredAtHeaderName records when the response was written to the cache,
	// in milliseconds since the epoch.
	StoredAtHeaderName = "X-Cache-Stored-At"
	// TTLHeaderName records the time to live the response was stored with, in milliseconds.
	TTLHeaderName = "X-Cache-Ttl"
)

// NoTTL marks a stored response without a recorded time to live.
const NoTTL time.Duration = -1

// StoredResponse is a response as kept in the cache.
// The stamped metadata travels inside the response headers, so freshness
// can be recomputed from the stored bytes alone.
type StoredResponse struct {
	StatusCode int
	// Status is the status line text, e.g. "200 OK".
	Status string
	Header http.Header
	Body   []byte
	// When the response was stored. Zero if unknown.
	StoredAt time.Time
	// How long the response stays fresh. NoTTL if unknown.
	TTL time.Duration
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the stored response,
// including the metadata headers.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	header := sRes.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del(StoredAtHeaderName)
	header.Del(TTLHeaderName)
	if !sRes.StoredAt.IsZero() {
		header.Set(StoredAtHeaderName, strconv.FormatInt(sRes.StoredAt.UnixMilli(), 10))
	}
	if sRes.TTL >= 0 {
		header.Set(TTLHeaderName, strconv.FormatInt(sRes.TTL.Milliseconds(), 10))
	}
	res := &http.Response{
		Status:        sRes.Status,
		StatusCode:    sRes.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(sRes.Body)),
		ContentLength: int64(len(sRes.Body)),
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse parses bytes written by StoredResponseToBytes.
// Missing or malformed metadata headers leave StoredAt zero and TTL at NoTTL.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{TTL: NoTTL}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return sRes, fmt.Errorf("read response: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return sRes, fmt.Errorf("read response body: %w", err)
	}
	sRes.StatusCode = res.StatusCode
	sRes.Status = res.Status
	sRes.Header = res.Header
	sRes.Body = body
	if ms, err := strconv.ParseInt(res.Header.Get(StoredAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(res.Header.Get(TTLHeaderName), 10, 64); err == nil && ms >= 0 {
		sRes.TTL = time.Duration(ms) * time.Millisecond
	}
	return sRes, nil
}

// Response returns a new *http.Response reading from a copy of the stored body.
// Each call returns an independent response.
func (s StoredResponse) Response(req *http.Request) *http.Response {
	status := s.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode))
	}
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        status,
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}
