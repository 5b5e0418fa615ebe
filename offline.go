package offlinecache

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

type offlineBody struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

// offlineResponse is returned for api requests when neither the network
// nor the cache can answer.
func offlineResponse(r *http.Request) *http.Response {
	body, _ := json.Marshal(offlineBody{
		Error:   "Network unavailable",
		Offline: true,
		Message: "You are offline and this data has not been cached yet.",
	})
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	var cs CacheStatus
	cs.Forward(CacheStatusFwdUriMiss)
	cs.Detail(detailOffline)
	header.Set(cacheStatusHeaderName, cs.String())
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
