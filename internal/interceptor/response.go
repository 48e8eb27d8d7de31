package interceptor

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/kimhsiao/habitnexus/internal/models"
)

// Headers set on responses that did not come from the network.
const (
	HeaderQueued     = "X-Habitd-Queued"
	HeaderOffline    = "X-Habitd-Offline"
	HeaderCache      = "X-Habitd-Cache"
	HeaderQueueError = "X-Habitd-Queue-Error"
)

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func jsonResponse(req *http.Request, status int, v interface{}) *http.Response {
	body, _ := json.Marshal(v)
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return newResponse(req, status, h, body)
}

// queuedResponse is the optimistic 202 returned when a mutation was queued.
func queuedResponse(req *http.Request, id models.UUID) *http.Response {
	resp := jsonResponse(req, http.StatusAccepted, map[string]interface{}{
		"queued": true,
		"id":     id,
	})
	resp.Header.Set(HeaderQueued, id.String())
	return resp
}

// unavailableResponse is returned when neither network nor cache can answer.
func unavailableResponse(req *http.Request) *http.Response {
	resp := jsonResponse(req, http.StatusServiceUnavailable, map[string]interface{}{
		"error":   "unavailable",
		"offline": true,
	})
	resp.Header.Set(HeaderOffline, "1")
	return resp
}

// offlinePageResponse is the last-resort navigational answer.
func offlinePageResponse(req *http.Request) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set(HeaderOffline, "1")
	return newResponse(req, http.StatusServiceUnavailable, h,
		[]byte("<!doctype html><title>Offline</title><p>You are offline. Changes will sync when the connection returns.</p>"))
}

func cachedResponse(req *http.Request, c *models.CachedResponse) *http.Response {
	h := c.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(HeaderCache, "hit")
	return newResponse(req, c.StatusCode, h, c.Body)
}

// IsQueued reports whether resp is the synthetic 202 for a queued mutation.
func IsQueued(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusAccepted && resp.Header.Get(HeaderQueued) != ""
}

// IsOffline reports whether resp is a synthetic offline answer.
func IsOffline(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderOffline) != ""
}
