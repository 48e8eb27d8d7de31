// Package interceptor sits between the application and the network. GET
// requests are answered with a per-route caching strategy; mutations pass
// through and are queued for later replay when the network fails.
package interceptor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/habitnexus/internal/cache"
	apperrors "github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
	"github.com/kimhsiao/habitnexus/internal/queue"
)

// cacheWriteTimeout bounds a background cache write.
const cacheWriteTimeout = 5 * time.Second

// Fetcher is the sole network primitive. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Events receives connectivity and queue signals observed while intercepting.
type Events interface {
	// ReportConnectivity is called after every network attempt.
	ReportConnectivity(online bool)
	// Enqueued is called after a mutation was durably queued.
	Enqueued(id models.UUID)
}

// Config holds route-classification settings.
type Config struct {
	APIPrefix        string
	StaticPrefixes   []string
	StaticExtensions []string
	// OfflinePage is the path served to navigations when nothing else is available.
	OfflinePage string
}

// DefaultConfig returns the default route classification.
func DefaultConfig() Config {
	return Config{
		APIPrefix:        "/api/",
		StaticPrefixes:   []string{"/static/", "/assets/"},
		StaticExtensions: defaultStaticExtensions,
		OfflinePage:      "/offline.html",
	}
}

// Interceptor applies caching strategies and the offline queue fallback.
type Interceptor struct {
	fetcher  Fetcher
	upstream *url.URL
	queue    queue.Store
	cache    cache.Store
	cfg      Config

	mu     sync.RWMutex
	events Events

	cacheWrites sync.WaitGroup
}

// New creates an Interceptor forwarding to upstream.
func New(fetcher Fetcher, upstream *url.URL, q queue.Store, c cache.Store, cfg Config) *Interceptor {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = DefaultConfig().APIPrefix
	}
	if cfg.StaticExtensions == nil {
		cfg.StaticExtensions = defaultStaticExtensions
	}
	return &Interceptor{
		fetcher:  fetcher,
		upstream: upstream,
		queue:    q,
		cache:    c,
		cfg:      cfg,
	}
}

// SetEvents registers the receiver of connectivity and enqueue signals.
func (i *Interceptor) SetEvents(e Events) {
	i.mu.Lock()
	i.events = e
	i.mu.Unlock()
}

func (i *Interceptor) reportConnectivity(online bool) {
	i.mu.RLock()
	e := i.events
	i.mu.RUnlock()
	if e != nil {
		e.ReportConnectivity(online)
	}
}

func (i *Interceptor) reportEnqueued(id models.UUID) {
	i.mu.RLock()
	e := i.events
	i.mu.RUnlock()
	if e != nil {
		e.Enqueued(id)
	}
}

// Upstream returns the base URL requests are forwarded to.
func (i *Interceptor) Upstream() *url.URL {
	return i.upstream
}

// Resolve turns an application path (with optional query) into an upstream URL.
func (i *Interceptor) Resolve(p string) (*url.URL, error) {
	ref, err := url.Parse(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid request path", err)
	}
	u := *i.upstream
	u.Path = joinPath(i.upstream.Path, ref.Path)
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	return &u, nil
}

func joinPath(base, p string) string {
	switch {
	case base == "" || base == "/":
		if !strings.HasPrefix(p, "/") {
			return "/" + p
		}
		return p
	case strings.HasSuffix(base, "/") && strings.HasPrefix(p, "/"):
		return base + p[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(p, "/"):
		return base + "/" + p
	}
	return base + p
}

// Do sends req through the strategy chosen by Classify. req.URL must be absolute.
//
// A non-nil error is returned only when a mutation could neither reach the
// network nor be queued; it carries a QUEUE_* code.
func (i *Interceptor) Do(req *http.Request) (*http.Response, error) {
	strategy := i.Classify(req)
	switch strategy {
	case StrategyPassThrough:
		return i.doMutation(req)
	case StrategyCacheFirst:
		return i.doCacheFirst(req), nil
	case StrategyPage:
		return i.doNetworkFirst(req, true), nil
	default:
		return i.doNetworkFirst(req, false), nil
	}
}

// fetch performs one network attempt. A transport error or 5xx is a failure;
// on 5xx the response is still returned so callers may pass it through.
func (i *Interceptor) fetch(req *http.Request) (*http.Response, error) {
	resp, err := i.fetcher.Do(req)
	if err != nil {
		i.reportConnectivity(false)
		return nil, apperrors.Wrap(apperrors.ErrNetworkUnavailable, "fetch failed", err)
	}
	i.reportConnectivity(true)
	if resp.StatusCode >= 500 {
		return resp, apperrors.New(apperrors.ErrNetworkUnavailable, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}
	return resp, nil
}

func (i *Interceptor) doMutation(req *http.Request) (*http.Response, error) {
	body, err := snapshotBody(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to read request body", err)
	}

	resp, fetchErr := i.fetch(req)
	if fetchErr == nil {
		return resp, nil
	}
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	opts := queueOptionsFrom(req)
	item := &models.QueuedRequest{
		URL:         req.URL.String(),
		Method:      req.Method,
		Headers:     replayHeaders(req.Header),
		Body:        body,
		Priority:    opts.Priority,
		RequestType: opts.RequestType,
	}

	// Enqueue must not inherit a request context that may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), 10*time.Second)
	defer cancel()

	id, err := i.queue.Enqueue(ctx, item)
	if err != nil {
		logging.ErrorWithCode("Mutation could not be queued", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"method": req.Method, "url": item.URL})
		return nil, err
	}

	logging.Info("Mutation queued for replay", map[string]interface{}{
		"id":           id.String(),
		"method":       req.Method,
		"url":          item.URL,
		"request_type": string(item.RequestType),
		"cause":        fetchErr.Error(),
	})
	i.reportEnqueued(id)
	return queuedResponse(req, id), nil
}

func (i *Interceptor) doCacheFirst(req *http.Request) *http.Response {
	key := cache.Key(req.URL)
	if cached := i.lookup(req.Context(), key); cached != nil {
		return cachedResponse(req, cached)
	}

	resp, err := i.fetch(req)
	if err != nil {
		if resp != nil {
			return resp
		}
		return unavailableResponse(req)
	}
	return i.store(key, resp)
}

func (i *Interceptor) doNetworkFirst(req *http.Request, page bool) *http.Response {
	key := cache.Key(req.URL)

	resp, err := i.fetch(req)
	if err == nil {
		return i.store(key, resp)
	}

	if cached := i.lookup(req.Context(), key); cached != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return cachedResponse(req, cached)
	}
	if page && i.cfg.OfflinePage != "" {
		if offline, perr := i.Resolve(i.cfg.OfflinePage); perr == nil {
			if cached := i.lookup(req.Context(), cache.Key(offline)); cached != nil {
				if resp != nil {
					resp.Body.Close()
				}
				return cachedResponse(req, cached)
			}
		}
	}
	if resp != nil {
		return resp
	}
	if page {
		return offlinePageResponse(req)
	}
	return unavailableResponse(req)
}

func (i *Interceptor) lookup(ctx context.Context, key string) *models.CachedResponse {
	if i.cache == nil {
		return nil
	}
	cached, ok, err := i.cache.Get(ctx, key)
	if err != nil {
		logging.Warn("Cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return nil
	}
	if !ok {
		return nil
	}
	return cached
}

// store buffers a successful response, schedules a background cache write
// and returns an equivalent response to the caller.
func (i *Interceptor) store(key string, resp *http.Response) *http.Response {
	if i.cache == nil || resp.StatusCode != http.StatusOK || noStore(resp.Header) {
		return resp
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		logging.Warn("Failed to buffer response for cache", map[string]interface{}{"key": key, "error": err.Error()})
		return unavailableResponse(resp.Request)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	entry := &models.CachedResponse{
		Key:        key,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
	}
	i.cacheWrites.Add(1)
	go func() {
		defer i.cacheWrites.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := i.cache.Put(ctx, entry); err != nil {
			logging.Warn("Cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}()
	return resp
}

// WaitCacheWrites blocks until background cache writes have finished.
func (i *Interceptor) WaitCacheWrites() {
	i.cacheWrites.Wait()
}

func noStore(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Cache-Control")), "no-store")
}

// snapshotBody reads the request body and rewinds it so it can be sent and queued.
func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return body, nil
}

var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// replayHeaders keeps end-to-end headers, including the identity token.
func replayHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, name := range hopHeaders {
		out.Del(name)
	}
	out.Del("Content-Length")
	return out
}
