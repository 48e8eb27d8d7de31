package interceptor

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/kimhsiao/habitnexus/internal/models"
)

// Strategy is the caching policy applied to one request.
type Strategy int

const (
	// StrategyPassThrough covers every non-GET request: no cache, queue on failure.
	StrategyPassThrough Strategy = iota
	// StrategyCacheFirst serves static assets from cache when present.
	StrategyCacheFirst
	// StrategyNetworkFirst serves API reads from the network, cache on failure.
	StrategyNetworkFirst
	// StrategyPage is network-first with a final fallback to the offline page.
	StrategyPage
)

// String returns a human-readable representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyPassThrough:
		return "pass-through"
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategyPage:
		return "page"
	default:
		return "unknown"
	}
}

var defaultStaticExtensions = []string{
	".js", ".mjs", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
	".ico", ".woff", ".woff2", ".ttf", ".map", ".webmanifest",
}

// Classify picks the strategy for r from its method and route shape.
func (i *Interceptor) Classify(r *http.Request) Strategy {
	if r.Method != http.MethodGet {
		return StrategyPassThrough
	}

	p := r.URL.Path
	for _, prefix := range i.cfg.StaticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return StrategyCacheFirst
		}
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range i.cfg.StaticExtensions {
		if ext == e {
			return StrategyCacheFirst
		}
	}

	if strings.HasPrefix(p, i.cfg.APIPrefix) {
		return StrategyNetworkFirst
	}
	if isNavigation(r) {
		return StrategyPage
	}
	return StrategyNetworkFirst
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// RequestTypeFor derives the sync bucket of a mutation from its path.
func RequestTypeFor(p string) models.RequestType {
	p = strings.ToLower(p)
	switch {
	case strings.Contains(p, "reminder-logs"),
		strings.Contains(p, "/reminders/") && strings.HasSuffix(strings.TrimSuffix(p, "/"), "/logs"):
		return models.RequestTypeReminderLog
	case strings.Contains(p, "/counters"):
		return models.RequestTypeCounterUpdate
	case strings.Contains(p, "/reminders"):
		return models.RequestTypeReminderUpdate
	default:
		return models.RequestTypeGeneral
	}
}

type queueOptionsKey struct{}

// QueueOptions overrides the priority and bucket a failed mutation is queued with.
type QueueOptions struct {
	Priority    models.Priority
	RequestType models.RequestType
}

// WithQueueOptions attaches queue options to ctx for requests sent through Do.
func WithQueueOptions(ctx context.Context, opts QueueOptions) context.Context {
	return context.WithValue(ctx, queueOptionsKey{}, opts)
}

func queueOptionsFrom(r *http.Request) QueueOptions {
	opts, _ := r.Context().Value(queueOptionsKey{}).(QueueOptions)
	if opts.RequestType == "" {
		opts.RequestType = RequestTypeFor(r.URL.Path)
	}
	if opts.Priority == "" {
		opts.Priority = opts.RequestType.DefaultPriority()
	}
	return opts
}
