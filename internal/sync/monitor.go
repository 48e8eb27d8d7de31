package sync

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kimhsiao/habitnexus/internal/logging"
)

// ConnectivityReporter receives probe results.
type ConnectivityReporter interface {
	ReportConnectivity(online bool)
}

// Monitor probes a health endpoint so connectivity is known even when the
// application sends no traffic.
type Monitor struct {
	fetcher  Fetcher
	url      string
	interval time.Duration
	timeout  time.Duration
	reporter ConnectivityReporter
}

// NewMonitor creates a Monitor probing healthURL every interval.
func NewMonitor(fetcher Fetcher, healthURL string, interval time.Duration, reporter ConnectivityReporter) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Monitor{
		fetcher:  fetcher,
		url:      healthURL,
		interval: interval,
		timeout:  timeout,
		reporter: reporter,
	}
}

// Probe performs one health check and reports the result.
// Any HTTP response counts as online, matching the interceptor and replays:
// an upstream answering 5xx is reachable, only transport failures are offline.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err == nil {
		resp, derr := m.fetcher.Do(req)
		if derr == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			online = true
		} else {
			logging.Debug("Health probe failed", map[string]interface{}{"url": m.url, "error": derr.Error()})
		}
	}

	m.reporter.ReportConnectivity(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
