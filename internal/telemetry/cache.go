// Package telemetry provides the system-health snapshot the aggregator folds
// into every negotiation context, cached over a Prometheus query API.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zaebee/aura/internal/logger"
)

const (
	cacheTTL     = 30 * time.Second
	queryTimeout = 5 * time.Second

	cpuQuery = `avg(rate(container_cpu_usage_seconds_total[5m])) * 100`
	memQuery = `avg(container_memory_working_set_bytes) / 1024 / 1024`
)

// Snapshot is one observation of system health. Status is "ok" when both
// metrics resolved, "partial" when only one did, "unknown" when neither ever
// has. Cached marks values served without an outbound call.
type Snapshot struct {
	Status     string    `json:"status"`
	CPUPercent float64   `json:"cpu_usage_percent"`
	MemoryMB   float64   `json:"memory_usage_mb"`
	Cached     bool      `json:"cached"`
	Warnings   []string  `json:"warnings,omitempty"`
	FetchedAt  time.Time `json:"timestamp"`
}

// Cache is a process-wide telemetry cache with a 30s TTL. Failed refreshes
// fall back to the last good snapshot marked stale; staleness beats
// unavailability here.
type Cache struct {
	promURL string
	http    *http.Client
	group   singleflight.Group

	mu        sync.Mutex
	snapshot  *Snapshot
	fetchedAt time.Time
}

// NewCache builds a cache over the given Prometheus base URL.
func NewCache(promURL string) *Cache {
	return &Cache{
		promURL: promURL,
		http:    &http.Client{Timeout: queryTimeout},
	}
}

// Get returns the current snapshot, refreshing when the TTL has lapsed.
// It never returns an error: total refresh failure degrades to the previous
// snapshot or to the unknown sentinel.
func (c *Cache) Get(ctx context.Context) *Snapshot {
	c.mu.Lock()
	if c.snapshot != nil && time.Since(c.fetchedAt) < cacheTTL {
		snap := *c.snapshot
		snap.Cached = true
		c.mu.Unlock()
		return &snap
	}
	c.mu.Unlock()

	// Concurrent refreshes collapse into one outbound round trip.
	v, _, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx), nil
	})
	return v.(*Snapshot)
}

func (c *Cache) refresh(ctx context.Context) *Snapshot {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var cpu, mem float64
	var cpuErr, memErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cpu, cpuErr = c.queryScalar(gctx, cpuQuery)
		return nil
	})
	g.Go(func() error {
		mem, memErr = c.queryScalar(gctx, memQuery)
		return nil
	})
	g.Wait()

	snap := &Snapshot{Status: "ok", CPUPercent: cpu, MemoryMB: mem, FetchedAt: time.Now()}
	if cpuErr != nil {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("cpu metric unavailable: %v", cpuErr))
	}
	if memErr != nil {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("memory metric unavailable: %v", memErr))
	}

	switch {
	case cpuErr == nil && memErr == nil:
		TelemetryRefreshes.WithLabelValues("ok").Inc()
	case cpuErr != nil && memErr != nil:
		TelemetryRefreshes.WithLabelValues("failed").Inc()
		return c.fallback()
	default:
		// One of the two resolved: cache the partial snapshot as-is.
		snap.Status = "partial"
		TelemetryRefreshes.WithLabelValues("partial").Inc()
	}

	c.mu.Lock()
	c.snapshot = snap
	c.fetchedAt = snap.FetchedAt
	c.mu.Unlock()
	out := *snap
	return &out
}

// fallback serves the most recent good snapshot marked stale, or the unknown
// sentinel if no refresh ever succeeded.
func (c *Cache) fallback() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil {
		snap := *c.snapshot
		snap.Cached = true
		snap.Warnings = append(snap.Warnings, "telemetry refresh failed, serving stale snapshot")
		logger.Warn("TELEMETRY", "Refresh failed, serving stale snapshot")
		return &snap
	}
	return &Snapshot{Status: "unknown", CPUPercent: 0, MemoryMB: 0, FetchedAt: time.Now()}
}

// queryScalar runs one instant query and returns the first sample value.
func (c *Cache) queryScalar(ctx context.Context, query string) (float64, error) {
	endpoint := c.promURL + "/api/v1/query?query=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prometheus http %d", resp.StatusCode)
	}
	var parsed struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Value [2]interface{} `json:"value"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	if parsed.Status != "success" || len(parsed.Data.Result) == 0 {
		return 0, fmt.Errorf("empty result")
	}
	raw, ok := parsed.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("malformed sample value")
	}
	return strconv.ParseFloat(raw, 64)
}
