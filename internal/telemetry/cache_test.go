package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProm answers instant queries, optionally failing one metric.
func fakeProm(t *testing.T, calls *int64, failCPU, failMem bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		query := r.URL.Query().Get("query")
		fail := (failCPU && strings.Contains(query, "cpu")) ||
			(failMem && strings.Contains(query, "memory"))
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		value := "42.5"
		if strings.Contains(query, "memory") {
			value = "512.0"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"result": []map[string]interface{}{
					{"value": []interface{}{float64(time.Now().Unix()), value}},
				},
			},
		})
	}))
}

func TestGet_FetchesAndCaches(t *testing.T) {
	var calls int64
	srv := fakeProm(t, &calls, false, false)
	defer srv.Close()

	c := NewCache(srv.URL)
	snap := c.Get(context.Background())
	if snap.Status != "ok" {
		t.Fatalf("status = %q, want ok", snap.Status)
	}
	if snap.CPUPercent != 42.5 || snap.MemoryMB != 512.0 {
		t.Errorf("cpu=%v mem=%v", snap.CPUPercent, snap.MemoryMB)
	}
	if snap.Cached {
		t.Error("first read marked cached")
	}
	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Fatalf("outbound calls = %d, want 2", n)
	}

	// Within the TTL: same values, zero outbound calls.
	again := c.Get(context.Background())
	if !again.Cached {
		t.Error("second read not marked cached")
	}
	if again.CPUPercent != snap.CPUPercent || again.MemoryMB != snap.MemoryMB {
		t.Errorf("cached read differs: %+v vs %+v", again, snap)
	}
	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Errorf("outbound calls after cached read = %d, want still 2", n)
	}
}

func TestGet_PartialSuccess(t *testing.T) {
	var calls int64
	srv := fakeProm(t, &calls, false, true)
	defer srv.Close()

	c := NewCache(srv.URL)
	snap := c.Get(context.Background())
	if snap.Status != "partial" {
		t.Fatalf("status = %q, want partial", snap.Status)
	}
	if snap.CPUPercent != 42.5 {
		t.Errorf("cpu = %v, want 42.5", snap.CPUPercent)
	}
	if len(snap.Warnings) == 0 {
		t.Error("partial snapshot has no warnings")
	}

	// Partial results are still cached.
	c.Get(context.Background())
	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Errorf("outbound calls = %d, want 2", n)
	}
}

func TestGet_TotalFailureFallsBackToStale(t *testing.T) {
	var calls int64
	srv := fakeProm(t, &calls, false, false)
	c := NewCache(srv.URL)

	first := c.Get(context.Background())
	if first.Status != "ok" {
		t.Fatal("warmup failed")
	}

	// Expire the TTL and take the backend down.
	srv.Close()
	c.mu.Lock()
	c.fetchedAt = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	snap := c.Get(context.Background())
	if snap.Status != "ok" {
		t.Errorf("stale status = %q, want ok from last good snapshot", snap.Status)
	}
	if !snap.Cached {
		t.Error("stale snapshot not marked cached")
	}
	if snap.CPUPercent != first.CPUPercent {
		t.Errorf("stale cpu = %v, want %v", snap.CPUPercent, first.CPUPercent)
	}
}

func TestGet_UnknownSentinelWhenNeverFetched(t *testing.T) {
	c := NewCache("http://127.0.0.1:1") // nothing listening
	snap := c.Get(context.Background())
	if snap.Status != "unknown" {
		t.Fatalf("status = %q, want unknown", snap.Status)
	}
	if snap.CPUPercent != 0 || snap.MemoryMB != 0 {
		t.Errorf("sentinel values = %v/%v, want 0/0", snap.CPUPercent, snap.MemoryMB)
	}
}
