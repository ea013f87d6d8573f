package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pharmaops/rxpool/lib/config"
	"github.com/pharmaops/rxpool/lib/metrics"
	"github.com/pharmaops/rxpool/lib/pool"
	"github.com/pharmaops/rxpool/lib/resilience"
)

type fakeSource struct {
	stats pool.Stats
}

func (f fakeSource) Stats() pool.Stats { return f.stats }

type fakeHealth struct {
	stats resilience.HealthStats
}

func (f fakeHealth) Stats() resilience.HealthStats { return f.stats }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestStatusStats(t *testing.T) {
	h := newStatusHandler("rxpool-test", metrics.NewRegistry(), map[string]statsSource{
		"database": fakeSource{pool.Stats{Name: "database", Total: 3, Active: 1, Idle: 2}},
		"cache":    fakeSource{pool.Stats{Name: "cache", Pending: 4}},
	}, map[string]healthSource{
		"cache": fakeHealth{resilience.HealthStats{Name: "cache", Healthy: true}},
	})

	w := serve(t, h, "/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Service != "rxpool-test" {
		t.Errorf("service = %q", body.Service)
	}
	if body.Build.Version == "" {
		t.Error("build version missing")
	}
	if got := body.Pools["database"]; got.Total != 3 || got.Idle != 2 {
		t.Errorf("database stats = %+v", got)
	}
	if got := body.Pools["cache"]; got.Pending != 4 {
		t.Errorf("cache stats = %+v", got)
	}
	if got, ok := body.Health["cache"]; !ok || !got.Healthy {
		t.Errorf("cache health = %+v", got)
	}
}

func TestStatusHealthz(t *testing.T) {
	open := map[string]statsSource{"database": fakeSource{pool.Stats{Name: "database"}}}
	if w := serve(t, newStatusHandler("svc", metrics.NewRegistry(), open, nil), "/healthz"); w.Code != http.StatusOK {
		t.Errorf("open pools: status = %d, want 200", w.Code)
	}

	closed := map[string]statsSource{
		"database": fakeSource{pool.Stats{Name: "database"}},
		"cache":    fakeSource{pool.Stats{Name: "cache", Closed: true}},
	}
	w := serve(t, newStatusHandler("svc", metrics.NewRegistry(), closed, nil), "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("closed pool: status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"pool":"cache"`) {
		t.Errorf("body should name the closed pool: %s", w.Body.String())
	}
}

func TestStatusHealthzUnhealthyBackend(t *testing.T) {
	pools := map[string]statsSource{
		"database": fakeSource{pool.Stats{Name: "database"}},
		"cache":    fakeSource{pool.Stats{Name: "cache"}},
	}
	health := map[string]healthSource{
		"database": fakeHealth{resilience.HealthStats{Name: "database", Healthy: true}},
		"cache":    fakeHealth{resilience.HealthStats{Name: "cache", LastError: "dial tcp 10.0.0.7:6379: connection refused"}},
	}

	w := serve(t, newStatusHandler("svc", metrics.NewRegistry(), pools, health), "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"pool":"cache"`) || !strings.Contains(body, "cache backend unreachable") {
		t.Errorf("body should name the unreachable backend: %s", body)
	}
	if strings.Contains(body, "10.0.0.7") {
		t.Errorf("body should not expose the driver error: %s", body)
	}
}

func TestStatusMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.NewGauge("rxpool_pool_connections_open", "open", metrics.Labels{"pool": "cache"}).Set(2)

	w := serve(t, newStatusHandler("svc", reg, nil, nil), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `rxpool_pool_connections_open{pool="cache"} 2`) {
		t.Errorf("missing series: %s", w.Body.String())
	}
}

func TestBuildPoolsHonoursEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Enabled = false
	cfg.Cache.Pool.ReapInterval = 0

	pools, err := buildPools(cfg, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("buildPools failed: %v", err)
	}
	if _, ok := pools["database"]; ok {
		t.Error("disabled database pool should not be built")
	}
	if _, ok := pools["cache"]; !ok {
		t.Fatal("cache pool should be built")
	}
	if pools["cache"].Stats().Total != 0 {
		t.Error("pool should open no connections before Initialize")
	}
	if pools["cache"].monitor == nil {
		t.Error("cache pool should have a health monitor")
	}

	if err := closePools(context.Background(), pools); err != nil {
		t.Errorf("closePools failed: %v", err)
	}
	if !pools["cache"].Stats().Closed {
		t.Error("pool should be closed")
	}
	if err := closePools(context.Background(), pools); err != nil {
		t.Errorf("closing closed pools should not fail: %v", err)
	}
}

func TestBuildPoolsHealthDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Enabled = false
	cfg.Cache.Pool.Health.Interval = 0

	pools, err := buildPools(cfg, nil, nil)
	if err != nil {
		t.Fatalf("buildPools failed: %v", err)
	}
	defer closePools(context.Background(), pools)

	if pools["cache"].monitor != nil {
		t.Error("zero health interval should not build a monitor")
	}
}

func TestNewLogger(t *testing.T) {
	if l := newLogger(config.LogConfig{Level: "debug"}); !l.Enabled(context.Background(), -4) {
		t.Error("debug level should enable debug records")
	}
	if l := newLogger(config.LogConfig{Level: "bogus", JSON: true}); l.Enabled(context.Background(), -4) {
		t.Error("unknown level should fall back to info")
	}
}
