package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	apperrors "github.com/pharmaops/rxpool/lib/errors"
	"github.com/pharmaops/rxpool/lib/metrics"
	"github.com/pharmaops/rxpool/lib/pool"
	"github.com/pharmaops/rxpool/lib/resilience"
	"github.com/pharmaops/rxpool/version"
)

// statsSource is anything that reports pool statistics.
type statsSource interface {
	Stats() pool.Stats
}

// healthSource reports the result of a backend's last health check.
type healthSource interface {
	Stats() resilience.HealthStats
}

// statusResponse is the body served on /stats.
type statusResponse struct {
	Service string                            `json:"service"`
	Build   version.BuildInfo                 `json:"build"`
	Pools   map[string]pool.Stats             `json:"pools"`
	Health  map[string]resilience.HealthStats `json:"health,omitempty"`
}

// statusHandler serves /metrics, /stats and /healthz for a set of pools.
type statusHandler struct {
	service string
	pools   map[string]statsSource
	health  map[string]healthSource
	reg     *metrics.Registry
}

func newStatusHandler(service string, reg *metrics.Registry, pools map[string]statsSource, health map[string]healthSource) http.Handler {
	h := &statusHandler{service: service, pools: pools, health: health, reg: reg}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

func (h *statusHandler) snapshot() map[string]pool.Stats {
	out := make(map[string]pool.Stats, len(h.pools))
	for name, p := range h.pools {
		out[name] = p.Stats()
	}
	return out
}

func (h *statusHandler) healthSnapshot() map[string]resilience.HealthStats {
	if len(h.health) == 0 {
		return nil
	}
	out := make(map[string]resilience.HealthStats, len(h.health))
	for name, m := range h.health {
		out[name] = m.Stats()
	}
	return out
}

func (h *statusHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Service: h.service,
		Build:   version.Info(),
		Pools:   h.snapshot(),
		Health:  h.healthSnapshot(),
	})
}

func (h *statusHandler) healthz(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	health := h.healthSnapshot()
	for _, name := range names {
		var err *apperrors.Error
		switch hs, ok := health[name]; {
		case snap[name].Closed:
			err = apperrors.FromSentinel(apperrors.ErrPoolClosing)
		case ok && !hs.Healthy:
			err = apperrors.Wrap(apperrors.CodeUnavailable, name+" backend unreachable", errors.New(hs.LastError))
		default:
			continue
		}
		writeJSON(w, err.HTTPStatus(), map[string]string{
			"status": "unavailable",
			"pool":   name,
			"error":  err.SafeMessage(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
