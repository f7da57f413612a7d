// Package health provides HTTP liveness and readiness probes.
//
//   - /healthz — liveness; always 200 while the process serves HTTP.
//   - /readyz  — readiness; 200 only when every registered probe passes.
//
// Responses are JSON with a top-level "status" and a per-probe "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe reports whether one dependency is ready. It must respect context
// cancellation.
type Probe func(ctx context.Context) error

// Handler serves the health endpoints. Probes may be added until the first
// request; afterwards the set is effectively fixed.
type Handler struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// New creates a Handler with no probes registered.
func New() *Handler {
	return &Handler{probes: make(map[string]Probe)}
}

// AddProbe registers a named readiness probe. Registering the same name
// twice replaces the earlier probe.
func (h *Handler) AddProbe(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// readyz runs all probes concurrently, each under its own timeout, and
// reports 503 if any fails.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	var mu sync.Mutex
	checks := make(map[string]string, len(probes))

	// A plain group so one failing probe does not cancel the others; every
	// probe reports its own status.
	var g errgroup.Group
	for name, p := range probes {
		name, p := name, p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			err := p(pctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[name] = "fail: " + err.Error()
			} else {
				checks[name] = "ok"
			}
			return err
		})
	}
	err := g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if err != nil {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
