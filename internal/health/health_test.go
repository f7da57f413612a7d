package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hollowmere/parley/internal/health"
)

func newServer(t *testing.T, h *health.Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()
	srv := newServer(t, health.New())

	status, body := getJSON(t, srv.URL+"/healthz")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestReadyzAllProbesPass(t *testing.T) {
	t.Parallel()
	h := health.New()
	h.AddProbe("database", func(context.Context) error { return nil })
	h.AddProbe("llm", func(context.Context) error { return nil })
	srv := newServer(t, h)

	status, body := getJSON(t, srv.URL+"/readyz")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	checks := body["checks"].(map[string]any)
	if checks["database"] != "ok" || checks["llm"] != "ok" {
		t.Errorf("checks = %v", checks)
	}
}

func TestReadyzFailingProbe(t *testing.T) {
	t.Parallel()
	h := health.New()
	h.AddProbe("database", func(context.Context) error { return errors.New("pool exhausted") })
	h.AddProbe("llm", func(context.Context) error { return nil })
	srv := newServer(t, h)

	status, body := getJSON(t, srv.URL+"/readyz")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	if body["status"] != "fail" {
		t.Errorf("status field = %v", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if got, _ := checks["database"].(string); !strings.HasPrefix(got, "fail:") {
		t.Errorf("database check = %q", got)
	}
	// The healthy probe still reports its own status.
	if checks["llm"] != "ok" {
		t.Errorf("llm check = %v", checks["llm"])
	}
}
