package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fdg312/trailmate/internal/config"
	"github.com/fdg312/trailmate/internal/storage"
	"github.com/fdg312/trailmate/internal/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&config.Config{Port: 8080, QuotaStore: config.QuotaStoreMemory}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status=ok, got %s", resp["status"])
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected default Go collectors in /metrics output")
	}
}

func TestRoutesAreMounted(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/v1/matches?user_id=nobody", "", http.StatusConflict},
		{http.MethodPost, "/v1/sync", `{"user_id":"nobody"}`, http.StatusNotFound},
		{http.MethodDelete, "/v1/connections/strava?user_id=nobody", "", http.StatusNotFound},
		{http.MethodGet, "/v1/quota/default", "", http.StatusOK},
		{http.MethodPost, "/v1/admin/credentials/assign", `{"user_id":"u1","credential_id":"missing"}`, http.StatusNotFound},
		{http.MethodPost, "/v1/admin/credentials/cache/clear", `{}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestInitQuotaStoreReportsEffectiveBackend(t *testing.T) {
	tests := []struct {
		name           string
		storageBackend string
		requested      string
		wantBackend    string
		wantShared     bool
		wantWarning    bool
	}{
		{"memory on memory storage", config.QuotaStoreMemory, config.QuotaStoreMemory, config.QuotaStoreMemory, true, false},
		{"memory next to postgres", config.QuotaStorePostgres, config.QuotaStoreMemory, config.QuotaStoreMemory, false, false},
		{"postgres on postgres storage", config.QuotaStorePostgres, config.QuotaStorePostgres, config.QuotaStorePostgres, true, false},
		{"postgres unreachable", config.QuotaStoreMemory, config.QuotaStorePostgres, config.QuotaStoreMemory, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			primary := memory.New()
			s := &Server{
				config:         &config.Config{QuotaStore: tt.requested},
				logger:         zap.New(core),
				storage:        primary,
				storageBackend: tt.storageBackend,
			}

			s.initQuotaStore(context.Background())

			if s.quotaBackend != tt.wantBackend {
				t.Fatalf("expected backend %s, got %s", tt.wantBackend, s.quotaBackend)
			}
			if shared := s.quotas == storage.QuotaStorage(primary); shared != tt.wantShared {
				t.Fatalf("expected shared=%v, got %v", tt.wantShared, shared)
			}
			if got := logs.FilterMessage("quota_store_unavailable").Len() > 0; got != tt.wantWarning {
				t.Fatalf("expected warning=%v, got %v", tt.wantWarning, got)
			}
			selected := logs.FilterMessage("quota_store_selected").All()
			if len(selected) != 1 || selected[0].ContextMap()["backend"] != tt.wantBackend {
				t.Fatalf("expected quota_store_selected with backend %s, got %v", tt.wantBackend, selected)
			}
		})
	}
}
