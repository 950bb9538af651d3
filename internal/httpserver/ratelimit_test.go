package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/fdg312/trailmate/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, path, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit_SecondRequestReturns429(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 1, RateLimitBurst: 1}
	handler := RateLimitMiddleware(cfg, zaptest.NewLogger(t), okHandler())

	if rr := doRequest(handler, "/v1/matches", "1.2.3.4:12345", nil); rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}

	rr := doRequest(handler, "/v1/matches", "1.2.3.4:12345", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After=1, got %q", rr.Header().Get("Retry-After"))
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatal("expected error object in response")
	}
	if errObj["code"] != "rate_limited" {
		t.Errorf("expected code=rate_limited, got %v", errObj["code"])
	}
}

func TestRateLimit_DisabledWhenZero(t *testing.T) {
	cfg := &config.Config{}

	callCount := 0
	handler := RateLimitMiddleware(cfg, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		if rr := doRequest(handler, "/", "1.2.3.4:12345", nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	if callCount != 10 {
		t.Errorf("expected 10 calls, got %d", callCount)
	}
}

func TestRateLimit_DifferentIPsIndependent(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 1, RateLimitBurst: 1}
	handler := RateLimitMiddleware(cfg, nil, okHandler())

	if rr := doRequest(handler, "/", "1.2.3.4:1", nil); rr.Code != http.StatusOK {
		t.Fatalf("IP1 first request: expected 200, got %d", rr.Code)
	}
	if rr := doRequest(handler, "/", "5.6.7.8:1", nil); rr.Code != http.StatusOK {
		t.Fatalf("IP2 first request: expected 200, got %d", rr.Code)
	}
}

func TestRateLimit_ForwardedForFirstHop(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 1, RateLimitBurst: 1}
	handler := RateLimitMiddleware(cfg, nil, okHandler())

	xff := map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1"}
	if rr := doRequest(handler, "/", "10.0.0.1:1", xff); rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}
	if rr := doRequest(handler, "/", "10.0.0.2:1", xff); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("same client via another proxy: expected 429, got %d", rr.Code)
	}
}

func TestRateLimit_HealthAndMetricsExempt(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 1, RateLimitBurst: 1}
	handler := RateLimitMiddleware(cfg, nil, okHandler())

	for i := 0; i < 5; i++ {
		if rr := doRequest(handler, "/healthz", "1.2.3.4:1", nil); rr.Code != http.StatusOK {
			t.Fatalf("healthz %d: expected 200, got %d", i, rr.Code)
		}
		if rr := doRequest(handler, "/metrics", "1.2.3.4:1", nil); rr.Code != http.StatusOK {
			t.Fatalf("metrics %d: expected 200, got %d", i, rr.Code)
		}
	}
}
