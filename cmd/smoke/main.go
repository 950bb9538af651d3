package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultAPIBase = "http://localhost:8080"
)

var (
	apiBase      string
	userID       string
	credentialID string
	client       = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	fmt.Println("=== Trailmate Smoke Test ===")
	fmt.Println()

	apiBase = strings.TrimRight(getEnv("API_BASE_URL", defaultAPIBase), "/")
	userID = getEnv("SMOKE_USER_ID", fmt.Sprintf("smoke-%d", time.Now().Unix()))
	credentialID = getEnv("SMOKE_CREDENTIAL_ID", "default")

	fmt.Printf("API Base: %s\n", apiBase)
	fmt.Printf("User ID: %s\n", userID)
	fmt.Printf("Credential: %s\n", credentialID)
	fmt.Println()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"Healthz", testHealthz},
		{"Quota State", testQuotaState},
		{"Assign Credential", testAssignCredential},
		{"Clear Resolver Cache", testClearCache},
		{"Sync Without Connections", testSyncWithoutConnections},
		{"Matches Without Metrics", testMatchesWithoutMetrics},
		{"Metrics Exposition", testMetrics},
	}

	failed := false
	for i, step := range steps {
		fmt.Printf("[%d/%d] %s... ", i+1, len(steps), step.name)
		if err := step.fn(); err != nil {
			fmt.Printf("❌ FAILED\n")
			fmt.Printf("  Error: %v\n\n", err)
			failed = true
			break
		}
		fmt.Printf("✅ OK\n")
	}

	fmt.Println()
	if failed {
		fmt.Println("❌ SMOKE TEST FAILED")
		os.Exit(1)
	}

	fmt.Println("✅ ALL SMOKE TESTS PASSED")
}

func testHealthz() error {
	_, err := call(http.MethodGet, "/healthz", nil, http.StatusOK)
	return err
}

func testQuotaState() error {
	body, err := call(http.MethodGet, "/v1/quota/"+credentialID, nil, http.StatusOK)
	if err != nil {
		return err
	}

	var state struct {
		CredentialID   string `json:"credential_id"`
		WindowRequests int    `json:"window_requests"`
		WindowLimit    int    `json:"window_limit"`
	}
	if err := json.Unmarshal(body, &state); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	if state.CredentialID != credentialID {
		return fmt.Errorf("credential_id=%q, want %q", state.CredentialID, credentialID)
	}
	if state.WindowLimit > 0 && state.WindowRequests > state.WindowLimit {
		return fmt.Errorf("window_requests=%d exceeds window_limit=%d", state.WindowRequests, state.WindowLimit)
	}
	return nil
}

func testAssignCredential() error {
	body, err := call(http.MethodPost, "/v1/admin/credentials/assign", map[string]string{
		"user_id":       userID,
		"credential_id": credentialID,
	}, http.StatusOK)
	if err != nil {
		return err
	}

	var res struct {
		CredentialID string `json:"credential_id"`
		Source       string `json:"source"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	if res.CredentialID != credentialID {
		return fmt.Errorf("resolved to %q (%s), want %q", res.CredentialID, res.Source, credentialID)
	}
	return nil
}

func testClearCache() error {
	_, err := call(http.MethodPost, "/v1/admin/credentials/cache/clear", map[string]string{"user_id": userID}, http.StatusOK)
	return err
}

func testSyncWithoutConnections() error {
	_, err := call(http.MethodPost, "/v1/sync", map[string]interface{}{"user_id": userID}, http.StatusNotFound)
	return err
}

func testMatchesWithoutMetrics() error {
	body, err := call(http.MethodGet, "/v1/matches?user_id="+userID, nil, http.StatusConflict)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "no_metrics") {
		return fmt.Errorf("expected no_metrics error, got %s", string(body))
	}
	return nil
}

func testMetrics() error {
	body, err := call(http.MethodGet, "/metrics", nil, http.StatusOK)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "trailmate_") {
		return fmt.Errorf("no trailmate_ series exposed")
	}
	return nil
}

// call sends a JSON request and checks the status code.
func call(method, path string, payload interface{}, wantStatus int) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, apiBase+path, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != wantStatus {
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
