package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMux(svc *Service) *http.ServeMux {
	h := NewHandlers(svc)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sync", h.HandleSync)
	mux.HandleFunc("DELETE /v1/connections/{provider}", h.HandleDisconnect)
	return mux
}

func TestHandleSync(t *testing.T) {
	svc, mem := newService(t, &fakeAdapter{provider: "strava", count: 2})
	connect(t, mem, "u1", "strava")
	mux := newMux(svc)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"ok", `{"user_id":"u1"}`, http.StatusOK, ""},
		{"bad json", `{`, http.StatusBadRequest, "invalid_payload"},
		{"missing user", `{}`, http.StatusBadRequest, "invalid_request"},
		{"no connections", `{"user_id":"u2"}`, http.StatusNotFound, "no_connections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/sync", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				var body struct {
					Error struct{ Code string } `json:"error"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.code, body.Error.Code)
				return
			}
			var res Result
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
			assert.Equal(t, 2, res.Outcomes["strava"].Records)
		})
	}
}

func TestHandleDisconnect(t *testing.T) {
	svc, mem := newService(t, &fakeAdapter{provider: "strava", count: 2})
	connect(t, mem, "u1", "strava")
	mux := newMux(svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/connections/strava?user_id=u1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	conn, err := mem.GetConnection(context.Background(), "u1", "strava")
	require.NoError(t, err)
	assert.False(t, conn.Active())

	req = httptest.NewRequest(http.MethodDelete, "/v1/connections/garmin?user_id=u1", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/connections/strava", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
