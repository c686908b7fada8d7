package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowlet/scanner/internal/inventory"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	inv := inventory.New()
	entry, err := inventory.FromRequest("GET", "http://site.test/api/users?limit=5", nil, nil, 1, "nav-1")
	require.NoError(t, err)
	inv.Observe(entry)

	status := func() ScanStatus {
		return ScanStatus{RunID: "run-1", Phase: "crawl", StartURL: "http://site.test", Pages: 3, Endpoints: inv.Len()}
	}
	return NewServer(status, inv, nil)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status ScanStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "run-1", status.RunID)
	assert.Equal(t, "crawl", status.Phase)
	assert.Equal(t, 1, status.Endpoints)
}

func TestStatusEndpointWithoutScan(t *testing.T) {
	srv := NewServer(nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/inventory", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInventoryEndpoint(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/inventory", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []inventory.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "/api/users", body.Entries[0].Path)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
