package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"

	_ "github.com/drahnr/constellation/middleware/authority"
	_ "github.com/drahnr/constellation/middleware/cache"
)

func testAPI(t *testing.T) *API {
	t.Helper()

	cfg := &config.Config{
		API:       "127.0.0.1:0",
		Backend:   "memory",
		CacheSize: 1024,
		Zones:     []config.Zone{{Apex: "example.com."}},
	}

	middleware.SetConfig(cfg)
	_ = middleware.Setup()

	return New(cfg)
}

func get(t *testing.T, a *API, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	a.handler().ServeHTTP(rec, req)

	return rec
}

func Test_APIHealth(t *testing.T) {
	a := testAPI(t)

	rec := get(t, a, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func Test_APIMetrics(t *testing.T) {
	a := testAPI(t)

	rec := get(t, a, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func Test_APIPurge(t *testing.T) {
	a := testAPI(t)
	require.NotNil(t, a.cache)

	rec := get(t, a, "/api/v1/purge/www.example.com")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "www.example.com.", body["qname"])
}

func Test_APIDelegation(t *testing.T) {
	a := testAPI(t)
	require.NotNil(t, a.authority)

	rec := get(t, a, "/api/v1/dnssec/ds")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_APINotFound(t *testing.T) {
	a := testAPI(t)

	rec := get(t, a, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
