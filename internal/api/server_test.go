package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/api"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/fleet"
	"github.com/aosanya/fleetctl/internal/registry"
	"github.com/aosanya/fleetctl/internal/store"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	client := store.NewMemoryClient()
	b := bus.New(client, "test-swarm", "api-test", nil)
	reg := registry.New(client, nil, nil)
	alloc := allocator.New(reg, client, nil, 0, nil)
	coord := fleet.New(fleet.DefaultConfig("test-swarm"), reg, alloc, client, b, nil)

	require.NoError(t, alloc.CreatePool(context.Background(), allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 5,
	}))

	cfg := api.DefaultServerConfig()
	return api.NewServer(cfg, coord, nil, nil)
}

func doJSON(t *testing.T, s *api.Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheckReturns200(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSpawnAgentThenGetFleetStatusShowsIt(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"type": "coder",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var spawnResp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spawnResp))
	assert.True(t, spawnResp.Success)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/fleet/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var statusResp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statusResp))
	assert.True(t, statusResp.Success)
}

func TestSubmitTaskWithMissingPoolTypeIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTerminateUnknownAgentReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodDelete, "/api/v1/agents/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
