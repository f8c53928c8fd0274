package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gaplocker/internal/config"
	"github.com/sawpanic/gaplocker/internal/metrics"
	"github.com/sawpanic/gaplocker/internal/session"
)

func testServer() *Server {
	registry := session.NewRegistry(map[string]config.SymbolWindow{
		"EURUSD": {Symbol: "EURUSD", BeginOffset: 79200, EndOffset: 79500, GapPoints: 50},
	}, nil)
	return NewServer(":0", registry, metrics.New())
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestStatusEndpoint_ReportsSymbols(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Symbols []session.SymbolStatus `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Symbols, 1)
	assert.Equal(t, "EURUSD", body.Symbols[0].Symbol)
	assert.Equal(t, int64(50), body.Symbols[0].GapPoints)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
