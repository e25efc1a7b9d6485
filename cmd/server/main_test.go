package main

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClients int

func (n fixedClients) Clients() int { return int(n) }

func TestHealthHandler_ReportsClients(t *testing.T) {
	w := httptest.NewRecorder()

	healthHandler(fixedClients(3))(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["ws_clients"])
}
