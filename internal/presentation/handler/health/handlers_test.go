package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReportsFailingComponent(t *testing.T) {
	h := NewHandler(map[string]Check{
		"broker":    func(context.Context) error { return nil },
		"sequencer": func(context.Context) error { return errors.New("2 rooms halted") },
	})

	rec := httptest.NewRecorder()
	h.GetHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusUnhealthy, body.Status)
	assert.Equal(t, statusOK, body.Components["broker"])
	assert.Equal(t, "2 rooms halted", body.Components["sequencer"])
}

func TestHealthAndLiveOK(t *testing.T) {
	h := NewHandler(map[string]Check{"broker": func(context.Context) error { return nil }})

	rec := httptest.NewRecorder()
	h.GetHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.GetLive(rec, httptest.NewRequest(http.MethodGet, "/api/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusOK, body.Status)
	assert.Empty(t, body.Components)
}
