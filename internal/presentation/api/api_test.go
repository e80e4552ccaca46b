package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/visper-relay/internal/infrastructure/sequencer"
	healthHandler "github.com/hilthontt/visper-relay/internal/presentation/handler/health"
	roomsHandler "github.com/hilthontt/visper-relay/internal/presentation/handler/rooms"
	"github.com/stretchr/testify/assert"
)

func newApp(limiter ratelimiter.Limiter, origins []string) *Application {
	cfg := configs.Config{HTTP: configs.HTTPConfig{
		AllowedOrigins: origins,
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}}
	health := healthHandler.NewHandler(map[string]healthHandler.Check{
		"broker": func(context.Context) error { return nil },
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("relay_up 1\n"))
	})
	return NewApplication(cfg, nil, health, nil, metrics, logging.NewNop(), limiter)
}

func TestMountServesHealthAndMetrics(t *testing.T) {
	mux := newApp(nil, nil).Mount()

	for _, path := range []string{"/api/health", "/api/healthz", "/api/ready", "/api/live", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestCorsHonoursAllowedOrigins(t *testing.T) {
	mux := newApp(nil, []string{"https://chat.example.com"}).Mount()

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitedHandshake(t *testing.T) {
	limiter := ratelimiter.NewFixedWindowRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Close)
	app := newApp(limiter, nil)

	var hits int
	h := app.rateLimiterMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, hits)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	seq := sequencer.New(sequencer.ProcessorFunc(func(context.Context, sequencer.QueuedTask) error { return nil }))
	t.Cleanup(func() { _ = seq.Close() })

	cfg := configs.Config{HTTP: configs.HTTPConfig{AdminToken: "ops-secret"}}
	health := healthHandler.NewHandler(nil)
	rooms := roomsHandler.NewHandler(seq, logging.NewNop())
	mux := NewApplication(cfg, nil, health, rooms, nil, logging.NewNop(), nil).Mount()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rooms/r1/resume", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/r1/resume", nil)
	req.Header.Set("Authorization", "Bearer ops-secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/rooms/halted", nil)
	req.Header.Set("Authorization", "Bearer ops-secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without a token the routes are not mounted.
	unguarded := NewApplication(configs.Config{}, nil, health, rooms, nil, logging.NewNop(), nil).Mount()
	rec = httptest.NewRecorder()
	unguarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/halted", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
