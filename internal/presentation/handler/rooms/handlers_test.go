package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type task string

func (t task) TaskName() string { return string(t) }

func routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/rooms/halted", h.GetHalted)
	r.Post("/api/rooms/{roomID}/resume", h.PostResume)
	return r
}

func TestResumeRestartsHaltedRoom(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})
	seq := sequencer.New(sequencer.ProcessorFunc(func(context.Context, sequencer.QueuedTask) error {
		<-release
		if attempts.Add(1) == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}))
	t.Cleanup(func() { _ = seq.Close() })
	mux := routes(NewHandler(seq, logging.NewNop()))

	require.NoError(t, seq.Enqueue("r1", task("create_message")))
	require.NoError(t, seq.Enqueue("r1", task("update_reaction")))
	close(release)
	require.Eventually(t, func() bool { return len(seq.Halted()) == 1 }, 2*time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/halted", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var halted haltedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &halted))
	require.Len(t, halted.Rooms, 1)
	assert.Equal(t, "r1", halted.Rooms[0].RoomID)
	assert.Equal(t, "create_message", halted.Rooms[0].Task)
	assert.Equal(t, 2, halted.Rooms[0].Pending)
	assert.Equal(t, "database unavailable", halted.Rooms[0].Error)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rooms/r1/resume", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	seq.Wait()
	assert.Empty(t, seq.Halted())
	assert.Equal(t, int32(3), attempts.Load())
	assert.Zero(t, seq.Len("r1"))
}

func TestResumeRejectsRunningRoom(t *testing.T) {
	seq := sequencer.New(sequencer.ProcessorFunc(func(context.Context, sequencer.QueuedTask) error { return nil }))
	mux := routes(NewHandler(seq, logging.NewNop()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rooms/r1/resume", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, seq.Close())
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rooms/r1/resume", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
