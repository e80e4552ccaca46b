package rooms

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/visper-relay/internal/infrastructure/json"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/sequencer"
)

// Queues is the operator view of the room sequencer.
type Queues interface {
	Halted() []*sequencer.RoomProcessingHalt
	Resume(roomID string) error
}

type Handler struct {
	queues Queues
	logger logging.Logger
}

func NewHandler(queues Queues, logger logging.Logger) *Handler {
	return &Handler{queues: queues, logger: logger}
}

// GetHalted lists rooms whose queue stopped on a failed task.
func (h *Handler) GetHalted(w http.ResponseWriter, r *http.Request) {
	halted := h.queues.Halted()
	out := make([]haltResponse, 0, len(halted))
	for _, halt := range halted {
		out = append(out, haltResponse{
			RoomID:     halt.RoomID,
			Task:       halt.Task.Payload.TaskName(),
			Pending:    halt.Pending,
			Error:      halt.Err.Error(),
			EnqueuedAt: halt.Task.EnqueuedAt.UTC().Format(time.RFC3339),
		})
	}
	json.Write(w, http.StatusOK, haltedResponse{Rooms: out})
}

// PostResume restarts a halted room from its failed task.
func (h *Handler) PostResume(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	err := h.queues.Resume(roomID)
	switch {
	case err == nil:
	case errors.Is(err, sequencer.ErrNotHalted):
		json.WriteError(w, http.StatusConflict, "room is not halted")
		return
	case errors.Is(err, sequencer.ErrClosed):
		json.WriteUnavailableError(w, "sequencer is shutting down")
		return
	default:
		json.WriteInternalError(w)
		return
	}

	h.logger.Info(logging.Sequencer, logging.Api, "room resumed by operator", map[logging.ExtraKey]any{
		logging.RoomID:   roomID,
		logging.ClientIp: r.RemoteAddr,
	})
	json.Write(w, http.StatusAccepted, resumeResponse{RoomID: roomID, Status: "resumed"})
}
