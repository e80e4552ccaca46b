package chat

import (
	"context"
	"fmt"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/assistant"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
)

type RoomEmitter interface {
	EmitToRoom(ctx context.Context, roomID, event string, data any) error
}

// AssistantResponder streams a persona reply to the room and queues the
// final text as an ai message.
type AssistantResponder struct {
	assistant assistant.Assistant
	emitter   RoomEmitter
	service   *Service
	logger    logging.Logger
}

func NewAssistantResponder(a assistant.Assistant, emitter RoomEmitter, service *Service, logger logging.Logger) *AssistantResponder {
	return &AssistantResponder{assistant: a, emitter: emitter, service: service, logger: logger}
}

func (r *AssistantResponder) Respond(ctx context.Context, roomID, userID, prompt string, requested domain.PersonaType) error {
	persona, err := assistant.ResolvePersona(requested, prompt)
	if err != nil {
		return err
	}
	base := ws.AIMessagePayload{UserID: userID, AIType: string(persona.Type)}

	stream, err := r.assistant.Stream(ctx, persona, prompt)
	if err != nil {
		r.fail(ctx, roomID, base, err)
		return err
	}
	defer stream.Close()

	if err := r.emitter.EmitToRoom(ctx, roomID, ws.AIMessageStart, base); err != nil {
		return err
	}

	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			r.fail(ctx, roomID, base, err)
			return err
		}

		switch chunk.Kind {
		case assistant.ChunkDelta:
			payload := base
			payload.Chunk = chunk.Delta
			if err := r.emitter.EmitToRoom(ctx, roomID, ws.AIMessageChunk, payload); err != nil {
				return err
			}
		case assistant.ChunkComplete:
			payload := base
			payload.Content = chunk.Content
			if err := r.emitter.EmitToRoom(ctx, roomID, ws.AIMessageComplete, payload); err != nil {
				return err
			}
			return r.persist(ctx, roomID, persona, chunk.Content)
		}
	}
}

func (r *AssistantResponder) persist(ctx context.Context, roomID string, persona domain.Persona, content string) error {
	if content == "" {
		return nil
	}
	sender, err := domain.NewAssistantSender(persona.Type)
	if err != nil {
		return err
	}
	if _, err := r.service.SendMessage(ctx, domain.MessageDraft{
		RoomID:  roomID,
		Sender:  sender,
		Content: content,
		Type:    domain.MessageAI,
	}); err != nil {
		return fmt.Errorf("queue assistant reply: %w", err)
	}
	return nil
}

func (r *AssistantResponder) fail(ctx context.Context, roomID string, base ws.AIMessagePayload, cause error) {
	payload := base
	payload.Error = cause.Error()
	r.logger.Error(logging.Assistant, logging.ExternalService, "assistant reply failed", map[logging.ExtraKey]any{
		logging.RoomID:       roomID,
		logging.UserID:       base.UserID,
		logging.ErrorMessage: cause.Error(),
	})
	if err := r.emitter.EmitToRoom(context.WithoutCancel(ctx), roomID, ws.AIMessageError, payload); err != nil {
		r.logger.Warn(logging.Assistant, logging.FanOut, "failed to emit assistant error", map[logging.ExtraKey]any{
			logging.RoomID:       roomID,
			logging.ErrorMessage: err.Error(),
		})
	}
}
