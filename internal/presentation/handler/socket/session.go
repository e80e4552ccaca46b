package socket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/presence"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
)

// session dispatches the events of one authenticated connection.
type session struct {
	handler *Handler
	client  *ws.Client
	user    domain.User
}

func (s *session) dispatch(ctx context.Context, env ws.Envelope) {
	switch env.Event {
	case ws.JoinRoom:
		s.joinRoom(ctx, env.Data)
	case ws.LeaveRoom:
		s.leaveRoom(ctx, env.Data)
	case ws.Message, ws.ChatMessage:
		s.chatMessage(ctx, env.Data)
	case ws.MessageReactionUpdate:
		s.reaction(ctx, env.Data)
	case ws.MarkAsRead:
		s.markAsRead(ctx, env.Data)
	case ws.FetchPreviousMessages:
		s.fetchPrevious(ctx, env.Data)
	case ws.AIMessage:
		s.aiMessage(ctx, env.Data)
	case ws.TypingStart, ws.TypingStop:
		s.typing(ctx, env.Event, env.Data)
	default:
		s.fail(ws.InvalidEvent, "unknown event "+env.Event)
	}
}

func (s *session) joinRoom(ctx context.Context, data json.RawMessage) {
	roomID, err := ws.DecodeRoomID(data)
	if err != nil {
		_ = s.client.Send(ws.JoinRoomError, ws.JoinRoomErrorPayload{Error: "invalid room id"})
		return
	}
	// The access check is a broker round trip; keep the read pump free while
	// it runs. The router sends joinRoomSuccess or joinRoomError itself.
	go func() {
		if err := s.handler.router.JoinRoom(ctx, s.client.ID(), roomID); err != nil {
			s.warn(logging.Membership, "join failed", roomID, err)
		}
	}()
}

func (s *session) leaveRoom(ctx context.Context, data json.RawMessage) {
	roomID, err := ws.DecodeRoomID(data)
	if err == nil {
		err = s.handler.router.LeaveRoom(ctx, s.client.ID(), roomID)
	}
	if err != nil {
		s.warn(logging.Membership, "leave failed", roomID, err)
		s.fail(ws.LeaveRoomError, "failed to leave room")
	}
}

func (s *session) chatMessage(ctx context.Context, data json.RawMessage) {
	var req ws.ChatMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(ws.MessageError, "invalid message payload")
		return
	}
	if !s.handler.router.Registry().InRoom(s.client.ID(), req.RoomID) {
		s.fail(ws.MessageError, "join the room before sending messages")
		return
	}

	sender, err := domain.NewHumanSender(s.user.ID, s.user.Name, s.user.Email)
	if err != nil {
		s.fail(ws.MessageError, err.Error())
		return
	}

	if _, err := s.handler.chat.SendMessage(ctx, domain.MessageDraft{
		RoomID:          req.RoomID,
		Sender:          sender,
		Content:         req.Content,
		Type:            domain.MessageType(req.Type),
		FileID:          req.File(),
		Mentions:        req.Mentions,
		ClientMessageID: req.ClientMessageID,
		ReplyTo:         req.ReplyTo,
	}); err != nil {
		s.warn(logging.Protocol, "message rejected", req.RoomID, err)
		if errors.Is(err, domain.ErrInvalidMessage) {
			s.fail(ws.MessageError, err.Error())
			return
		}
		s.fail(ws.MessageError, "failed to send message")
	}
}

func (s *session) reaction(ctx context.Context, data json.RawMessage) {
	var req ws.ReactionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(ws.ReactionError, "invalid reaction payload")
		return
	}

	err := s.handler.chat.UpdateReaction(ctx, s.user.ID, req.MessageID, req.RoomID, req.Reaction, domain.ReactionOp(req.Type), s.member)
	if err != nil {
		s.warn(logging.Protocol, "reaction rejected", req.RoomID, err)
		s.fail(ws.ReactionError, rejection(err, "failed to update reaction"))
	}
}

func (s *session) markAsRead(ctx context.Context, data json.RawMessage) {
	req, err := ws.DecodeMarkRead(data)
	if err != nil {
		s.fail(ws.MarkAsReadError, "invalid read receipt")
		return
	}

	if err := s.handler.chat.MarkRead(ctx, s.user.ID, req.MessageID, req.RoomID, s.member); err != nil {
		s.warn(logging.Protocol, "read receipt rejected", req.RoomID, err)
		s.fail(ws.MarkAsReadError, rejection(err, "failed to mark message as read"))
	}
}

// member reports whether this socket has joined roomID.
func (s *session) member(roomID string) bool {
	return s.handler.router.Registry().InRoom(s.client.ID(), roomID)
}

// rejection picks the client-facing text for a refused message action.
// Messages outside the caller's rooms read as missing.
func rejection(err error, fallback string) string {
	switch {
	case errors.Is(err, domain.ErrNotRoomMember),
		errors.Is(err, domain.ErrWrongRoom),
		errors.Is(err, domain.ErrMessageNotFound):
		return "message not found"
	case errors.Is(err, domain.ErrInvalidReaction), errors.Is(err, domain.ErrInvalidInput):
		return err.Error()
	default:
		return fallback
	}
}

func (s *session) fetchPrevious(ctx context.Context, data json.RawMessage) {
	var req ws.FetchMessagesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(ws.LoadMessagesError, "invalid request")
		return
	}
	if !s.handler.router.Registry().InRoom(s.client.ID(), req.RoomID) {
		s.fail(ws.LoadMessagesError, "join the room before loading messages")
		return
	}

	messages, hasMore, err := s.handler.chat.LoadMessages(ctx, req.RoomID, req.Before, req.Limit)
	if err != nil {
		s.warn(logging.Select, "history load failed", req.RoomID, err)
		s.fail(ws.LoadMessagesError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	_ = s.client.Send(ws.PreviousMessagesLoaded, map[string]any{
		"messages": messages,
		"hasMore":  hasMore,
	})
}

func (s *session) aiMessage(ctx context.Context, data json.RawMessage) {
	var req ws.AIMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(ws.AIMessageErrType, "invalid ai message payload")
		return
	}
	if s.handler.assistant == nil || !s.handler.router.Registry().InRoom(s.client.ID(), req.RoomID) {
		s.fail(ws.AIMessageErrType, "ai message rejected")
		return
	}

	// Runs beside the read pump until the stream ends.
	go func() {
		if err := s.handler.assistant.Respond(ctx, req.RoomID, s.user.ID, req.Content, domain.PersonaType(req.AIType)); err != nil {
			s.warn(logging.Protocol, "ai message failed", req.RoomID, err)
			if errors.Is(err, domain.ErrUnknownPersona) {
				s.fail(ws.AIMessageErrType, "unknown ai type")
			}
		}
	}()
}

func (s *session) typing(ctx context.Context, event string, data json.RawMessage) {
	roomID, err := ws.DecodeRoomID(data)
	if err != nil || !s.handler.router.Registry().InRoom(s.client.ID(), roomID) {
		return
	}
	out := ws.UserTyping
	if event == ws.TypingStop {
		out = ws.UserStopTyping
	}
	_ = s.handler.router.EmitToRoomExcept(ctx, roomID, s.user.ID, out, ws.TypingPayload{
		UserID:    s.user.ID,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
	})
}

func (s *session) fail(kind, message string) {
	_ = s.client.Send(ws.ErrorEvent, ws.ErrorPayload{Type: kind, Message: message})
}

func (s *session) warn(sub logging.SubCategory, msg, roomID string, err error) {
	level := s.handler.logger.Warn
	if errors.Is(err, presence.ErrRoomAccess) {
		level = s.handler.logger.Info
	}
	level(logging.Socket, sub, msg, map[logging.ExtraKey]any{
		logging.SocketID:     s.client.ID(),
		logging.UserID:       s.user.ID,
		logging.RoomID:       roomID,
		logging.ErrorMessage: err.Error(),
	})
}
