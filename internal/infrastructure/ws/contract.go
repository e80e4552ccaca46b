package ws

import (
	"encoding/json"
	"fmt"
	"time"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Payload structs
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type JoinRoomSuccessPayload struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type JoinRoomErrorPayload struct {
	Error string `json:"error"`
}

type MemberPayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingPayload struct {
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

type NewMessagePayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
}

type ReactionUpdatePayload struct {
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type AIMessagePayload struct {
	UserID  string `json:"userId"`
	AIType  string `json:"aiType"`
	Chunk   string `json:"chunk,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Inbound payloads
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// DecodeRoomID accepts either a bare room id string or a RoomRequest.
func DecodeRoomID(data json.RawMessage) (string, error) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err == nil {
		return roomID, nil
	}
	var req RoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", fmt.Errorf("decode room id: %w", err)
	}
	return req.RoomID, nil
}

type ChatMessageRequest struct {
	RoomID          string   `json:"room"`
	Content         string   `json:"content"`
	Type            string   `json:"type"`
	FileID          string   `json:"fileId,omitempty"`
	FileData        *FileRef `json:"fileData,omitempty"`
	Mentions        []string `json:"mentions,omitempty"`
	ClientMessageID string   `json:"clientMessageId,omitempty"`
	ReplyTo         string   `json:"replyTo,omitempty"`
}

type FileRef struct {
	ID string `json:"_id"`
}

// File returns the referenced file id from either field.
func (r ChatMessageRequest) File() string {
	if r.FileID == "" && r.FileData != nil {
		return r.FileData.ID
	}
	return r.FileID
}

type ReactionRequest struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId,omitempty"`
	Reaction  string `json:"reaction"`
	Type      string `json:"type"`
}

type MarkReadRequest struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId,omitempty"`
}

// DecodeMarkRead accepts either a bare message id string or a MarkReadRequest.
func DecodeMarkRead(data json.RawMessage) (MarkReadRequest, error) {
	var messageID string
	if err := json.Unmarshal(data, &messageID); err == nil {
		return MarkReadRequest{MessageID: messageID}, nil
	}
	var req MarkReadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return MarkReadRequest{}, fmt.Errorf("decode read receipt: %w", err)
	}
	return req, nil
}

type FetchMessagesRequest struct {
	RoomID string     `json:"roomId"`
	Before *time.Time `json:"before,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

type AIMessageRequest struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	AIType  string `json:"aiType"`
}
