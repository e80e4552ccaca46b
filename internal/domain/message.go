package domain

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/visper-relay/internal/infrastructure/validate"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageAI     MessageType = "ai"
	MessageFile   MessageType = "file"
)

const MaxContentLength = 10000

type ReactionOp string

const (
	ReactionAdd    ReactionOp = "add"
	ReactionRemove ReactionOp = "remove"
)

type MessageMetadata struct {
	ClientMessageID string `json:"clientMessageId,omitempty" bson:"client_message_id,omitempty"`
	ReplyTo         string `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
}

type Message struct {
	ID        string              `json:"id" bson:"_id"`
	RoomID    string              `json:"roomId" bson:"room_id"`
	Sender    Sender              `json:"sender" bson:"sender"`
	Content   string              `json:"content" bson:"content"`
	Type      MessageType         `json:"type" bson:"type"`
	FileID    string              `json:"fileId,omitempty" bson:"file_id,omitempty"`
	File      *File               `json:"file,omitempty" bson:"-"`
	Mentions  []string            `json:"mentions,omitempty" bson:"mentions,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty" bson:"reactions,omitempty"`
	ReadBy    []ReadReceipt       `json:"readBy,omitempty" bson:"read_by,omitempty"`
	Metadata  MessageMetadata     `json:"metadata" bson:"metadata"`
	CreatedAt time.Time           `json:"timestamp" bson:"timestamp"`
}

type ReadReceipt struct {
	UserID string    `json:"userId" bson:"user_id"`
	ReadAt time.Time `json:"readAt" bson:"read_at"`
}

// MessageDraft is what a client submits before the message is sequenced.
type MessageDraft struct {
	RoomID          string
	Sender          Sender
	Content         string
	Type            MessageType
	FileID          string
	Mentions        []string
	ClientMessageID string
	ReplyTo         string
}

var validateType = validate.OneOf(string(MessageText), string(MessageSystem), string(MessageAI), string(MessageFile))

// NewMessage validates d and assigns the message id. The id is fixed before
// the message is queued so that a retried task upserts the same record.
func NewMessage(d MessageDraft) (*Message, error) {
	if d.Type == "" {
		d.Type = MessageText
		if d.FileID != "" {
			d.Type = MessageFile
		}
	}
	if err := validateType(string(d.Type)); err != nil {
		return nil, fmt.Errorf("%w: type %v", ErrInvalidMessage, err)
	}
	if err := validate.Field("roomId", validate.Required())(d.RoomID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if d.Sender.ID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, ErrInvalidSender)
	}

	content := strings.TrimSpace(d.Content)
	contentRules := []validate.Validator{validate.MaxLength(MaxContentLength)}
	if d.Type != MessageFile {
		contentRules = append([]validate.Validator{validate.Required()}, contentRules...)
	} else if d.FileID == "" {
		return nil, fmt.Errorf("%w: file message without file", ErrInvalidMessage)
	}
	if err := validate.Field("content", contentRules...)(content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	mentions := slices.Clone(d.Mentions)
	slices.Sort(mentions)
	mentions = slices.Compact(mentions)
	mentions = slices.DeleteFunc(mentions, func(id string) bool {
		return id == "" || id == d.Sender.ID
	})

	return &Message{
		ID:        uuid.NewString(),
		RoomID:    d.RoomID,
		Sender:    d.Sender,
		Content:   content,
		Type:      d.Type,
		FileID:    d.FileID,
		Mentions:  mentions,
		Reactions: map[string][]string{},
		Metadata: MessageMetadata{
			ClientMessageID: d.ClientMessageID,
			ReplyTo:         d.ReplyTo,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ApplyReaction adds or removes userID under emoji. It reports whether the
// message changed.
func (m *Message) ApplyReaction(emoji, userID string, op ReactionOp) bool {
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	users := m.Reactions[emoji]
	idx := slices.Index(users, userID)

	switch op {
	case ReactionAdd:
		if idx >= 0 {
			return false
		}
		m.Reactions[emoji] = append(users, userID)
		return true
	case ReactionRemove:
		if idx < 0 {
			return false
		}
		users = slices.Delete(users, idx, idx+1)
		if len(users) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = users
		}
		return true
	}
	return false
}

// MarkRead records the first read of userID. It reports whether the message
// changed.
func (m *Message) MarkRead(userID string, at time.Time) bool {
	if slices.ContainsFunc(m.ReadBy, func(r ReadReceipt) bool { return r.UserID == userID }) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	return true
}

type MessageRepository interface {
	// Create stores the message, replacing any record with the same id.
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListByRoom returns up to limit messages older than before, newest last.
	ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]Message, bool, error)
	ApplyReaction(ctx context.Context, messageID, emoji, userID string, op ReactionOp) (*Message, error)
	// MarkRead adds a read receipt once per user and reports whether one
	// was added.
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) (*Message, bool, error)
}
