package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func humanSender(t *testing.T, id string) Sender {
	t.Helper()
	s, err := NewHumanSender(id, "alice", "alice@example.com")
	require.NoError(t, err)
	return s
}

func TestNewMessage(t *testing.T) {
	m, err := NewMessage(MessageDraft{
		RoomID:   "r1",
		Sender:   humanSender(t, "u1"),
		Content:  "  hi  ",
		Mentions: []string{"u2", "u1", "u2", ""},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, MessageText, m.Type)
	assert.Equal(t, []string{"u2"}, m.Mentions)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestNewMessageValidation(t *testing.T) {
	sender := humanSender(t, "u1")

	cases := map[string]MessageDraft{
		"missing room":    {Sender: sender, Content: "hi"},
		"empty content":   {RoomID: "r1", Sender: sender, Content: "   "},
		"too long":        {RoomID: "r1", Sender: sender, Content: strings.Repeat("a", MaxContentLength+1)},
		"unknown type":    {RoomID: "r1", Sender: sender, Content: "hi", Type: "video"},
		"file without id": {RoomID: "r1", Sender: sender, Type: MessageFile},
		"no sender":       {RoomID: "r1", Content: "hi"},
	}
	for name, draft := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewMessage(draft)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestFileMessageAllowsEmptyContent(t *testing.T) {
	m, err := NewMessage(MessageDraft{RoomID: "r1", Sender: humanSender(t, "u1"), FileID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, MessageFile, m.Type)
}

func TestApplyReaction(t *testing.T) {
	m := &Message{}

	assert.True(t, m.ApplyReaction("👍", "u1", ReactionAdd))
	assert.False(t, m.ApplyReaction("👍", "u1", ReactionAdd))
	assert.True(t, m.ApplyReaction("👍", "u2", ReactionAdd))
	assert.Equal(t, []string{"u1", "u2"}, m.Reactions["👍"])

	assert.True(t, m.ApplyReaction("👍", "u1", ReactionRemove))
	assert.True(t, m.ApplyReaction("👍", "u2", ReactionRemove))
	assert.NotContains(t, m.Reactions, "👍")
	assert.False(t, m.ApplyReaction("👍", "u2", ReactionRemove))
}

func TestMarkRead(t *testing.T) {
	m := &Message{}
	first := time.Now()

	assert.True(t, m.MarkRead("u1", first))
	assert.False(t, m.MarkRead("u1", first.Add(time.Second)))
	assert.True(t, m.MarkRead("u2", first))
	require.Len(t, m.ReadBy, 2)
	assert.True(t, m.ReadBy[0].ReadAt.Equal(first))
}

func TestSenders(t *testing.T) {
	_, err := NewHumanSender("", "x", "")
	assert.ErrorIs(t, err, ErrInvalidSender)

	_, err = NewHumanSender("u1", "x", "bad")
	assert.ErrorIs(t, err, ErrInvalidSender)

	ai, err := NewAssistantSender(PersonaWayne)
	require.NoError(t, err)
	assert.True(t, ai.IsAssistant())
	assert.Equal(t, "Wayne AI", ai.Name)

	_, err = NewAssistantSender("otherAI")
	assert.ErrorIs(t, err, ErrUnknownPersona)
}
