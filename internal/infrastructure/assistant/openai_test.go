package assistant

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChunks struct {
	deltas []string
	pos    int
	err    error
	closed bool
}

func (f *fakeChunks) Next() bool {
	if f.pos >= len(f.deltas) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeChunks) Current() openai.ChatCompletionChunk {
	var c openai.ChatCompletionChunk
	c.Choices = []openai.ChatCompletionChunkChoice{{}}
	c.Choices[0].Delta.Content = f.deltas[f.pos-1]
	return c
}

func (f *fakeChunks) Err() error   { return f.err }
func (f *fakeChunks) Close() error { f.closed = true; return nil }

func TestCompletionStreamYieldsDeltasThenComplete(t *testing.T) {
	src := &fakeChunks{deltas: []string{"Hel", "", "lo"}}
	s := &completionStream{chunks: src, cancel: func() {}}
	ctx := context.Background()

	c, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Chunk{Kind: ChunkDelta, Delta: "Hel", Content: "Hel"}, c)

	c, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Chunk{Kind: ChunkDelta, Delta: "lo", Content: "Hello"}, c)

	c, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, ChunkComplete, c.Kind)
	assert.Equal(t, "Hello", c.Content)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, s.Close())
	assert.True(t, src.closed)
}

func TestCompletionStreamError(t *testing.T) {
	s := &completionStream{chunks: &fakeChunks{err: errors.New("429")}, cancel: func() {}}

	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompletionStreamHonoursContext(t *testing.T) {
	s := &completionStream{chunks: &fakeChunks{deltas: []string{"x"}}, cancel: func() {}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolvePersona(t *testing.T) {
	p, err := ResolvePersona("", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.PersonaWayne, p.Type)

	p, err = ResolvePersona(domain.PersonaWayne, "@consultingAI how do I price this?")
	require.NoError(t, err)
	assert.Equal(t, domain.PersonaConsulting, p.Type)

	_, err = ResolvePersona("unknownAI", "hi")
	assert.ErrorIs(t, err, domain.ErrUnknownPersona)

	assert.Equal(t, "how do I price this?", CleanPrompt("@consultingAI how do I price this?"))
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Stream(context.Background(), domain.Persona{}, "hi")
	assert.ErrorIs(t, err, ErrDisabled)
}
