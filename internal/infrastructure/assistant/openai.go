package assistant

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(cfg configs.AssistantConfig) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}
}

func (a *OpenAI) Stream(ctx context.Context, persona domain.Persona, prompt string) (Stream, error) {
	prompt = CleanPrompt(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrInvalidMessage)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := a.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(persona)),
			openai.UserMessage(prompt),
		},
	})

	return &completionStream{chunks: stream, cancel: cancel}, nil
}

type chunkSource interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

type completionStream struct {
	chunks  chunkSource
	cancel  context.CancelFunc
	content strings.Builder
	done    bool
}

func (s *completionStream) Next(ctx context.Context) (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	for s.chunks.Next() {
		current := s.chunks.Current()
		if len(current.Choices) == 0 {
			continue
		}
		delta := current.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		s.content.WriteString(delta)
		return Chunk{Kind: ChunkDelta, Delta: delta, Content: s.content.String()}, nil
	}

	if err := s.chunks.Err(); err != nil {
		return Chunk{}, fmt.Errorf("assistant stream failed: %w", err)
	}

	s.done = true
	return Chunk{Kind: ChunkComplete, Content: s.content.String()}, nil
}

func (s *completionStream) Close() error {
	s.cancel()
	return s.chunks.Close()
}
