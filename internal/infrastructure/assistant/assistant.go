package assistant

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/hilthontt/visper-relay/internal/domain"
)

var ErrDisabled = errors.New("assistant is disabled")

type ChunkKind int

const (
	// ChunkDelta carries new text. Content holds everything so far.
	ChunkDelta ChunkKind = iota + 1
	// ChunkComplete ends the stream. Content holds the full reply.
	ChunkComplete
)

type Chunk struct {
	Kind    ChunkKind
	Delta   string
	Content string
}

// Stream yields ChunkDelta values until a single ChunkComplete or an error.
// Close cancels the underlying request.
type Stream interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

type Assistant interface {
	Stream(ctx context.Context, persona domain.Persona, prompt string) (Stream, error)
}

var personaMention = regexp.MustCompile(`@(wayneAI|consultingAI)`)

// ResolvePersona picks the persona mentioned in prompt, falling back to
// requested, then to Wayne AI.
func ResolvePersona(requested domain.PersonaType, prompt string) (domain.Persona, error) {
	if m := personaMention.FindStringSubmatch(prompt); m != nil {
		requested = domain.PersonaType(m[1])
	}
	if requested == "" {
		requested = domain.PersonaWayne
	}
	return domain.LookupPersona(requested)
}

// CleanPrompt strips persona mentions from prompt.
func CleanPrompt(prompt string) string {
	return strings.TrimSpace(personaMention.ReplaceAllString(prompt, ""))
}

func systemPrompt(p domain.Persona) string {
	return "You are " + p.Name + ", " + p.Role + ". " + p.Traits + " Keep a " + p.Tone + " tone."
}

// Disabled is used when no provider is configured.
type Disabled struct{}

func (Disabled) Stream(context.Context, domain.Persona, string) (Stream, error) {
	return nil, ErrDisabled
}
