package domain

import (
	"fmt"

	"github.com/hilthontt/visper-relay/internal/infrastructure/validate"
)

type SenderKind string

const (
	SenderHuman     SenderKind = "human"
	SenderAssistant SenderKind = "ai"
)

type PersonaType string

const (
	PersonaWayne      PersonaType = "wayneAI"
	PersonaConsulting PersonaType = "consultingAI"
)

// Persona describes an AI participant.
type Persona struct {
	Type        PersonaType `json:"type" bson:"type"`
	Name        string      `json:"name" bson:"name"`
	Email       string      `json:"email" bson:"email"`
	Role        string      `json:"role" bson:"role"`
	Traits      string      `json:"-" bson:"-"`
	Tone        string      `json:"-" bson:"-"`
	Description string      `json:"description" bson:"description"`
}

var personas = map[PersonaType]Persona{
	PersonaWayne: {
		Type:        PersonaWayne,
		Name:        "Wayne AI",
		Email:       "ai@wayne.ai",
		Role:        "a friendly and helpful assistant",
		Traits:      "You give professional, insightful answers, understand the question in depth and explain clearly.",
		Tone:        "professional yet friendly",
		Description: "Friendly and helpful assistant",
	},
	PersonaConsulting: {
		Type:        PersonaConsulting,
		Name:        "Consulting AI",
		Email:       "ai@consulting.ai",
		Role:        "a business consulting expert",
		Traits:      "You give expert advice on business strategy, market analysis and organisational management.",
		Tone:        "professional and analytical",
		Description: "Business consulting expert",
	},
}

func LookupPersona(t PersonaType) (Persona, error) {
	p, ok := personas[t]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, t)
	}
	return p, nil
}

func Personas() []Persona {
	return []Persona{personas[PersonaWayne], personas[PersonaConsulting]}
}

// Sender is either a human user or an AI persona. Build it with
// NewHumanSender or NewAssistantSender.
type Sender struct {
	Kind    SenderKind  `json:"kind" bson:"kind"`
	ID      string      `json:"id" bson:"id"`
	Name    string      `json:"name" bson:"name"`
	Email   string      `json:"email,omitempty" bson:"email,omitempty"`
	Persona PersonaType `json:"persona,omitempty" bson:"persona,omitempty"`
}

var validateEmail = validate.Field("email", validate.Email())

func NewHumanSender(id, name, email string) (Sender, error) {
	if err := validate.Field("id", validate.Required())(id); err != nil {
		return Sender{}, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	if err := validateEmail(email); err != nil {
		return Sender{}, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	return Sender{Kind: SenderHuman, ID: id, Name: name, Email: email}, nil
}

func NewAssistantSender(t PersonaType) (Sender, error) {
	p, err := LookupPersona(t)
	if err != nil {
		return Sender{}, err
	}
	return Sender{Kind: SenderAssistant, ID: string(p.Type), Name: p.Name, Email: p.Email, Persona: p.Type}, nil
}

func (s Sender) IsAssistant() bool {
	return s.Kind == SenderAssistant
}
