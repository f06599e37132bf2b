package asset

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Agent is one immutable conversational state: a name, a system prompt, a
// conversation, a model identity, and free-form metadata and model
// configuration. Advancing an agent never changes it; the successor state is
// a new Agent whose ParentID points back here.
//
// Equality between two agents is identity equality on ID. The struct holds no
// reference to the store that loaded it; all graph operations are explicit
// store or engine calls that take the agent as an argument.
type Agent struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Name           string
	SystemPromptID uuid.UUID
	ParentID       *uuid.UUID
	ConversationID uuid.UUID
	Model          string
	Metadata       map[string]any
	ModelConfig    map[string]any
}

// NewAgent creates a root agent (nil parent) over the given prompt and
// conversation. Name and model must be non-empty after trimming. Nil metadata
// and model config are normalized to empty maps so they round-trip as JSON
// objects.
func NewAgent(name string, systemPromptID, conversationID uuid.UUID, model string, metadata, modelConfig map[string]any) (Agent, error) {
	if isBlank(name) {
		return Agent{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if isBlank(model) {
		return Agent{}, &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	return Agent{
		ID:             NewID(),
		CreatedAt:      Now(),
		Name:           name,
		SystemPromptID: systemPromptID,
		ConversationID: conversationID,
		Model:          model,
		Metadata:       orEmpty(metadata),
		ModelConfig:    orEmpty(modelConfig),
	}, nil
}

// Evolve derives the successor state over an updated conversation. Everything
// but the conversation is inherited; the new agent's parent is the receiver.
func (a Agent) Evolve(conversation Conversation) Agent {
	parent := a.ID
	return Agent{
		ID:             NewID(),
		CreatedAt:      Now(),
		Name:           a.Name,
		SystemPromptID: a.SystemPromptID,
		ParentID:       &parent,
		ConversationID: conversation.ID,
		Model:          a.Model,
		Metadata:       a.Metadata,
		ModelConfig:    a.ModelConfig,
	}
}

// CloneAsSibling derives a copy that shares the receiver's parent,
// conversation, and prompt. Advancing the clone branches the graph without
// touching the original.
func (a Agent) CloneAsSibling() Agent {
	return Agent{
		ID:             NewID(),
		CreatedAt:      Now(),
		Name:           a.Name,
		SystemPromptID: a.SystemPromptID,
		ParentID:       a.ParentID,
		ConversationID: a.ConversationID,
		Model:          a.Model,
		Metadata:       a.Metadata,
		ModelConfig:    a.ModelConfig,
	}
}

// WithMetadata derives a child state whose metadata is replaced by the given
// map. Unlike CloneAsSibling, the new agent's parent is the receiver.
func (a Agent) WithMetadata(metadata map[string]any) Agent {
	parent := a.ID
	return Agent{
		ID:             NewID(),
		CreatedAt:      Now(),
		Name:           a.Name,
		SystemPromptID: a.SystemPromptID,
		ParentID:       &parent,
		ConversationID: a.ConversationID,
		Model:          a.Model,
		Metadata:       orEmpty(metadata),
		ModelConfig:    a.ModelConfig,
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
