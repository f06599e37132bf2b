package asset

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is the sentinel all NotFoundError values match via errors.Is.
var ErrNotFound = errors.New("asset not found")

// Kind names an asset kind in error messages.
type Kind string

const (
	KindAgent        Kind = "agent"
	KindConversation Kind = "conversation"
	KindSystemPrompt Kind = "system prompt"
	KindMessage      Kind = "message"
)

// ValidationError reports a violated construction or input rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced asset missing from the store. It usually
// means a stale handle or a corrupt store; it is never retried.
type NotFoundError struct {
	Kind Kind
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewAgentNotFound reports a missing agent.
func NewAgentNotFound(id uuid.UUID) error {
	return &NotFoundError{Kind: KindAgent, ID: id}
}

// NewConversationNotFound reports a missing conversation.
func NewConversationNotFound(id uuid.UUID) error {
	return &NotFoundError{Kind: KindConversation, ID: id}
}

// NewSystemPromptNotFound reports a missing system prompt.
func NewSystemPromptNotFound(id uuid.UUID) error {
	return &NotFoundError{Kind: KindSystemPrompt, ID: id}
}

// NewMessageNotFound reports a missing message.
func NewMessageNotFound(id uuid.UUID) error {
	return &NotFoundError{Kind: KindMessage, ID: id}
}
