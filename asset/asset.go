// Package asset defines the immutable value types that make up an agent
// graph: system prompts, messages, conversations, and agents. Every asset
// carries a random UUID and a UTC creation instant, stamped at construction.
// Assets are never mutated; deriving a new state mints a new asset that
// references its predecessor.
package asset

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a fresh random identifier for an asset.
func NewID() uuid.UUID {
	return uuid.New()
}

// Now returns the current instant in UTC, truncated to microseconds to match
// the precision Postgres stores for timestamptz columns.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// SystemPrompt is an immutable system prompt. It may be shared by any number
// of agents.
type SystemPrompt struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Content   string
}

// NewSystemPrompt creates a system prompt with a fresh ID and timestamp.
// The content must be non-empty after trimming.
func NewSystemPrompt(content string) (SystemPrompt, error) {
	if isBlank(content) {
		return SystemPrompt{}, &ValidationError{Field: "system_prompt", Reason: "must not be empty"}
	}
	return SystemPrompt{
		ID:        NewID(),
		CreatedAt: Now(),
		Content:   content,
	}, nil
}
