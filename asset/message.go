package asset

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the assistant. It is embedded in
// an assistant message rather than stored as an asset of its own.
//
// Arguments holds the provider's raw JSON text. It is deliberately not parsed
// here: preserving the byte-exact text avoids normalization drift when a
// conversation is replayed.
type ToolCall struct {
	CallID    string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage carries the token counts a provider reported for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Message is one immutable turn in a conversation. Exactly one of the three
// role shapes applies:
//
//   - user: Content set, no tool calls, no tool call id, no token counts
//   - assistant: ToolCalls optional; Content required when there are none;
//     token counts present iff the provider reported them
//   - tool: ToolCallID and Content set, nothing else
type Message struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Role         Role
	Content      *string
	ToolCalls    []ToolCall
	ToolCallID   *string
	InputTokens  *int
	OutputTokens *int
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{
		ID:        NewID(),
		CreatedAt: Now(),
		Role:      RoleUser,
		Content:   &content,
	}
}

// AssistantMessage creates an assistant message. Content may be nil only when
// at least one tool call is present. usage is nil when the provider did not
// report token counts.
func AssistantMessage(content *string, toolCalls []ToolCall, usage *Usage) (Message, error) {
	if content == nil && len(toolCalls) == 0 {
		return Message{}, &ValidationError{Field: "content", Reason: "assistant message without tool calls must have content"}
	}
	msg := Message{
		ID:        NewID(),
		CreatedAt: Now(),
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}
	if usage != nil {
		in, out := usage.InputTokens, usage.OutputTokens
		msg.InputTokens = &in
		msg.OutputTokens = &out
	}
	return msg, nil
}

// ToolMessage creates a tool-result message answering the given tool call.
func ToolMessage(toolCallID, content string) (Message, error) {
	if toolCallID == "" {
		return Message{}, &ValidationError{Field: "tool_call_id", Reason: "must not be empty"}
	}
	return Message{
		ID:         NewID(),
		CreatedAt:  Now(),
		Role:       RoleTool,
		Content:    &content,
		ToolCallID: &toolCallID,
	}, nil
}

// Conversation is an immutable ordered list of message IDs. The order is the
// canonical transcript order. Appending happens by derivation: WithMessages
// returns a new conversation, it never mutates the receiver.
type Conversation struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	MessageIDs []uuid.UUID
}

// NewConversation creates an empty conversation.
func NewConversation() Conversation {
	return Conversation{
		ID:        NewID(),
		CreatedAt: Now(),
	}
}

// WithMessages derives a new conversation whose message sequence is the
// receiver's sequence followed by the given IDs.
func (c Conversation) WithMessages(ids ...uuid.UUID) Conversation {
	combined := make([]uuid.UUID, 0, len(c.MessageIDs)+len(ids))
	combined = append(combined, c.MessageIDs...)
	combined = append(combined, ids...)
	return Conversation{
		ID:         NewID(),
		CreatedAt:  Now(),
		MessageIDs: combined,
	}
}
