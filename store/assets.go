package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/immagent/immagent/asset"
)

const messageColumns = `id, created_at, role, content, tool_calls, tool_call_id, input_tokens, output_tokens`

// GetSystemPrompt loads a system prompt, cache first.
func (s *Store) GetSystemPrompt(ctx context.Context, id uuid.UUID) (asset.SystemPrompt, error) {
	if cached, ok := s.cache.get(id); ok {
		if p, ok := cached.(asset.SystemPrompt); ok {
			return p, nil
		}
	}
	if s.memory {
		return asset.SystemPrompt{}, asset.NewSystemPromptNotFound(id)
	}

	var p asset.SystemPrompt
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, created_at, content FROM system_prompts WHERE id = $1`, id,
	).Scan(&p.ID, &p.CreatedAt, &p.Content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return asset.SystemPrompt{}, asset.NewSystemPromptNotFound(id)
		}
		return asset.SystemPrompt{}, fmt.Errorf("load system prompt: %w", err)
	}

	s.cache.put(p.ID, p)
	return p, nil
}

// GetConversation loads a conversation, cache first.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (asset.Conversation, error) {
	if cached, ok := s.cache.get(id); ok {
		if c, ok := cached.(asset.Conversation); ok {
			return c, nil
		}
	}
	if s.memory {
		return asset.Conversation{}, asset.NewConversationNotFound(id)
	}

	var c asset.Conversation
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, created_at, message_ids FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.CreatedAt, &c.MessageIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return asset.Conversation{}, asset.NewConversationNotFound(id)
		}
		return asset.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}

	s.cache.put(c.ID, c)
	return c, nil
}

// GetMessage loads a single message, cache first.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (asset.Message, error) {
	msgs, err := s.getMessages(ctx, []uuid.UUID{id})
	if err != nil {
		return asset.Message{}, err
	}
	return msgs[0], nil
}

// getMessages loads messages in the given order. Cached entries are used
// where present; the rest come from one batched query. Any ID that resolves
// nowhere is a MessageNotFoundError.
func (s *Store) getMessages(ctx context.Context, ids []uuid.UUID) ([]asset.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[uuid.UUID]asset.Message, len(ids))
	var toLoad []uuid.UUID
	for _, id := range ids {
		if cached, ok := s.cache.get(id); ok {
			if m, ok := cached.(asset.Message); ok {
				byID[id] = m
				continue
			}
		}
		toLoad = append(toLoad, id)
	}

	if len(toLoad) > 0 && !s.memory {
		rows, err := s.conn(ctx).Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, toLoad)
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return nil, err
			}
			s.cache.put(m.ID, m)
			byID[m.ID] = m
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
	}

	out := make([]asset.Message, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, asset.NewMessageNotFound(id)
		}
		out = append(out, m)
	}
	return out, nil
}

// GetMessages returns an agent's transcript in conversation order.
func (s *Store) GetMessages(ctx context.Context, agent asset.Agent) ([]asset.Message, error) {
	conv, err := s.GetConversation(ctx, agent.ConversationID)
	if err != nil {
		return nil, err
	}
	return s.getMessages(ctx, conv.MessageIDs)
}

// GetTokenUsage sums the token counts reported for the assistant messages in
// an agent's conversation.
func (s *Store) GetTokenUsage(ctx context.Context, agent asset.Agent) (asset.Usage, error) {
	msgs, err := s.GetMessages(ctx, agent)
	if err != nil {
		return asset.Usage{}, err
	}

	var usage asset.Usage
	for _, m := range msgs {
		if m.Role != asset.RoleAssistant {
			continue
		}
		if m.InputTokens != nil {
			usage.InputTokens += *m.InputTokens
		}
		if m.OutputTokens != nil {
			usage.OutputTokens += *m.OutputTokens
		}
	}
	return usage, nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (asset.Message, error) {
	var (
		m         asset.Message
		toolCalls []byte
	)
	err := row.Scan(&m.ID, &m.CreatedAt, &m.Role, &m.Content, &toolCalls,
		&m.ToolCallID, &m.InputTokens, &m.OutputTokens)
	if err != nil {
		return asset.Message{}, fmt.Errorf("scan message: %w", err)
	}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return asset.Message{}, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	return m, nil
}

func scanAgent(row rowScanner) (asset.Agent, error) {
	var (
		a           asset.Agent
		metadata    []byte
		modelConfig []byte
	)
	err := row.Scan(&a.ID, &a.CreatedAt, &a.Name, &a.SystemPromptID, &a.ParentID,
		&a.ConversationID, &a.Model, &metadata, &modelConfig)
	if err != nil {
		return asset.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return asset.Agent{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	if len(modelConfig) > 0 {
		if err := json.Unmarshal(modelConfig, &a.ModelConfig); err != nil {
			return asset.Agent{}, fmt.Errorf("decode model config: %w", err)
		}
	}
	if a.ModelConfig == nil {
		a.ModelConfig = map[string]any{}
	}
	return a, nil
}
