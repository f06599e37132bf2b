package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/immagent/immagent/asset"
	"github.com/immagent/immagent/internal/metrics"
)

// Save persists assets and everything they depend on, in one transaction.
// For an agent that means its system prompt, its conversation, and every
// message the conversation references; for a conversation, its messages.
// Dependencies are resolved from the cache, so callers cache new dependency
// assets (CacheAll) before saving the parent. Rows are content-addressed and
// immutable: an existing ID is left untouched.
//
// In memory mode Save only populates the cache.
func (s *Store) Save(ctx context.Context, assets ...any) error {
	rows := s.collect(assets)

	if s.memory {
		s.CacheAll(rows...)
		return nil
	}

	err := s.withTx(ctx, func(ctx context.Context) error {
		for _, v := range rows {
			if err := s.insert(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.CacheAll(rows...)
	return nil
}

// collect expands the given assets into the full dependency closure, ordered
// dependency-first and deduplicated by ID.
func (s *Store) collect(assets []any) []any {
	seen := make(map[uuid.UUID]bool)
	var out []any

	add := func(v any) {
		id, ok := assetID(v)
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, v)
	}

	var addConversation func(c asset.Conversation)
	addConversation = func(c asset.Conversation) {
		for _, mid := range c.MessageIDs {
			if cached, ok := s.cache.get(mid); ok {
				if m, ok := cached.(asset.Message); ok {
					add(m)
				}
			}
		}
		add(c)
	}

	for _, v := range assets {
		switch a := v.(type) {
		case asset.Agent:
			if cached, ok := s.cache.get(a.SystemPromptID); ok {
				if p, ok := cached.(asset.SystemPrompt); ok {
					add(p)
				}
			}
			if cached, ok := s.cache.get(a.ConversationID); ok {
				if c, ok := cached.(asset.Conversation); ok {
					addConversation(c)
				}
			}
			add(a)
		case asset.Conversation:
			addConversation(a)
		default:
			add(v)
		}
	}
	return out
}

func (s *Store) insert(ctx context.Context, v any) error {
	switch a := v.(type) {
	case asset.SystemPrompt:
		_, err := s.conn(ctx).Exec(ctx, `
			INSERT INTO system_prompts (id, created_at, content)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
			a.ID, a.CreatedAt, a.Content)
		if err != nil {
			return fmt.Errorf("save system prompt: %w", err)
		}
		kindSaved(asset.KindSystemPrompt)

	case asset.Message:
		toolCalls, err := encodeJSON(a.ToolCalls, len(a.ToolCalls) == 0)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		_, err = s.conn(ctx).Exec(ctx, `
			INSERT INTO messages (id, created_at, role, content, tool_calls, tool_call_id, input_tokens, output_tokens)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			a.ID, a.CreatedAt, a.Role, a.Content, toolCalls,
			a.ToolCallID, a.InputTokens, a.OutputTokens)
		if err != nil {
			return fmt.Errorf("save message: %w", err)
		}
		kindSaved(asset.KindMessage)

	case asset.Conversation:
		_, err := s.conn(ctx).Exec(ctx, `
			INSERT INTO conversations (id, created_at, message_ids)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
			a.ID, a.CreatedAt, a.MessageIDs)
		if err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		kindSaved(asset.KindConversation)

	case asset.Agent:
		metadata, err := encodeJSON(a.Metadata, false)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		modelConfig, err := encodeJSON(a.ModelConfig, false)
		if err != nil {
			return fmt.Errorf("encode model config: %w", err)
		}
		_, err = s.conn(ctx).Exec(ctx, `
			INSERT INTO agents (id, created_at, name, system_prompt_id, parent_id, conversation_id, model, metadata, model_config)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			a.ID, a.CreatedAt, a.Name, a.SystemPromptID, a.ParentID,
			a.ConversationID, a.Model, metadata, modelConfig)
		if err != nil {
			return fmt.Errorf("save agent: %w", err)
		}
		kindSaved(asset.KindAgent)

	default:
		return fmt.Errorf("save: unsupported asset type %T", v)
	}
	return nil
}

func kindSaved(kind asset.Kind) {
	metrics.AssetsSavedTotal.WithLabelValues(string(kind)).Inc()
}

// encodeJSON marshals v for a JSONB column. nilWhenEmpty maps an empty value
// to SQL NULL instead of '{}' or '[]'.
func encodeJSON(v any, nilWhenEmpty bool) ([]byte, error) {
	if nilWhenEmpty {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
