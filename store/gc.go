package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/immagent/immagent/asset"
	"github.com/immagent/immagent/internal/metrics"
)

// GCResult counts the orphans removed by one garbage collection pass.
type GCResult struct {
	SystemPrompts int
	Conversations int
	Messages      int
}

// GC removes every asset no agent reaches: system prompts and conversations
// referenced by no agent row, then messages belonging to no surviving
// conversation. The three deletes run in one transaction, so a concurrent
// save either lands entirely before the pass or entirely after it. Agents
// are never collected.
//
// Memory mode keeps everything; the cache is the store.
func (s *Store) GC(ctx context.Context) (GCResult, error) {
	if s.memory {
		return GCResult{}, nil
	}

	var res GCResult
	err := s.withTx(ctx, func(ctx context.Context) error {
		prompts, err := s.deleteReturning(ctx, `
			DELETE FROM system_prompts
			WHERE id NOT IN (SELECT system_prompt_id FROM agents)
			RETURNING id`)
		if err != nil {
			return fmt.Errorf("gc system prompts: %w", err)
		}

		conversations, err := s.deleteReturning(ctx, `
			DELETE FROM conversations
			WHERE id NOT IN (SELECT conversation_id FROM agents)
			RETURNING id`)
		if err != nil {
			return fmt.Errorf("gc conversations: %w", err)
		}

		messages, err := s.deleteReturning(ctx, `
			DELETE FROM messages
			WHERE id NOT IN (SELECT unnest(message_ids) FROM conversations)
			RETURNING id`)
		if err != nil {
			return fmt.Errorf("gc messages: %w", err)
		}

		res = GCResult{
			SystemPrompts: len(prompts),
			Conversations: len(conversations),
			Messages:      len(messages),
		}
		for _, ids := range [][]uuid.UUID{prompts, conversations, messages} {
			for _, id := range ids {
				s.cache.remove(id)
			}
		}
		return nil
	})
	if err != nil {
		return GCResult{}, err
	}

	metrics.GCDeletedTotal.WithLabelValues(string(asset.KindSystemPrompt)).Add(float64(res.SystemPrompts))
	metrics.GCDeletedTotal.WithLabelValues(string(asset.KindConversation)).Add(float64(res.Conversations))
	metrics.GCDeletedTotal.WithLabelValues(string(asset.KindMessage)).Add(float64(res.Messages))
	return res, nil
}

func (s *Store) deleteReturning(ctx context.Context, query string) ([]uuid.UUID, error) {
	rows, err := s.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
