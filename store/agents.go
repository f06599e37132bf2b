package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/immagent/immagent/asset"
)

const agentColumns = `id, created_at, name, system_prompt_id, parent_id, conversation_id, model, metadata, model_config`

// CreateAgent builds a fresh agent with an empty conversation, persists the
// whole asset graph, and returns the agent.
func (s *Store) CreateAgent(ctx context.Context, name, systemPrompt, model string, metadata, modelConfig map[string]any) (asset.Agent, error) {
	prompt, err := asset.NewSystemPrompt(systemPrompt)
	if err != nil {
		return asset.Agent{}, err
	}
	conv := asset.NewConversation()

	agent, err := asset.NewAgent(name, prompt.ID, conv.ID, model, metadata, modelConfig)
	if err != nil {
		return asset.Agent{}, err
	}

	s.CacheAll(prompt, conv)
	if err := s.Save(ctx, agent); err != nil {
		return asset.Agent{}, err
	}
	return agent, nil
}

// LoadAgent fetches one agent, cache first.
func (s *Store) LoadAgent(ctx context.Context, id uuid.UUID) (asset.Agent, error) {
	if cached, ok := s.cache.get(id); ok {
		if a, ok := cached.(asset.Agent); ok {
			return a, nil
		}
	}
	if s.memory {
		return asset.Agent{}, asset.NewAgentNotFound(id)
	}

	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return asset.Agent{}, asset.NewAgentNotFound(id)
		}
		return asset.Agent{}, fmt.Errorf("load agent: %w", err)
	}

	s.cache.put(a.ID, a)
	return a, nil
}

// LoadAgents fetches agents in the given order. Uncached IDs come from one
// batched query; any ID that resolves nowhere is an AgentNotFoundError.
func (s *Store) LoadAgents(ctx context.Context, ids []uuid.UUID) ([]asset.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[uuid.UUID]asset.Agent, len(ids))
	var toLoad []uuid.UUID
	for _, id := range ids {
		if cached, ok := s.cache.get(id); ok {
			if a, ok := cached.(asset.Agent); ok {
				byID[id] = a
				continue
			}
		}
		toLoad = append(toLoad, id)
	}

	if len(toLoad) > 0 && !s.memory {
		rows, err := s.conn(ctx).Query(ctx,
			`SELECT `+agentColumns+` FROM agents WHERE id = ANY($1)`, toLoad)
		if err != nil {
			return nil, fmt.Errorf("load agents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanAgent(rows)
			if err != nil {
				return nil, err
			}
			s.cache.put(a.ID, a)
			byID[a.ID] = a
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("load agents: %w", err)
		}
	}

	out := make([]asset.Agent, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, asset.NewAgentNotFound(id)
		}
		out = append(out, a)
	}
	return out, nil
}

// ListAgents returns agents newest first, optionally filtered by a
// case-insensitive name substring. Limit caps the page when positive; offset
// skips past earlier pages.
func (s *Store) ListAgents(ctx context.Context, namePattern string, limit, offset int) ([]asset.Agent, error) {
	if s.memory {
		return s.listCached(namePattern, limit, offset), nil
	}

	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if namePattern != "" {
		query += ` WHERE name ILIKE $1`
		args = append(args, "%"+namePattern+"%")
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, offset)
	}

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []asset.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		s.cache.put(a.ID, a)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out, nil
}

// CountAgents returns the number of stored agents, optionally filtered by a
// case-insensitive name substring.
func (s *Store) CountAgents(ctx context.Context, namePattern string) (int, error) {
	if s.memory {
		return len(s.listCached(namePattern, 0, 0)), nil
	}

	query := `SELECT COUNT(*) FROM agents`
	var args []any
	if namePattern != "" {
		query += ` WHERE name ILIKE $1`
		args = append(args, "%"+namePattern+"%")
	}

	var n int
	if err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

// FindByName returns the newest agent with exactly the given name, or an
// AgentNotFoundError when none matches.
func (s *Store) FindByName(ctx context.Context, name string) (asset.Agent, error) {
	if s.memory {
		var (
			found bool
			best  asset.Agent
		)
		for _, v := range s.cache.values() {
			a, ok := v.(asset.Agent)
			if !ok || a.Name != name {
				continue
			}
			if !found || a.CreatedAt.After(best.CreatedAt) {
				best, found = a, true
			}
		}
		if !found {
			return asset.Agent{}, asset.NewAgentNotFound(uuid.Nil)
		}
		return best, nil
	}

	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE name = $1 ORDER BY created_at DESC LIMIT 1`, name)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return asset.Agent{}, asset.NewAgentNotFound(uuid.Nil)
		}
		return asset.Agent{}, fmt.Errorf("find agent by name: %w", err)
	}

	s.cache.put(a.ID, a)
	return a, nil
}

// DeleteAgent removes one agent row and evicts it from the cache. Children
// keep their rows; their parent_id becomes NULL. Shared prompts,
// conversations, and messages stay until GC decides they are unreferenced.
func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	if s.memory {
		if _, ok := s.cache.get(id); !ok {
			return asset.NewAgentNotFound(id)
		}
		s.cache.remove(id)
		return nil
	}

	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return asset.NewAgentNotFound(id)
	}
	s.cache.remove(id)
	return nil
}

// CloneAgent persists a sibling of the given agent: same parent, same
// conversation, fresh identity.
func (s *Store) CloneAgent(ctx context.Context, agent asset.Agent) (asset.Agent, error) {
	sibling := agent.CloneAsSibling()
	if err := s.Save(ctx, sibling); err != nil {
		return asset.Agent{}, err
	}
	return sibling, nil
}

// UpdateMetadata derives a child of the given agent carrying the new metadata
// and persists it. The original agent is untouched.
func (s *Store) UpdateMetadata(ctx context.Context, agent asset.Agent, metadata map[string]any) (asset.Agent, error) {
	child := agent.WithMetadata(metadata)
	if err := s.Save(ctx, child); err != nil {
		return asset.Agent{}, err
	}
	return child, nil
}

// Lineage walks the parent chain from the given agent up to its root and
// returns it oldest first. A dangling parent reference is an
// AgentNotFoundError.
func (s *Store) Lineage(ctx context.Context, id uuid.UUID) ([]asset.Agent, error) {
	if s.memory {
		return s.lineageCached(id)
	}

	rows, err := s.conn(ctx).Query(ctx, `
		WITH RECURSIVE chain AS (
		    SELECT `+agentColumns+`, 0 AS depth FROM agents WHERE id = $1
		    UNION ALL
		    SELECT `+prefixColumns("a", agentColumns)+`, chain.depth + 1
		    FROM agents a JOIN chain ON a.id = chain.parent_id
		)
		SELECT `+agentColumns+` FROM chain ORDER BY depth DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("load lineage: %w", err)
	}
	defer rows.Close()

	var out []asset.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		s.cache.put(a.ID, a)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load lineage: %w", err)
	}

	if len(out) == 0 {
		return nil, asset.NewAgentNotFound(id)
	}
	return out, nil
}

func (s *Store) lineageCached(id uuid.UUID) ([]asset.Agent, error) {
	var chain []asset.Agent
	next := &id
	for next != nil {
		cached, ok := s.cache.get(*next)
		if !ok {
			return nil, asset.NewAgentNotFound(*next)
		}
		a, ok := cached.(asset.Agent)
		if !ok {
			return nil, asset.NewAgentNotFound(*next)
		}
		chain = append(chain, a)
		next = a.ParentID
	}

	// Oldest first, like the recursive query.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// listCached answers list/count queries from the cache in memory mode.
func (s *Store) listCached(namePattern string, limit, offset int) []asset.Agent {
	pattern := strings.ToLower(namePattern)

	var out []asset.Agent
	for _, v := range s.cache.values() {
		a, ok := v.(asset.Agent)
		if !ok {
			continue
		}
		if pattern != "" && !strings.Contains(strings.ToLower(a.Name), pattern) {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias, for use inside joins.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
