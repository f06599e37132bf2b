package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/immagent/immagent/asset"
)

func agentRow(a asset.Agent) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "created_at", "name", "system_prompt_id", "parent_id",
		"conversation_id", "model", "metadata", "model_config",
	})
	return rows.AddRow(a.ID, a.CreatedAt, a.Name, a.SystemPromptID, a.ParentID,
		a.ConversationID, a.Model, []byte(`{}`), []byte(`{}`))
}

func testAgent() asset.Agent {
	return asset.Agent{
		ID:             asset.NewID(),
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		Name:           "Calculator",
		SystemPromptID: asset.NewID(),
		ConversationID: asset.NewID(),
		Model:          "claude-3-5-haiku",
		Metadata:       map[string]any{},
		ModelConfig:    map[string]any{},
	}
}

func TestStore_LoadAgent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	agent := testAgent()

	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id").
		WithArgs(agent.ID).
		WillReturnRows(agentRow(agent))

	ctx := setupMockContext(mock)
	got, err := s.LoadAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != agent.ID || got.Name != agent.Name {
		t.Errorf("loaded agent = %+v", got)
	}

	// second load must come from the cache, no further query expected
	cached, err := s.LoadAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if cached.ID != agent.ID {
		t.Error("cache returned the wrong agent")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_ClearCache_ReloadMatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	agent := testAgent()

	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id").
		WithArgs(agent.ID).
		WillReturnRows(agentRow(agent))
	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id").
		WithArgs(agent.ID).
		WillReturnRows(agentRow(agent))

	ctx := setupMockContext(mock)
	before, err := s.LoadAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.ClearCache()

	after, err := s.LoadAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if after.ID != before.ID || after.Name != before.Name ||
		after.Model != before.Model ||
		after.SystemPromptID != before.SystemPromptID ||
		after.ConversationID != before.ConversationID ||
		!after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("reload after clear = %+v, want %+v", after, before)
	}

	// both queries consumed: the reload came from the database
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_LoadAgent_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	id := asset.NewID()

	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = s.LoadAgent(setupMockContext(mock), id)
	if !errors.Is(err, asset.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestStore_SaveCascade_DependencyOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)

	prompt, err := asset.NewSystemPrompt("You are a calculator.")
	if err != nil {
		t.Fatal(err)
	}
	user := asset.UserMessage("2+2?")
	conv := asset.NewConversation().WithMessages(user.ID)
	agent, err := asset.NewAgent("Calculator", prompt.ID, conv.ID, "claude-3-5-haiku", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	s.CacheAll(prompt, user, conv)

	// dependencies first: prompt, message, conversation, then the agent
	mock.ExpectExec("INSERT INTO system_prompts").
		WithArgs(prompt.ID, prompt.CreatedAt, prompt.Content).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(user.ID, user.CreatedAt, user.Role, user.Content, pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(conv.ID, conv.CreatedAt, conv.MessageIDs).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO agents").
		WithArgs(agent.ID, agent.CreatedAt, agent.Name, agent.SystemPromptID,
			agent.ParentID, agent.ConversationID, agent.Model,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := s.Save(setupMockContext(mock), agent); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}

	// everything written must be cached
	if _, ok := s.cache.get(agent.ID); !ok {
		t.Error("agent missing from cache after save")
	}
}

func TestStore_SaveCascade_AbortsOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)

	prompt, _ := asset.NewSystemPrompt("p")
	conv := asset.NewConversation()
	agent, _ := asset.NewAgent("A", prompt.ID, conv.ID, "m", nil, nil)
	s.CacheAll(prompt, conv)

	boom := errors.New("disk on fire")
	mock.ExpectExec("INSERT INTO system_prompts").
		WithArgs(prompt.ID, prompt.CreatedAt, prompt.Content).
		WillReturnError(boom)

	err = s.Save(setupMockContext(mock), agent)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}

	if _, ok := s.cache.get(agent.ID); ok {
		t.Error("failed save must not cache the agent")
	}
}

func TestStore_DeleteAgent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	agent := testAgent()
	s.CacheAll(agent)

	mock.ExpectExec("DELETE FROM agents WHERE id").
		WithArgs(agent.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	if err := s.DeleteAgent(setupMockContext(mock), agent.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := s.cache.get(agent.ID); ok {
		t.Error("deleted agent still cached")
	}
}

func TestStore_DeleteAgent_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	id := asset.NewID()

	mock.ExpectExec("DELETE FROM agents WHERE id").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = s.DeleteAgent(setupMockContext(mock), id)
	if !errors.Is(err, asset.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestStore_GC(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)

	promptID := asset.NewID()
	convID := asset.NewID()
	msgA, msgB := asset.NewID(), asset.NewID()

	// orphans linger in the cache until the sweep evicts them
	s.cache.put(promptID, asset.SystemPrompt{ID: promptID})

	mock.ExpectQuery("DELETE FROM system_prompts").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(promptID))
	mock.ExpectQuery("DELETE FROM conversations").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(convID))
	mock.ExpectQuery("DELETE FROM messages").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(msgA).AddRow(msgB))

	res, err := s.GC(setupMockContext(mock))
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}

	want := GCResult{SystemPrompts: 1, Conversations: 1, Messages: 2}
	if res != want {
		t.Errorf("gc result = %+v, want %+v", res, want)
	}
	if _, ok := s.cache.get(promptID); ok {
		t.Error("collected prompt still cached")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_Lineage_RecursiveQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)

	root := testAgent()
	child := root.Evolve(asset.Conversation{ID: asset.NewID()})

	rows := agentRow(root).AddRow(child.ID, child.CreatedAt, child.Name,
		child.SystemPromptID, child.ParentID, child.ConversationID,
		child.Model, []byte(`{}`), []byte(`{}`))

	mock.ExpectQuery("WITH RECURSIVE chain").
		WithArgs(child.ID).
		WillReturnRows(rows)

	chain, err := s.Lineage(setupMockContext(mock), child.ID)
	if err != nil {
		t.Fatalf("lineage failed: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d", len(chain))
	}
	if chain[0].ID != root.ID || chain[1].ID != child.ID {
		t.Error("lineage must run root to leaf")
	}
}

func TestStore_Lineage_MissingAgent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	id := asset.NewID()

	mock.ExpectQuery("WITH RECURSIVE chain").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "created_at", "name", "system_prompt_id", "parent_id",
			"conversation_id", "model", "metadata", "model_config",
		}))

	_, err = s.Lineage(setupMockContext(mock), id)
	if !errors.Is(err, asset.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestStore_ListAgents_Query(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	agent := testAgent()

	mock.ExpectQuery("SELECT (.+) FROM agents WHERE name ILIKE").
		WithArgs("%calc%", 10, 5).
		WillReturnRows(agentRow(agent))

	got, err := s.ListAgents(setupMockContext(mock), "calc", 10, 5)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != agent.ID {
		t.Errorf("listed agents = %+v", got)
	}
}

func TestScanMessage_ToolCalls(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := newMockStore(t)
	id := asset.NewID()
	callJSON := []byte(`[{"id":"call_1","name":"echo","arguments":"{\"s\":\"hi\"}"}]`)

	mock.ExpectQuery("SELECT (.+) FROM messages WHERE id").
		WithArgs([]uuid.UUID{id}).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "created_at", "role", "content", "tool_calls",
			"tool_call_id", "input_tokens", "output_tokens",
		}).AddRow(id, time.Now().UTC(), asset.RoleAssistant, nil, callJSON, nil, nil, nil))

	msgs, err := s.getMessages(setupMockContext(mock), []uuid.UUID{id})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	tc := msgs[0].ToolCalls[0]
	if tc.CallID != "call_1" || tc.Name != "echo" || tc.Arguments != `{"s":"hi"}` {
		t.Errorf("tool call = %+v", tc)
	}
}
