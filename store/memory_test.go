package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immagent/immagent/asset"
)

func TestMemoryStore_CreateAndLoadAgent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	agent, err := s.CreateAgent(ctx, "Calculator", "You are a calculator.", "claude-3-5-haiku", nil, nil)
	require.NoError(t, err)

	loaded, err := s.LoadAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Calculator", loaded.Name)
	assert.Nil(t, loaded.ParentID)
	assert.Equal(t, agent.ID, loaded.ID)
}

func TestMemoryStore_LoadAgent_NotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.LoadAgent(context.Background(), asset.NewID())
	assert.ErrorIs(t, err, asset.ErrNotFound)

	var nf *asset.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, asset.KindAgent, nf.Kind)
}

func TestMemoryStore_CreateAgent_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.CreateAgent(ctx, "", "prompt", "model", nil, nil)
	var vErr *asset.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = s.CreateAgent(ctx, "A", "   ", "model", nil, nil)
	assert.ErrorAs(t, err, &vErr)
}

func TestMemoryStore_LoadAgents_PreservesOrderAndFaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateAgent(ctx, "A", "p", "m", nil, nil)
	require.NoError(t, err)
	b, err := s.CreateAgent(ctx, "B", "p", "m", nil, nil)
	require.NoError(t, err)

	got, err := s.LoadAgents(ctx, []uuid.UUID{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)

	missing := asset.NewID()
	_, err = s.LoadAgents(ctx, []uuid.UUID{a.ID, missing})
	var nf *asset.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, missing, nf.ID)
}

func TestMemoryStore_ListCountFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.CreateAgent(ctx, "alpha-bot", "p", "m", nil, nil)
	require.NoError(t, err)
	beta, err := s.CreateAgent(ctx, "Beta-Bot", "p", "m", nil, nil)
	require.NoError(t, err)
	_, err = s.CreateAgent(ctx, "gamma", "p", "m", nil, nil)
	require.NoError(t, err)

	all, err := s.ListAgents(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// newest first
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i-1].CreatedAt.Before(all[i].CreatedAt))
	}

	bots, err := s.ListAgents(ctx, "BOT", 0, 0)
	require.NoError(t, err)
	assert.Len(t, bots, 2, "name filter is a case-insensitive substring")

	paged, err := s.ListAgents(ctx, "", 1, 1)
	require.NoError(t, err)
	assert.Len(t, paged, 1)
	assert.Equal(t, all[1].ID, paged[0].ID)

	n, err := s.CountAgents(ctx, "bot")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err := s.FindByName(ctx, "Beta-Bot")
	require.NoError(t, err)
	assert.Equal(t, beta.ID, found.ID)

	_, err = s.FindByName(ctx, "beta-bot")
	assert.ErrorIs(t, err, asset.ErrNotFound, "find is exact and case-sensitive")
}

func TestMemoryStore_CloneIsSibling(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateAgent(ctx, "A", "p", "m", nil, nil)
	require.NoError(t, err)

	// simulate one advancement
	conv, err := s.GetConversation(ctx, a.ConversationID)
	require.NoError(t, err)
	user := asset.UserMessage("hi")
	newConv := conv.WithMessages(user.ID)
	b := a.Evolve(newConv)
	s.CacheAll(user, newConv)
	require.NoError(t, s.Save(ctx, b))

	c, err := s.CloneAgent(ctx, b)
	require.NoError(t, err)

	require.NotNil(t, c.ParentID)
	require.NotNil(t, b.ParentID)
	assert.Equal(t, *b.ParentID, *c.ParentID)
	assert.Equal(t, a.ID, *c.ParentID)
	assert.Equal(t, b.ConversationID, c.ConversationID)
	assert.NotEqual(t, b.ID, c.ID)
}

func TestMemoryStore_UpdateMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateAgent(ctx, "A", "p", "m",
		map[string]any{"v": 1}, map[string]any{"temperature": 0.2})
	require.NoError(t, err)

	b, err := s.UpdateMetadata(ctx, a, map[string]any{"v": 2})
	require.NoError(t, err)

	require.NotNil(t, b.ParentID)
	assert.Equal(t, a.ID, *b.ParentID)
	assert.Equal(t, map[string]any{"v": 2}, b.Metadata)
	assert.Equal(t, a.ModelConfig, b.ModelConfig)

	reloaded, err := s.LoadAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": 1}, reloaded.Metadata, "original agent is untouched")
}

func TestMemoryStore_Lineage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateAgent(ctx, "A", "p", "m", nil, nil)
	require.NoError(t, err)
	b := a.Evolve(asset.NewConversation())
	require.NoError(t, s.Save(ctx, b))
	c := b.Evolve(asset.NewConversation())
	require.NoError(t, s.Save(ctx, c))

	chain, err := s.Lineage(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, a.ID, chain[0].ID)
	assert.Equal(t, b.ID, chain[1].ID)
	assert.Equal(t, c.ID, chain[2].ID)

	assert.Nil(t, chain[0].ParentID, "lineage starts at a root")
	for i := 1; i < len(chain); i++ {
		require.NotNil(t, chain[i].ParentID)
		assert.Equal(t, chain[i-1].ID, *chain[i].ParentID)
	}
}

func TestMemoryStore_Lineage_DanglingParent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	missing := asset.NewID()
	orphan := asset.Agent{
		ID:             asset.NewID(),
		CreatedAt:      asset.Now(),
		Name:           "orphan",
		SystemPromptID: asset.NewID(),
		ParentID:       &missing,
		ConversationID: asset.NewID(),
		Model:          "m",
	}
	s.CacheAll(orphan)

	_, err := s.Lineage(ctx, orphan.ID)
	var nf *asset.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, missing, nf.ID)
}

func TestMemoryStore_DeletePreservesShared(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateAgent(ctx, "A", "p", "m", nil, nil)
	require.NoError(t, err)
	b, err := s.CloneAgent(ctx, a)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAgent(ctx, a.ID))

	_, err = s.LoadAgent(ctx, a.ID)
	assert.ErrorIs(t, err, asset.ErrNotFound)

	res, err := s.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, GCResult{}, res, "memory mode never collects")

	survivor, err := s.LoadAgent(ctx, b.ID)
	require.NoError(t, err)
	_, err = s.GetConversation(ctx, survivor.ConversationID)
	assert.NoError(t, err)
	_, err = s.GetSystemPrompt(ctx, survivor.SystemPromptID)
	assert.NoError(t, err)
}

func TestMemoryStore_DeleteAgent_NotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.DeleteAgent(context.Background(), asset.NewID())
	assert.True(t, errors.Is(err, asset.ErrNotFound))
}

func TestMemoryStore_GetMessagesAndTokenUsage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateAgent(ctx, "A", "p", "m", nil, nil)
	require.NoError(t, err)

	user := asset.UserMessage("2+2?")
	content := "4"
	assistant, err := asset.AssistantMessage(&content, nil, &asset.Usage{InputTokens: 12, OutputTokens: 3})
	require.NoError(t, err)

	conv, err := s.GetConversation(ctx, a.ConversationID)
	require.NoError(t, err)
	newConv := conv.WithMessages(user.ID, assistant.ID)
	next := a.Evolve(newConv)
	s.CacheAll(user, assistant, newConv)
	require.NoError(t, s.Save(ctx, next))

	msgs, err := s.GetMessages(ctx, next)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, user.ID, msgs[0].ID)
	assert.Equal(t, assistant.ID, msgs[1].ID)

	usage, err := s.GetTokenUsage(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, asset.Usage{InputTokens: 12, OutputTokens: 3}, usage)

	// user/tool messages never count toward usage
	parentUsage, err := s.GetTokenUsage(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, asset.Usage{}, parentUsage)
}

func TestMemoryStore_TranscriptPrefixProperty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateAgent(ctx, "A", "p", "m", nil, nil)
	require.NoError(t, err)

	conv, err := s.GetConversation(ctx, a.ConversationID)
	require.NoError(t, err)

	m1 := asset.UserMessage("one")
	conv2 := conv.WithMessages(m1.ID)
	b := a.Evolve(conv2)
	s.CacheAll(m1, conv2)
	require.NoError(t, s.Save(ctx, b))

	m2 := asset.UserMessage("two")
	conv3 := conv2.WithMessages(m2.ID)
	c := b.Evolve(conv3)
	s.CacheAll(m2, conv3)
	require.NoError(t, s.Save(ctx, c))

	parentConv, err := s.GetConversation(ctx, b.ConversationID)
	require.NoError(t, err)
	childConv, err := s.GetConversation(ctx, c.ConversationID)
	require.NoError(t, err)

	require.LessOrEqual(t, len(parentConv.MessageIDs), len(childConv.MessageIDs))
	for i, id := range parentConv.MessageIDs {
		assert.Equal(t, id, childConv.MessageIDs[i], "ancestor transcript is a prefix")
	}
}
