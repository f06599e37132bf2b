// Package turn advances agents by one conversational turn: load the
// transcript, append the user's message, loop LLM completions against tool
// executions, and commit the resulting assets as one batch. The parent agent
// is never touched; a turn either yields a new descendant agent or persists
// nothing.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/immagent/immagent/asset"
	"github.com/immagent/immagent/internal/metrics"
	"github.com/immagent/immagent/llm"
	"github.com/immagent/immagent/store"
)

const (
	defaultMaxRetries    = 3
	defaultTimeout       = 120 * time.Second
	defaultMaxToolRounds = 10
)

// ToolGateway is the slice of the tool gateway the engine depends on. The
// production implementation is *mcp.Gateway; tests substitute fakes.
type ToolGateway interface {
	AllTools() []llm.Tool
	Execute(ctx context.Context, name, argumentsJSON string) (string, error)
}

// Options tunes one advancement turn. The zero value is not the default;
// start from DefaultOptions.
type Options struct {
	// Gateway provides tools to the model. Nil runs the turn without tools.
	Gateway ToolGateway
	// MaxRetries bounds LLM retry attempts per completion.
	MaxRetries int
	// Timeout bounds one LLM attempt's wall clock; zero disables it.
	Timeout time.Duration
	// MaxToolRounds caps assistant/tool ping-pong within the turn.
	MaxToolRounds int

	// Per-call overrides layered on top of the agent's model config.
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// DefaultOptions returns the standard turn parameters: three retries, a two
// minute attempt timeout, ten tool rounds, no gateway, no overrides.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    defaultMaxRetries,
		Timeout:       defaultTimeout,
		MaxToolRounds: defaultMaxToolRounds,
	}
}

// Engine drives advancement turns. It is stateless and safe for concurrent
// use; all state lives in the store and in the agent values passed through.
type Engine struct {
	Store *store.Store
	LLM   llm.Completer
}

// NewEngine creates an engine over the given store and completer.
func NewEngine(s *store.Store, completer llm.Completer) *Engine {
	return &Engine{Store: s, LLM: completer}
}

// Advance runs one turn for the given agent and returns its successor. The
// successor's conversation extends the agent's by the user message, every
// assistant message, and every tool result produced during the turn, in that
// order. On any error nothing is persisted and the input agent is unchanged.
func (e *Engine) Advance(ctx context.Context, agent asset.Agent, userText string, opts Options) (asset.Agent, error) {
	start := time.Now()
	next, err := e.advance(ctx, agent, userText, opts)
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return asset.Agent{}, err
	}
	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	return next, nil
}

func (e *Engine) advance(ctx context.Context, agent asset.Agent, userText string, opts Options) (asset.Agent, error) {
	if opts.MaxToolRounds == 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	if err := validate(userText, opts); err != nil {
		return asset.Agent{}, err
	}

	effective := effectiveConfig(agent.ModelConfig, opts)

	conv, err := e.Store.GetConversation(ctx, agent.ConversationID)
	if err != nil {
		return asset.Agent{}, err
	}
	prompt, err := e.Store.GetSystemPrompt(ctx, agent.SystemPromptID)
	if err != nil {
		return asset.Agent{}, err
	}
	transcript, err := e.Store.GetMessages(ctx, agent)
	if err != nil {
		return asset.Agent{}, err
	}

	userMsg := asset.UserMessage(userText)
	transcript = append(transcript, userMsg)
	newMessages := []asset.Message{userMsg}

	var tools []llm.Tool
	if opts.Gateway != nil {
		tools = opts.Gateway.AllTools()
	}

	for round := 0; round < opts.MaxToolRounds; round++ {
		reply, err := e.LLM.Complete(ctx, llm.Request{
			Model:       agent.Model,
			Messages:    transcript,
			System:      prompt.Content,
			Tools:       tools,
			MaxRetries:  opts.MaxRetries,
			Timeout:     opts.Timeout,
			ModelConfig: effective,
		})
		if err != nil {
			return asset.Agent{}, err
		}
		transcript = append(transcript, reply)
		newMessages = append(newMessages, reply)

		if len(reply.ToolCalls) == 0 || opts.Gateway == nil {
			break
		}

		toolMsgs, err := e.fanOut(ctx, opts.Gateway, reply.ToolCalls)
		if err != nil {
			return asset.Agent{}, err
		}
		transcript = append(transcript, toolMsgs...)
		newMessages = append(newMessages, toolMsgs...)
	}

	ids := make([]uuid.UUID, len(newMessages))
	for i, m := range newMessages {
		ids[i] = m.ID
	}
	newConv := conv.WithMessages(ids...)
	next := agent.Evolve(newConv)

	cached := make([]any, 0, len(newMessages)+1)
	for _, m := range newMessages {
		cached = append(cached, m)
	}
	cached = append(cached, newConv)
	e.Store.CacheAll(cached...)

	if err := e.Store.Save(ctx, next); err != nil {
		return asset.Agent{}, err
	}

	slog.Debug("turn committed",
		"agent", agent.ID, "next", next.ID, "messages", len(newMessages))
	return next, nil
}

// fanOut executes every tool call concurrently and returns one tool message
// per call, in the assistant's call order. Execution failures are not errors
// here: the failure text becomes the tool result, so the model can observe
// and react to it.
func (e *Engine) fanOut(ctx context.Context, gateway ToolGateway, calls []asset.ToolCall) ([]asset.Message, error) {
	results := make([]string, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call asset.ToolCall) {
			defer wg.Done()
			out, err := gateway.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				slog.Warn("tool execution failed", "tool", call.Name, "error", err)
				out = fmt.Sprintf("Error: %v", err)
			}
			results[i] = out
		}(i, call)
	}
	wg.Wait()

	msgs := make([]asset.Message, 0, len(calls))
	for i, call := range calls {
		msg, err := asset.ToolMessage(call.CallID, results[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func validate(userText string, opts Options) error {
	if strings.TrimSpace(userText) == "" {
		return &asset.ValidationError{Field: "user_text", Reason: "must not be empty"}
	}
	if opts.MaxToolRounds < 1 {
		return &asset.ValidationError{Field: "max_tool_rounds", Reason: "must be at least 1"}
	}
	if opts.MaxRetries < 0 {
		return &asset.ValidationError{Field: "max_retries", Reason: "must not be negative"}
	}
	if opts.Timeout < 0 {
		return &asset.ValidationError{Field: "timeout", Reason: "must not be negative"}
	}
	return nil
}

// effectiveConfig overlays per-call overrides on the agent's model config.
// The agent's map is never mutated.
func effectiveConfig(base map[string]any, opts Options) map[string]any {
	effective := make(map[string]any, len(base)+3)
	for k, v := range base {
		effective[k] = v
	}
	if opts.Temperature != nil {
		effective["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		effective["max_tokens"] = *opts.MaxTokens
	}
	if opts.TopP != nil {
		effective["top_p"] = *opts.TopP
	}
	return effective
}
