package llm

import (
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/immagent/immagent/asset"
)

// toChatMessages builds the provider transcript: a leading system turn, then
// one entry per message in order. Assistant entries carry tool calls, tool
// entries carry the call ID they answer.
func toChatMessages(system string, msgs []asset.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})

	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{Role: string(m.Role)}
		if m.Content != nil {
			cm.Content = *m.Content
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		if m.ToolCallID != nil {
			cm.ToolCallID = *m.ToolCallID
		}
		out = append(out, cm)
	}
	return out
}

// applyModelConfig maps recognized model_config keys onto the typed request.
// The SDK request is a struct, so options the provider would not recognize
// anyway are dropped rather than forwarded.
func applyModelConfig(req *openai.ChatCompletionRequest, cfg map[string]any) {
	if v, ok := floatVal(cfg["temperature"]); ok {
		req.Temperature = nonZero(v)
	}
	if v, ok := intVal(cfg["max_tokens"]); ok {
		req.MaxTokens = v
	}
	if v, ok := floatVal(cfg["top_p"]); ok {
		req.TopP = nonZero(v)
	}
	if v, ok := floatVal(cfg["frequency_penalty"]); ok {
		req.FrequencyPenalty = float32(v)
	}
	if v, ok := floatVal(cfg["presence_penalty"]); ok {
		req.PresencePenalty = float32(v)
	}
	if v, ok := intVal(cfg["seed"]); ok {
		seed := v
		req.Seed = &seed
	}
	switch stop := cfg["stop"].(type) {
	case string:
		req.Stop = []string{stop}
	case []string:
		req.Stop = stop
	case []any:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				req.Stop = append(req.Stop, str)
			}
		}
	}
}

// nonZero keeps an explicit zero on the wire. The SDK elides zero-valued
// sampling fields from the request, so 0 is sent as the smallest positive
// float instead.
func nonZero(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

// floatVal coerces JSON-decoded numbers; metadata maps loaded from JSONB
// columns always hold float64, but callers may pass native ints too.
func floatVal(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func intVal(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
