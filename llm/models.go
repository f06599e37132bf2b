package llm

// Curated model strings for convenience. Any string the configured endpoint
// recognizes works; these cover the common LiteLLM-style routes.
const (
	ModelClaude35Haiku = "anthropic/claude-3-5-haiku-20241022"
	ModelClaudeSonnet4 = "anthropic/claude-sonnet-4-20250514"
	ModelClaudeOpus4   = "anthropic/claude-opus-4-20250514"

	ModelGPT4o     = "openai/gpt-4o"
	ModelGPT4oMini = "openai/gpt-4o-mini"
	ModelO1        = "openai/o1"
	ModelO1Mini    = "openai/o1-mini"
)
