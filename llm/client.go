// Package llm drives single completion requests against an OpenAI-compatible
// provider endpoint. It translates the asset-level transcript into the wire
// shape, forwards tool schemas and model configuration, retries transient
// failures with exponential backoff, and returns the provider response as an
// immutable assistant message carrying token usage.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/immagent/immagent/asset"
	"github.com/immagent/immagent/internal/metrics"
	"github.com/immagent/immagent/internal/retry"
)

var tracer = otel.GetTracerProvider().Tracer("immagent/llm")

// Tool is a provider function schema, as produced by the tool gateway and
// forwarded verbatim to the provider.
type Tool = openai.Tool

// Request describes one completion.
type Request struct {
	Model    string
	Messages []asset.Message
	System   string
	Tools    []Tool

	// MaxRetries bounds retries of transient failures (net errors, 429, 5xx).
	MaxRetries int
	// Timeout bounds one attempt's wall clock; zero disables it.
	Timeout time.Duration
	// ModelConfig holds provider options (temperature, max_tokens, top_p, …).
	ModelConfig map[string]any
}

// Completer is the single operation the turn engine needs. The production
// implementation is *Client; tests substitute stubs.
type Completer interface {
	Complete(ctx context.Context, req Request) (asset.Message, error)
}

// Error reports a completion failure: either a non-transient provider error
// on first occurrence, or a transient one after retry exhaustion.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return "llm: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api        *openai.Client
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given OpenAI-compatible base URL
// (e.g. "https://api.openai.com/v1" or a LiteLLM proxy).
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimSuffix(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.baseURL
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Complete performs one completion, retrying transient failures up to
// req.MaxRetries times. The returned message is always role assistant; it
// carries the provider's tool-call requests and token counts when reported.
func (c *Client) Complete(ctx context.Context, req Request) (asset.Message, error) {
	ctx, span := tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.request.messages", len(req.Messages)),
		attribute.Int("llm.request.tools", len(req.Tools)),
	)

	wireReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toChatMessages(req.System, req.Messages),
	}
	if len(req.Tools) > 0 {
		wireReq.Tools = req.Tools
	}
	applyModelConfig(&wireReq, req.ModelConfig)

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = req.MaxRetries

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attemptCtx := ctx
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
			defer cancel()
		}

		var attemptErr error
		resp, attemptErr = c.api.CreateChatCompletion(attemptCtx, wireReq)
		if attemptErr != nil && errors.Is(attemptErr, context.DeadlineExceeded) && ctx.Err() == nil {
			// the attempt deadline fired, not the caller's context
			return &retry.Retryable{Err: attemptErr}
		}
		return classify(attemptErr)
	})
	metrics.LLMRequestDuration.WithLabelValues(req.Model).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(req.Model, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return asset.Message{}, &Error{Reason: fmt.Sprintf("completion failed for model %s: %v", req.Model, err), Err: err}
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(req.Model, "error").Inc()
		return asset.Message{}, &Error{Reason: "provider returned no choices"}
	}
	metrics.LLMRequestsTotal.WithLabelValues(req.Model, "ok").Inc()

	choice := resp.Choices[0].Message

	var toolCalls []asset.ToolCall
	for _, tc := range choice.ToolCalls {
		toolCalls = append(toolCalls, asset.ToolCall{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	var content *string
	if choice.Content != "" || len(toolCalls) == 0 {
		content = &choice.Content
	}

	var usage *asset.Usage
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		usage = &asset.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.CompletionTokens),
		attribute.Int("llm.response.tool_calls", len(toolCalls)),
	)

	msg, err := asset.AssistantMessage(content, toolCalls, usage)
	if err != nil {
		return asset.Message{}, &Error{Reason: "provider returned an empty assistant turn", Err: err}
	}
	return msg, nil
}

// classify maps a provider error onto the retry taxonomy: API errors with a
// retryable status become retry.Retryable, everything else keeps its own
// classification (network errors are already transient, 4xx are final).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retry.IsRetryableHTTPStatus(apiErr.HTTPStatusCode) {
			return &retry.Retryable{Err: err}
		}
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retry.IsRetryableHTTPStatus(reqErr.HTTPStatusCode) {
			return &retry.Retryable{Err: err}
		}
	}
	return err
}
