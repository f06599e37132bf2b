package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/immagent/immagent/internal/metrics"
	"github.com/immagent/immagent/llm"
)

var tracer = otel.GetTracerProvider().Tracer("immagent/mcp")

// ExecutionError reports a protocol or I/O failure while executing a tool.
// The turn engine catches it and feeds the text back to the model as a tool
// result instead of aborting the turn.
type ExecutionError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConnectOptions carries the optional parts of a server launch.
type ConnectOptions struct {
	Args []string
	Env  []string
	Dir  string
}

// server is one connected tool server. Calls are serialized per server (one
// in-flight request per stdio pipe); parallelism happens across servers.
type server struct {
	key    string
	client *client
	callMu sync.Mutex
}

type toolEntry struct {
	serverKey string
	schema    llm.Tool
}

// Gateway owns the lifecycle of zero or more tool servers and indexes their
// tools under one flat namespace. Opening a Gateway acquires nothing; every
// process Connect launched is released by Close, in reverse connection order.
type Gateway struct {
	mu      sync.Mutex
	servers []*server
	byKey   map[string]*server
	tools   map[string]toolEntry
}

// NewGateway creates an empty gateway.
func NewGateway() *Gateway {
	return &Gateway{
		byKey: make(map[string]*server),
		tools: make(map[string]toolEntry),
	}
}

// Connect launches the given command as a tool server, performs the protocol
// handshake, and indexes its tools. If a tool name is already taken by an
// earlier server, the later connection wins and a warning is logged.
func (g *Gateway) Connect(ctx context.Context, key, command string, opts ConnectOptions) error {
	g.mu.Lock()
	_, taken := g.byKey[key]
	g.mu.Unlock()
	if taken {
		return fmt.Errorf("server %q already connected", key)
	}

	transport, err := newStdioTransport(command, opts.Args, opts.Env, opts.Dir)
	if err != nil {
		return fmt.Errorf("connect %s: %w", key, err)
	}

	c := newClient(transport)
	if err := c.initialize(ctx); err != nil {
		c.close()
		return fmt.Errorf("connect %s: %w", key, err)
	}

	descriptors, err := c.listTools(ctx)
	if err != nil {
		c.close()
		return fmt.Errorf("connect %s: %w", key, err)
	}

	srv := &server{key: key, client: c}

	g.mu.Lock()
	g.servers = append(g.servers, srv)
	g.byKey[key] = srv
	for _, d := range descriptors {
		if prev, ok := g.tools[d.Name]; ok {
			slog.Warn("tool name collision, later server wins",
				"tool", d.Name, "previous", prev.serverKey, "server", key)
		}
		g.tools[d.Name] = toolEntry{serverKey: key, schema: toFunctionSchema(d)}
	}
	g.mu.Unlock()

	slog.Info("tool server connected", "server", key, "tools", len(descriptors))
	return nil
}

// AllTools returns a snapshot of every indexed tool in provider
// function-schema shape.
func (g *Gateway) AllTools() []llm.Tool {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]llm.Tool, 0, len(g.tools))
	for _, entry := range g.tools {
		out = append(out, entry.schema)
	}
	return out
}

// Execute runs the named tool with the given raw JSON arguments and returns
// the textual result: all text content items joined with newlines, non-text
// items serialized as JSON.
//
// An unknown tool name returns an "Error:" string, not an error — the engine
// feeds it back to the model as data. Protocol and I/O failures return an
// *ExecutionError.
func (g *Gateway) Execute(ctx context.Context, name, argumentsJSON string) (string, error) {
	ctx, span := tracer.Start(ctx, "mcp.execute",
		trace.WithAttributes(attribute.String("mcp.tool", name)))
	defer span.End()

	g.mu.Lock()
	entry, ok := g.tools[name]
	srv := g.byKey[entry.serverKey]
	g.mu.Unlock()

	if !ok {
		metrics.ToolExecutionsTotal.WithLabelValues(name, "unknown").Inc()
		return fmt.Sprintf("Error: unknown tool %q", name), nil
	}

	args := map[string]any{}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			metrics.ToolExecutionsTotal.WithLabelValues(name, "error").Inc()
			return "", &ExecutionError{Tool: name, Reason: "invalid arguments JSON", Err: err}
		}
	}

	srv.callMu.Lock()
	result, err := srv.client.callTool(ctx, name, args)
	srv.callMu.Unlock()

	if err != nil {
		metrics.ToolExecutionsTotal.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		return "", &ExecutionError{Tool: name, Reason: err.Error(), Err: err}
	}

	metrics.ToolExecutionsTotal.WithLabelValues(name, "ok").Inc()
	return renderContent(result.Content), nil
}

// Close tears down every server in reverse order of connection. It keeps
// going past individual failures and returns the last one.
func (g *Gateway) Close() error {
	g.mu.Lock()
	servers := g.servers
	g.servers = nil
	g.byKey = make(map[string]*server)
	g.tools = make(map[string]toolEntry)
	g.mu.Unlock()

	var lastErr error
	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].client.close(); err != nil {
			slog.Warn("tool server close failed", "server", servers[i].key, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// toFunctionSchema converts a server tool descriptor into the provider's
// function-calling shape.
func toFunctionSchema(d ToolDescriptor) llm.Tool {
	params := d.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		},
	}
}

// renderContent flattens a tool result to text.
func renderContent(items []ContentItem) string {
	var parts []string
	for _, item := range items {
		if item.Type == "text" {
			parts = append(parts, item.Text)
			continue
		}
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n")
}
