package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// transport moves JSON-RPC frames to and from one tool server. The stdio
// implementation is the only production one; tests script their own.
type transport interface {
	send(ctx context.Context, message any) error
	receive() <-chan transportMessage
	close() error
}

// client speaks JSON-RPC with one tool server over a transport. Responses
// are correlated with requests by ID, so a slow call does not block the read
// loop.
type client struct {
	transport transport
	nextID    atomic.Int64

	mu           sync.Mutex
	pendingCalls map[int64]chan *jsonRPCResponse
	initialized  bool
	server       *serverInfo

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newClient(transport transport) *client {
	return &client{
		transport:    transport,
		pendingCalls: make(map[int64]chan *jsonRPCResponse),
		closeCh:      make(chan struct{}),
	}
}

// initialize performs the protocol handshake and sends the initialized
// notification. It also starts the receive loop.
func (c *client) initialize(ctx context.Context) error {
	go c.receiveLoop()

	result, err := c.call(ctx, methodInitialize, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      clientInfo{Name: "immagent", Version: "0.1.0"},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.server = &init.ServerInfo
	c.mu.Unlock()

	if err := c.transport.send(ctx, newNotification(methodInitialized, nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// listTools fetches the server's full tool catalog, following pagination.
func (c *client) listTools(ctx context.Context) ([]ToolDescriptor, error) {
	var all []ToolDescriptor
	var cursor *string

	for {
		params := map[string]any{}
		if cursor != nil {
			params["cursor"] = *cursor
		}

		result, err := c.call(ctx, methodToolsList, params)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}

		var page toolsListResult
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		all = append(all, page.Tools...)

		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// callTool invokes one tool and returns its raw result.
func (c *client) callTool(ctx context.Context, name string, arguments map[string]any) (*toolsCallResult, error) {
	params := map[string]any{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}

	result, err := c.call(ctx, methodToolsCall, params)
	if err != nil {
		return nil, fmt.Errorf("tools/call: %w", err)
	}

	var call toolsCallResult
	if err := json.Unmarshal(result, &call); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &call, nil
}

func (c *client) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		// fail waiters by sending, never by closing their channels: a late
		// response racing through handleFrame may still try to deliver
		c.failPending(fmt.Errorf("connection closed"))

		c.mu.Lock()
		c.initialized = false
		c.mu.Unlock()

		err = c.transport.close()
	})
	return err
}

func (c *client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	respCh := make(chan *jsonRPCResponse, 1)

	c.mu.Lock()
	c.pendingCalls[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingCalls, id)
		c.mu.Unlock()
	}()

	if err := c.transport.send(ctx, newRequest(id, method, params)); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *client) receiveLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case msg, ok := <-c.transport.receive():
			if !ok {
				return
			}
			if msg.err != nil {
				c.failPending(msg.err)
				continue
			}
			c.handleFrame(msg.data)
		}
	}
}

func (c *client) handleFrame(data []byte) {
	var resp jsonRPCResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.ID == nil {
		// a notification, or junk on stdout; either way nothing is waiting
		return
	}

	// JSON numbers decode as float64 but request IDs are int64
	id, ok := resp.ID.(float64)
	if !ok {
		return
	}

	c.mu.Lock()
	ch, exists := c.pendingCalls[int64(id)]
	c.mu.Unlock()
	if !exists {
		return
	}

	select {
	case ch <- &resp:
	default:
	}
}

// failPending wakes every waiter after a transport failure so callers do not
// hang until their context expires.
func (c *client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pendingCalls {
		select {
		case ch <- &jsonRPCResponse{Error: &jsonRPCError{Code: -1, Message: err.Error()}}:
		default:
		}
		delete(c.pendingCalls, id)
	}
}
