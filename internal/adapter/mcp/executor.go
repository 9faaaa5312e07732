// Package mcp runs the tools of connected toolkits on Model Context Protocol
// servers reached over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/ChatForge/internal/config"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
	"github.com/Strob0t/ChatForge/internal/port/toolexec"
	"github.com/Strob0t/ChatForge/internal/resilience"
)

// AccountHeader carries the caller's connected account to the tool server.
const AccountHeader = "X-Account-Ref"

const defaultConnectTimeout = 15 * time.Second

// Executor lists and calls tools on one MCP server per toolkit. Sessions are
// opened lazily per (toolkit, account) pair and reused until a call fails.
// A failed session is closed once no other call is still using it.
type Executor struct {
	servers     map[string]config.ToolServer
	callTimeout time.Duration
	breakerCfg  config.Breaker
	clientName  string

	mu       sync.Mutex
	clients  map[string]*session
	breakers map[string]*resilience.Breaker
	group    singleflight.Group
}

var _ toolexec.Executor = (*Executor)(nil)

// NewExecutor creates an Executor for the configured tool servers.
func NewExecutor(cfg config.Tools, breaker config.Breaker, clientName string) *Executor {
	servers := make(map[string]config.ToolServer, len(cfg.Servers))
	for slug, srv := range cfg.Servers {
		servers[strings.ToLower(slug)] = srv
	}
	return &Executor{
		servers:     servers,
		callTimeout: cfg.CallTimeout,
		breakerCfg:  breaker,
		clientName:  clientName,
		clients:     make(map[string]*session),
		breakers:    make(map[string]*resilience.Breaker),
	}
}

// ListTools returns the tools a toolkit's server offers to accountRef.
// Tools whose slug belongs to another toolkit are skipped so that Execute
// always routes a slug back to the server that listed it.
func (e *Executor) ListTools(ctx context.Context, toolkitSlug, accountRef string) ([]toolkit.Declaration, error) {
	var res *mcplib.ListToolsResult
	err := e.do(ctx, toolkitSlug, accountRef, func(ctx context.Context, c *mcpclient.Client) error {
		var err error
		res, err = c.ListTools(ctx, mcplib.ListToolsRequest{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools of %s: %w", toolkitSlug, err)
	}

	decls := make([]toolkit.Declaration, 0, len(res.Tools))
	for i := range res.Tools {
		t := &res.Tools[i]
		if toolkit.Of(t.Name) != toolkitSlug {
			slog.Debug("mcp: skipping foreign tool", "toolkit", toolkitSlug, "tool", t.Name)
			continue
		}
		params, err := inputSchema(t)
		if err != nil {
			slog.Warn("mcp: unreadable input schema", "tool", t.Name, "error", err)
			continue
		}
		decls = append(decls, toolkit.Declaration{
			Slug:        t.Name,
			Toolkit:     toolkitSlug,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls, nil
}

// Execute calls one tool. A tool-level failure reported by the server is
// encoded as {"successful": false, "error": "..."}; only transport failures
// are returned as errors.
func (e *Executor) Execute(ctx context.Context, call toolexec.Call) (json.RawMessage, error) {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure("invalid arguments: " + err.Error())
		}
	}

	tk := toolkit.Of(call.Slug)
	var res *mcplib.CallToolResult
	err := e.do(ctx, tk, call.AccountRef, func(ctx context.Context, c *mcpclient.Client) error {
		req := mcplib.CallToolRequest{}
		req.Params.Name = call.Slug
		req.Params.Arguments = args
		var err error
		res, err = c.CallTool(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: call %s: %w", call.Slug, err)
	}
	return encodeResult(res)
}

// Close ends every open session. Sessions with calls in flight close when
// the last call returns.
func (e *Executor) Close() error {
	e.mu.Lock()
	clients := e.clients
	e.clients = make(map[string]*session)
	var idle []*session
	for _, s := range clients {
		s.evicted = true
		if s.inflight == 0 {
			s.closed = true
			idle = append(idle, s)
		}
	}
	e.mu.Unlock()

	for _, s := range idle {
		s.closeClient()
	}
	return nil
}

// session is a client shared by every call for one (toolkit, account) pair.
// Fields other than client are guarded by Executor.mu.
type session struct {
	key      string
	toolkit  string
	client   *mcpclient.Client
	inflight int
	evicted  bool
	closed   bool
}

func (s *session) closeClient() {
	if err := s.client.Close(); err != nil {
		slog.Warn("mcp: close session", "toolkit", s.toolkit, "error", err)
	}
}

// do runs fn against the session for (toolkitSlug, accountRef) behind the
// toolkit's breaker. A failed call drops the session so the next one
// reconnects.
func (e *Executor) do(ctx context.Context, toolkitSlug, accountRef string, fn func(context.Context, *mcpclient.Client) error) error {
	srv, ok := e.servers[toolkitSlug]
	if !ok {
		return fmt.Errorf("no tool server configured for toolkit %q", toolkitSlug)
	}
	key := toolkitSlug + "\x00" + accountRef

	return e.breaker(toolkitSlug).Execute(func() error {
		s, err := e.acquire(ctx, key, toolkitSlug, srv, accountRef)
		if err != nil {
			return err
		}
		defer e.release(s)

		callCtx := ctx
		if e.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
		}
		if err := fn(callCtx, s.client); err != nil {
			// A caller that went away says nothing about the session.
			if ctx.Err() == nil {
				e.evict(s)
			}
			return err
		}
		return nil
	})
}

func (e *Executor) breaker(toolkitSlug string) *resilience.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[toolkitSlug]
	if !ok {
		b = resilience.NewBreaker("mcp:"+toolkitSlug, e.breakerCfg.MaxFailures, e.breakerCfg.Timeout)
		e.breakers[toolkitSlug] = b
	}
	return b
}

// acquire returns the live session for key, opening it on first use, and
// counts the caller as in flight until release.
func (e *Executor) acquire(ctx context.Context, key, toolkitSlug string, srv config.ToolServer, accountRef string) (*session, error) {
	for range 2 {
		e.mu.Lock()
		if s, ok := e.clients[key]; ok {
			s.inflight++
			e.mu.Unlock()
			return s, nil
		}
		e.mu.Unlock()

		// Concurrent first calls share one handshake; it is detached from any
		// single caller so a cancelled request does not fail the others.
		v, err, _ := e.group.Do(key, func() (any, error) {
			e.mu.Lock()
			if s, ok := e.clients[key]; ok {
				e.mu.Unlock()
				return s, nil
			}
			e.mu.Unlock()

			c, err := e.connect(context.WithoutCancel(ctx), srv, accountRef)
			if err != nil {
				return nil, err
			}
			s := &session{key: key, toolkit: toolkitSlug, client: c}
			e.mu.Lock()
			e.clients[key] = s
			e.mu.Unlock()
			return s, nil
		})
		if err != nil {
			return nil, err
		}

		s := v.(*session)
		e.mu.Lock()
		if !s.evicted {
			s.inflight++
			e.mu.Unlock()
			return s, nil
		}
		// Evicted between the handshake and this caller; open a fresh one.
		e.mu.Unlock()
	}
	return nil, fmt.Errorf("session for %s closed while connecting", toolkitSlug)
}

func (e *Executor) release(s *session) {
	e.mu.Lock()
	s.inflight--
	closeNow := s.evicted && s.inflight == 0 && !s.closed
	if closeNow {
		s.closed = true
	}
	e.mu.Unlock()
	if closeNow {
		s.closeClient()
	}
}

// evict stops handing s to new calls. The caller holds s, so release closes it.
func (e *Executor) evict(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clients[s.key] == s {
		delete(e.clients, s.key)
	}
	s.evicted = true
}

func (e *Executor) connect(ctx context.Context, srv config.ToolServer, accountRef string) (*mcpclient.Client, error) {
	headers := make(map[string]string, len(srv.Headers)+1)
	for k, v := range srv.Headers {
		headers[k] = v
	}
	if accountRef != "" {
		headers[AccountHeader] = accountRef
	}

	c, err := mcpclient.NewStreamableHttpClient(srv.URL, transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start client: %w", err)
	}

	timeout := e.callTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{
		Name:    e.clientName,
		Version: "1.0.0",
	}
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}

func inputSchema(t *mcplib.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// encodeResult turns a call result into the raw payload handed to the
// result parsers. Text content that is valid JSON passes through as-is.
func encodeResult(res *mcplib.CallToolResult) (json.RawMessage, error) {
	text := textContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return failure(text)
	}
	if res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("mcp: encode structured content: %w", err)
		}
		return b, nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	b, err := json.Marshal(text)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode text content: %w", err)
	}
	return b, nil
}

func textContent(content []mcplib.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcplib.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func failure(msg string) (json.RawMessage, error) {
	b, err := json.Marshal(map[string]any{"successful": false, "error": msg})
	if err != nil {
		return nil, err
	}
	return b, nil
}
