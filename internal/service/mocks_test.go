package service

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/ChatForge/internal/domain"
	"github.com/Strob0t/ChatForge/internal/domain/agent"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
	"github.com/Strob0t/ChatForge/internal/port/cache"
	"github.com/Strob0t/ChatForge/internal/port/database"
	"github.com/Strob0t/ChatForge/internal/port/inference"
	"github.com/Strob0t/ChatForge/internal/port/streamstore"
	"github.com/Strob0t/ChatForge/internal/port/toolexec"
)

// Ensure the mocks implement their ports at compile time.
var (
	_ database.Store     = (*mockStore)(nil)
	_ inference.Provider = (*mockProvider)(nil)
	_ toolexec.Executor  = (*mockExecutor)(nil)
	_ cache.Cache        = (*mockCache)(nil)
	_ streamstore.Store  = (*mockStreamStore)(nil)
)

// mockStore is an in-memory database.Store. It is safe for concurrent use
// because turns persist from their own goroutine.
type mockStore struct {
	mu            sync.Mutex
	agents        map[string]*agent.Agent
	conversations map[string]*conversation.Conversation
	messages      []conversation.Message
	sessions      []conversation.StreamSession
	enablement    map[toolkit.Scope][]toolkit.Enablement
	connections   map[string][]toolkit.Connection

	userMessageCount int
	connectionCalls  int
	saveCalls        int

	// Error hooks inject failures.
	getAgentErr     error
	saveMessagesErr error // applied to assistant messages only
}

func newMockStore() *mockStore {
	return &mockStore{
		agents:        map[string]*agent.Agent{},
		conversations: map[string]*conversation.Conversation{},
		enablement:    map[toolkit.Scope][]toolkit.Enablement{},
		connections:   map[string][]toolkit.Connection{},
	}
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getAgentErr != nil {
		return nil, m.getAgentErr
	}
	a, ok := m.agents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) CreateConversation(_ context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[c.ID]; ok {
		return domain.ErrConflict
	}
	cp := *c
	m.conversations[c.ID] = &cp
	return nil
}

func (m *mockStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *mockStore) ListMessages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockStore) SaveMessages(_ context.Context, msgs []conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	for _, msg := range msgs {
		if msg.Role == conversation.RoleAssistant && m.saveMessagesErr != nil {
			return m.saveMessagesErr
		}
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockStore) CountUserMessagesSince(_ context.Context, _ string, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userMessageCount, nil
}

func (m *mockStore) CreateStreamSession(_ context.Context, s *conversation.StreamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, *s)
	return nil
}

func (m *mockStore) GetStreamSession(_ context.Context, id string) (*conversation.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			cp := m.sessions[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) LatestStreamSession(_ context.Context, conversationID string) (*conversation.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		if m.sessions[i].ConversationID == conversationID {
			cp := m.sessions[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListToolEnablement(_ context.Context, scope toolkit.Scope) ([]toolkit.Enablement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enablement[scope], nil
}

func (m *mockStore) ListConnections(_ context.Context, userID string) ([]toolkit.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionCalls++
	return m.connections[userID], nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) messagesByRole(role conversation.Role) []conversation.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Message
	for _, msg := range m.messages {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

// mockProvider replays one scripted continuation per Stream call.
type mockProvider struct {
	mu       sync.Mutex
	steps    [][]inference.Chunk
	openErr  error
	recvErr  error // returned after the scripted chunks of the last step
	block    bool  // block in Recv until ctx ends
	requests []inference.Request
}

func (p *mockProvider) Stream(ctx context.Context, req inference.Request) (inference.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.openErr != nil {
		return nil, p.openErr
	}
	var chunks []inference.Chunk
	if len(p.steps) > 0 {
		chunks, p.steps = p.steps[0], p.steps[1:]
	}
	last := len(p.steps) == 0
	s := &mockStream{ctx: ctx, chunks: chunks, block: p.block}
	if last {
		s.err = p.recvErr
	}
	return s, nil
}

func (p *mockProvider) calls() []inference.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inference.Request(nil), p.requests...)
}

type mockStream struct {
	ctx    context.Context
	chunks []inference.Chunk
	err    error
	block  bool
}

func (s *mockStream) Recv() (inference.Chunk, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, nil
	}
	if s.block {
		<-s.ctx.Done()
		return inference.Chunk{}, s.ctx.Err()
	}
	if s.err != nil {
		return inference.Chunk{}, s.err
	}
	return inference.Chunk{}, io.EOF
}

func (s *mockStream) Close() error { return nil }

// mockExecutor serves fixed tool lists and results.
type mockExecutor struct {
	mu        sync.Mutex
	tools     map[string][]toolkit.Declaration // toolkit -> declarations
	results   map[string]json.RawMessage       // slug -> raw result
	listErr   map[string]error
	execErr   error
	executed  []toolexec.Call
	listCalls int
}

func (e *mockExecutor) ListTools(_ context.Context, toolkitSlug, _ string) ([]toolkit.Declaration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listCalls++
	if err := e.listErr[toolkitSlug]; err != nil {
		return nil, err
	}
	return e.tools[toolkitSlug], nil
}

func (e *mockExecutor) Execute(_ context.Context, call toolexec.Call) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, call)
	if e.execErr != nil {
		return nil, e.execErr
	}
	return e.results[call.Slug], nil
}

// mockCache is an in-memory cache.Cache.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// mockStreamStore records frames in memory and replays them on resume.
type mockStreamStore struct {
	mu      sync.Mutex
	frames  map[string][]event.Frame
	status  map[string]event.Status
	creates int

	// resumeDeadline is the deadline of the last Resume context.
	resumeDeadline time.Time
}

func newMockStreamStore() *mockStreamStore {
	return &mockStreamStore{frames: map[string][]event.Frame{}, status: map[string]event.Status{}}
}

func (s *mockStreamStore) Create(_ context.Context, streamID string) (streamstore.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	s.status[streamID] = event.StatusActive
	return &mockWriter{store: s, id: streamID}, nil
}

func (s *mockStreamStore) Resume(ctx context.Context, streamID string, afterSeq uint64) (<-chan event.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeDeadline, _ = ctx.Deadline()
	st, ok := s.status[streamID]
	if !ok || st.Finished() {
		return nil, false, nil
	}
	ch := make(chan event.Frame, len(s.frames[streamID]))
	for _, f := range s.frames[streamID] {
		if f.Seq > afterSeq {
			ch <- f
		}
	}
	close(ch)
	return ch, true, nil
}

func (s *mockStreamStore) snapshot(streamID string) ([]event.Frame, event.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Frame(nil), s.frames[streamID]...), s.status[streamID]
}

type mockWriter struct {
	store *mockStreamStore
	id    string
}

func (w *mockWriter) Append(_ context.Context, f event.Frame) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.frames[w.id] = append(w.store.frames[w.id], f)
	return nil
}

func (w *mockWriter) Close(_ context.Context, status event.Status) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.status[w.id] = status
	return nil
}

// recordingObserver keeps every stage event.
type recordingObserver struct {
	mu     sync.Mutex
	stages []StageEvent
	tools  []ToolEvent
}

func (o *recordingObserver) Stage(_ context.Context, e StageEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, e)
}

func (o *recordingObserver) ToolCall(_ context.Context, e ToolEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, e)
}

func (o *recordingObserver) stageNames() []TurnStage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]TurnStage, len(o.stages))
	for i, e := range o.stages {
		out[i] = e.Stage
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
