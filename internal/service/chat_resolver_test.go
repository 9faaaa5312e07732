package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Strob0t/ChatForge/internal/domain/agent"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
	"github.com/Strob0t/ChatForge/internal/domain/user"
)

var alice = user.Identity{ID: "u-alice", OrgID: "org-1", Role: user.RoleMember, Type: user.TypeRegular}

func notionAndReddit() *mockExecutor {
	return &mockExecutor{tools: map[string][]toolkit.Declaration{
		"notion": {
			{Slug: "NOTION_SEARCH_NOTION_PAGE", Toolkit: "notion"},
			{Slug: "NOTION_APPEND_BLOCK_CHILDREN", Toolkit: "notion"},
		},
		"reddit": {
			{Slug: "REDDIT_SEARCH_ACROSS_SUBREDDITS", Toolkit: "reddit"},
		},
	}}
}

func TestResolve_NoAgentUsesUserScope(t *testing.T) {
	db := newMockStore()
	db.enablement[toolkit.UserScope(alice.ID)] = []toolkit.Enablement{
		{ToolkitSlug: "notion", Enabled: true},
		{ToolkitSlug: "notion", ToolSlug: "NOTION_APPEND_BLOCK_CHILDREN", Enabled: false},
		{ToolkitSlug: "reddit", Enabled: true},
	}
	db.connections[alice.ID] = []toolkit.Connection{
		{UserID: alice.ID, ToolkitSlug: "notion", AccountRef: "acct-n", Status: toolkit.ConnectionActive},
		{UserID: alice.ID, ToolkitSlug: "reddit", AccountRef: "acct-r", Status: toolkit.ConnectionExpired},
	}
	r := NewAgentResolver(db, notionAndReddit(), nil, time.Minute)

	res := r.Resolve(context.Background(), alice, "", "chat-model")

	if res.Agent != nil || res.SystemPrompt != "" {
		t.Errorf("expected no agent, got %+v", res.Agent)
	}
	if res.Model != "chat-model" {
		t.Errorf("expected selected model, got %q", res.Model)
	}
	want := []string{"NOTION_SEARCH_NOTION_PAGE"}
	if !reflect.DeepEqual(res.EnabledTools, want) {
		t.Errorf("expected %v, got %v", want, res.EnabledTools)
	}
	if len(res.Declarations) != 1 || res.Declarations[0].Slug != want[0] {
		t.Errorf("unexpected declarations %+v", res.Declarations)
	}
	if res.Accounts["notion"] != "acct-n" {
		t.Errorf("expected notion account, got %v", res.Accounts)
	}
	if _, ok := res.Accounts["reddit"]; ok {
		t.Error("expired connection must not count as connected")
	}
	if !res.Enabled("NOTION_SEARCH_NOTION_PAGE") || res.Enabled("NOTION_APPEND_BLOCK_CHILDREN") {
		t.Error("Enabled disagrees with EnabledTools")
	}
}

func TestResolve_VisibleAgent(t *testing.T) {
	db := newMockStore()
	db.agents[agentID] = &agent.Agent{ID: agentID, OwnerID: "u-bob", OrganizationID: "org-1", SystemPrompt: "You are Bob's helper.", ModelID: "chat-model-reasoning"}
	db.enablement[toolkit.AgentScope(agentID)] = []toolkit.Enablement{{ToolkitSlug: "reddit", Enabled: true}}
	db.enablement[toolkit.UserScope(alice.ID)] = []toolkit.Enablement{{ToolkitSlug: "notion", Enabled: true}}
	db.connections[alice.ID] = []toolkit.Connection{
		{ToolkitSlug: "notion", AccountRef: "n", Status: toolkit.ConnectionActive},
		{ToolkitSlug: "reddit", AccountRef: "r", Status: toolkit.ConnectionActive},
	}
	r := NewAgentResolver(db, notionAndReddit(), nil, time.Minute)

	res := r.Resolve(context.Background(), alice, agentID, "chat-model")

	if res.AgentID() != agentID {
		t.Fatalf("expected agent %s, got %q", agentID, res.AgentID())
	}
	if res.Model != "chat-model-reasoning" || res.SystemPrompt != "You are Bob's helper." {
		t.Errorf("expected agent persona, got model=%q prompt=%q", res.Model, res.SystemPrompt)
	}
	if !reflect.DeepEqual(res.EnabledTools, []string{"REDDIT_SEARCH_ACROSS_SUBREDDITS"}) {
		t.Errorf("expected agent-scoped tools, got %v", res.EnabledTools)
	}
}

func TestResolve_FailsOpen(t *testing.T) {
	tests := []struct {
		name  string
		setup func(db *mockStore)
	}{
		{"missing agent", func(*mockStore) {}},
		{"other owner's private agent", func(db *mockStore) {
			db.agents[agentID] = &agent.Agent{ID: agentID, OwnerID: "u-eve", OrganizationID: "org-9", SystemPrompt: "secret", ModelID: "x"}
		}},
		{"store failure", func(db *mockStore) { db.getAgentErr = errors.New("connection reset") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newMockStore()
			tt.setup(db)
			db.enablement[toolkit.UserScope(alice.ID)] = []toolkit.Enablement{{ToolkitSlug: "notion", Enabled: true}}
			db.connections[alice.ID] = []toolkit.Connection{{ToolkitSlug: "notion", AccountRef: "n", Status: toolkit.ConnectionActive}}
			r := NewAgentResolver(db, notionAndReddit(), nil, time.Minute)

			res := r.Resolve(context.Background(), alice, agentID, "chat-model")

			if res.Agent != nil || res.SystemPrompt != "" {
				t.Errorf("expected defaults, got agent %+v prompt %q", res.Agent, res.SystemPrompt)
			}
			if res.Model != "chat-model" {
				t.Errorf("expected selected model, got %q", res.Model)
			}
			if len(res.EnabledTools) != 2 {
				t.Errorf("expected user-scoped notion tools, got %v", res.EnabledTools)
			}
		})
	}
}

func TestResolve_ZeroToolsIsValid(t *testing.T) {
	db := newMockStore()
	exec := notionAndReddit()
	r := NewAgentResolver(db, exec, nil, time.Minute)

	res := r.Resolve(context.Background(), alice, "", "chat-model")

	if len(res.EnabledTools) != 0 || len(res.Declarations) != 0 {
		t.Errorf("expected no tools, got %v", res.EnabledTools)
	}
	if exec.listCalls != 0 {
		t.Errorf("expected no tool listing without enablement, got %d calls", exec.listCalls)
	}
}

func TestResolve_FailingToolkitIsDropped(t *testing.T) {
	db := newMockStore()
	db.enablement[toolkit.UserScope(alice.ID)] = []toolkit.Enablement{
		{ToolkitSlug: "notion", Enabled: true},
		{ToolkitSlug: "reddit", Enabled: true},
	}
	db.connections[alice.ID] = []toolkit.Connection{
		{ToolkitSlug: "notion", AccountRef: "n", Status: toolkit.ConnectionActive},
		{ToolkitSlug: "reddit", AccountRef: "r", Status: toolkit.ConnectionActive},
	}
	exec := notionAndReddit()
	exec.listErr = map[string]error{"notion": errors.New("mcp server down")}
	r := NewAgentResolver(db, exec, nil, time.Minute)

	res := r.Resolve(context.Background(), alice, "", "chat-model")

	if !reflect.DeepEqual(res.EnabledTools, []string{"REDDIT_SEARCH_ACROSS_SUBREDDITS"}) {
		t.Errorf("expected only reddit tools, got %v", res.EnabledTools)
	}
}

func TestResolve_ConnectionsAreCached(t *testing.T) {
	db := newMockStore()
	db.enablement[toolkit.UserScope(alice.ID)] = []toolkit.Enablement{{ToolkitSlug: "notion", Enabled: true}}
	db.connections[alice.ID] = []toolkit.Connection{{ToolkitSlug: "notion", AccountRef: "n", Status: toolkit.ConnectionActive}}
	c := &mockCache{}
	r := NewAgentResolver(db, notionAndReddit(), c, time.Minute)

	first := r.Resolve(context.Background(), alice, "", "chat-model")
	second := r.Resolve(context.Background(), alice, "", "chat-model")

	if db.connectionCalls != 1 {
		t.Errorf("expected one store lookup, got %d", db.connectionCalls)
	}
	if !reflect.DeepEqual(first.EnabledTools, second.EnabledTools) {
		t.Errorf("cached resolution differs: %v vs %v", first.EnabledTools, second.EnabledTools)
	}
	if _, ok := c.data[connectionsKey(alice.ID)]; !ok {
		t.Errorf("expected cache entry, have keys %v", sortedKeys(c.data))
	}
}
