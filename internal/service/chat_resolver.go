package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/ChatForge/internal/domain"
	"github.com/Strob0t/ChatForge/internal/domain/agent"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
	"github.com/Strob0t/ChatForge/internal/domain/user"
	"github.com/Strob0t/ChatForge/internal/port/cache"
	"github.com/Strob0t/ChatForge/internal/port/database"
	"github.com/Strob0t/ChatForge/internal/port/toolexec"
)

// Resolution is the persona and toolset that answer a turn.
type Resolution struct {
	// Agent is nil when no agent applies to the turn.
	Agent        *agent.Agent
	Model        string
	SystemPrompt string
	// EnabledTools holds the tool slugs that are both enabled and connected, sorted.
	EnabledTools []string
	Declarations []toolkit.Declaration
	// Accounts maps a toolkit to the account the caller connected for it.
	Accounts map[string]string
}

// AgentID returns the id of the resolved agent, or "".
func (r *Resolution) AgentID() string {
	if r.Agent == nil {
		return ""
	}
	return r.Agent.ID
}

// Enabled reports whether the model may call slug.
func (r *Resolution) Enabled(slug string) bool {
	i := sort.SearchStrings(r.EnabledTools, slug)
	return i < len(r.EnabledTools) && r.EnabledTools[i] == slug
}

// AgentResolver picks the persona and the tools that apply to a turn.
type AgentResolver struct {
	db       database.Store
	tools    toolexec.Executor
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewAgentResolver creates an AgentResolver. A nil cache disables connection caching.
func NewAgentResolver(db database.Store, tools toolexec.Executor, c cache.Cache, cacheTTL time.Duration) *AgentResolver {
	return &AgentResolver{db: db, tools: tools, cache: c, cacheTTL: cacheTTL}
}

// Resolve never fails on a missing or invisible agent: the turn continues
// with the selected chat model and the caller's own tool enablement.
func (r *AgentResolver) Resolve(ctx context.Context, id user.Identity, agentID, chatModel string) *Resolution {
	res := &Resolution{Model: chatModel, Accounts: map[string]string{}}
	scope := toolkit.UserScope(id.ID)

	if agentID != "" {
		a, err := r.db.GetAgent(ctx, agentID)
		switch {
		case err != nil && errors.Is(err, domain.ErrNotFound):
			slog.WarnContext(ctx, "resolver: agent not found, using defaults", "agent_id", agentID, "user_id", id.ID)
		case err != nil:
			slog.ErrorContext(ctx, "resolver: load agent failed, using defaults", "agent_id", agentID, "error", err)
		case !a.VisibleTo(id):
			slog.WarnContext(ctx, "resolver: agent not visible to caller, using defaults", "agent_id", agentID, "user_id", id.ID)
		default:
			res.Agent = a
			res.Model = a.ModelID
			res.SystemPrompt = a.SystemPrompt
			scope = toolkit.AgentScope(a.ID)
		}
	}

	r.resolveTools(ctx, id, scope, res)
	return res
}

func (r *AgentResolver) resolveTools(ctx context.Context, id user.Identity, scope toolkit.Scope, res *Resolution) {
	records, err := r.db.ListToolEnablement(ctx, scope)
	if err != nil {
		slog.ErrorContext(ctx, "resolver: list tool enablement failed", "error", err)
		return
	}
	candidates := candidateToolkits(records)
	if len(candidates) == 0 {
		return
	}

	conns, err := r.connections(ctx, id.ID)
	if err != nil {
		slog.ErrorContext(ctx, "resolver: list connections failed", "user_id", id.ID, "error", err)
		return
	}
	for _, c := range conns {
		if c.Status == toolkit.ConnectionActive && candidates[c.ToolkitSlug] {
			res.Accounts[c.ToolkitSlug] = c.AccountRef
		}
	}

	// Toolkits are listed concurrently; one failing toolkit only drops its own tools.
	var (
		mu      sync.Mutex
		offered = map[string][]string{}
		decls   = map[string]toolkit.Declaration{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for tk, account := range res.Accounts {
		g.Go(func() error {
			list, err := r.tools.ListTools(gctx, tk, account)
			if err != nil {
				slog.WarnContext(ctx, "resolver: list tools failed, dropping toolkit", "toolkit", tk, "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, d := range list {
				offered[tk] = append(offered[tk], d.Slug)
				decls[d.Slug] = d
			}
			return nil
		})
	}
	_ = g.Wait()

	enabled := toolkit.EnabledSet(records, offered)
	for slug := range enabled {
		res.EnabledTools = append(res.EnabledTools, slug)
	}
	sort.Strings(res.EnabledTools)
	for _, slug := range res.EnabledTools {
		res.Declarations = append(res.Declarations, decls[slug])
	}
}

// candidateToolkits returns the toolkits that have at least one enabled record.
func candidateToolkits(records []toolkit.Enablement) map[string]bool {
	out := map[string]bool{}
	for _, rec := range records {
		if rec.Enabled {
			tk := strings.ToLower(rec.ToolkitSlug)
			if tk == "" {
				tk = toolkit.Of(rec.ToolSlug)
			}
			out[tk] = true
		}
	}
	return out
}

func connectionsKey(userID string) string { return "connections." + userID }

// connections returns the caller's toolkit connections, read through the cache.
func (r *AgentResolver) connections(ctx context.Context, userID string) ([]toolkit.Connection, error) {
	key := connectionsKey(userID)
	if r.cache != nil {
		if data, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			var conns []toolkit.Connection
			if err := json.Unmarshal(data, &conns); err == nil {
				return conns, nil
			}
		}
	}

	conns, err := r.db.ListConnections(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if data, err := json.Marshal(conns); err == nil {
			if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
				slog.WarnContext(ctx, "resolver: cache connections failed", "user_id", userID, "error", err)
			}
		}
	}
	return conns, nil
}
