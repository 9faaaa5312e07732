package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/ChatForge/internal/adapter/http"
	"github.com/Strob0t/ChatForge/internal/adapter/litellm"
	"github.com/Strob0t/ChatForge/internal/adapter/mcp"
	cfnats "github.com/Strob0t/ChatForge/internal/adapter/nats"
	"github.com/Strob0t/ChatForge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/ChatForge/internal/adapter/otel"
	"github.com/Strob0t/ChatForge/internal/adapter/postgres"
	"github.com/Strob0t/ChatForge/internal/adapter/ristretto"
	"github.com/Strob0t/ChatForge/internal/adapter/tiered"
	"github.com/Strob0t/ChatForge/internal/config"
	"github.com/Strob0t/ChatForge/internal/logger"
	"github.com/Strob0t/ChatForge/internal/middleware"
	"github.com/Strob0t/ChatForge/internal/port/cache"
	"github.com/Strob0t/ChatForge/internal/port/streamstore"
	"github.com/Strob0t/ChatForge/internal/resilience"
	"github.com/Strob0t/ChatForge/internal/secrets"
	"github.com/Strob0t/ChatForge/internal/service"
	"github.com/Strob0t/ChatForge/internal/toolresult"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"auth_enabled", cfg.Auth.Enabled,
		"toolkits", len(cfg.Tools.Servers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Signing secret: config value, overridden by the environment on SIGHUP.
	vault, err := secrets.NewVault(secrets.Overlay(
		map[string]string{secrets.JWTSecret: cfg.Auth.JWTSecret},
		secrets.EnvLoader(secrets.JWTSecret),
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	vault.ReloadOn(ctx, syscall.SIGHUP)

	// --- Telemetry ---

	shutdownOtel, err := cfotel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	turnMetrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)

	// NATS is optional at startup: resumable streams connect lazily and the
	// shared cache tier is skipped when it cannot be reached.
	conns := &natsConns{url: cfg.NATS.URL, timeout: cfg.NATS.ConnectWait}
	defer conns.Close()

	// Connection cache: process-local L1, optional NATS KV L2.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	var connCache cache.Cache = l1
	if cfg.Cache.L2Bucket != "" {
		l2, err := openL2(ctx, conns, cfg.Cache)
		if err != nil {
			slog.Warn("shared cache unavailable, using local cache only", "bucket", cfg.Cache.L2Bucket, "error", err)
		} else {
			connCache = tiered.New(l1, l2, cfg.Cache.TTL)
			slog.Info("tiered cache enabled", "bucket", cfg.Cache.L2Bucket)
		}
	}

	// LiteLLM
	llmClient := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	llmClient.SetBreaker(resilience.NewBreaker("litellm-admin", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	llm := litellm.NewChatProvider(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	llm.SetBreaker(resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	checkModels(ctx, llmClient, cfg.Chat)

	// Tool servers
	tools := mcp.NewExecutor(cfg.Tools, cfg.Breaker, "chatforge")
	defer func() { _ = tools.Close() }()

	// Resumable streams
	streams := service.NewStreamContext(func(ctx context.Context) (streamstore.Store, error) {
		conn, err := conns.Get()
		if err != nil {
			return nil, err
		}
		return cfnats.OpenStreams(ctx, conn, cfg.NATS)
	}, cfg.NATS.ConnectWait)

	// --- Services ---

	validator, err := service.NewRequestValidator(cfg.Chat.ModelIDs())
	if err != nil {
		return fmt.Errorf("request validator: %w", err)
	}
	composer, err := service.NewPromptComposer()
	if err != nil {
		return fmt.Errorf("prompt composer: %w", err)
	}
	resolver := service.NewAgentResolver(store, tools, connCache, cfg.Cache.TTL)
	parser := toolresult.NewRegistry(toolresult.NewSanitizer(toolresult.DefaultLimits(), log), log)

	chat := service.NewChatService(cfg.Chat, store, llm, tools, validator, resolver, composer, parser)
	chat.SetStreamContext(streams)
	chat.SetObserver(service.Observers{
		service.LogObserver{Logger: log},
		service.NewMetricsObserver(turnMetrics),
	})

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Chat:         chat,
		MaxBodyBytes: cfg.Chat.MaxBodyBytes,
		CheckTimeout: 3 * time.Second,
		Checks: map[string]cfhttp.HealthCheck{
			"postgres": store.Ping,
			"litellm": func(ctx context.Context) error {
				ok, err := llmClient.Health(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("litellm not live")
				}
				return nil
			},
			"streams": func(ctx context.Context) error {
				_, err := streams.Store(ctx)
				return err
			},
		},
	}

	httpMetrics := cfhttp.NewMetrics()
	limiter := middleware.NewRateLimiter(cfg.Rate)
	limiter.StartCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	r.Use(httpMetrics.Middleware)
	r.Use(middleware.AuthWith(cfg.Auth, middleware.NewRotatingVerifier(vault.Getter(secrets.JWTSecret), cfg.Auth.Issuer)))
	r.Use(limiter.Handler)

	cfhttp.MountRoutes(r, handlers, httpMetrics)

	addr := ":" + cfg.Server.Port

	// No Read/WriteTimeout: turn responses are long-lived SSE streams bounded
	// by the turn deadline, and bodies are capped by MaxBodyBytes.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// checkModels warns about configured models the proxy does not serve.
func checkModels(ctx context.Context, client *litellm.Client, chat config.Chat) {
	want := make([]string, 0, len(chat.Models))
	for _, name := range chat.Models {
		want = append(want, name)
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	missing, err := client.MissingModels(cctx, want)
	if err != nil {
		slog.Warn("litellm model check skipped", "error", err)
		return
	}
	if len(missing) > 0 {
		slog.Warn("configured models not served by litellm", "models", missing)
	}
}

func openL2(ctx context.Context, conns *natsConns, cfg config.Cache) (*natskv.Cache, error) {
	conn, err := conns.Get()
	if err != nil {
		return nil, err
	}
	return natskv.Open(ctx, conn.JetStream(), cfg.L2Bucket, cfg.TTL)
}

// natsConns shares one NATS connection between the cache tier and the
// stream store, dialling on first use.
type natsConns struct {
	url     string
	timeout time.Duration

	mu   sync.Mutex
	conn *cfnats.Conn
}

func (n *natsConns) Get() (*cfnats.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return n.conn, nil
	}
	conn, err := cfnats.Dial(n.url, n.timeout)
	if err != nil {
		return nil, err
	}
	slog.Info("nats connected", "url", n.url)
	n.conn = conn
	return conn, nil
}

func (n *natsConns) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}
