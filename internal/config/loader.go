package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "chatforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// CHATFORGE_CONFIG overrides the YAML path. A missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("CHATFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-provided path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CHATFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CHATFORGE_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CHATFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CHATFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CHATFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CHATFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CHATFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "CHATFORGE_NATS_STREAM")
	setString(&cfg.NATS.StatusBucket, "CHATFORGE_NATS_STATUS_BUCKET")
	setDuration(&cfg.NATS.FrameTTL, "CHATFORGE_NATS_FRAME_TTL")
	setDuration(&cfg.NATS.ConnectWait, "CHATFORGE_NATS_CONNECT_WAIT")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")

	// Chat
	setString(&cfg.Chat.DefaultModel, "CHATFORGE_DEFAULT_MODEL")
	setStringSlice(&cfg.Chat.ReasoningModels, "CHATFORGE_REASONING_MODELS")
	setInt(&cfg.Chat.MaxSteps, "CHATFORGE_MAX_STEPS")
	setDuration(&cfg.Chat.MaxTurnDuration, "CHATFORGE_MAX_TURN_DURATION")
	setInt(&cfg.Chat.GuestDailyQuota, "CHATFORGE_GUEST_DAILY_QUOTA")
	setInt(&cfg.Chat.DailyQuota, "CHATFORGE_DAILY_QUOTA")
	setInt64(&cfg.Chat.MaxBodyBytes, "CHATFORGE_MAX_BODY_BYTES")

	setDuration(&cfg.Tools.CallTimeout, "CHATFORGE_TOOL_CALL_TIMEOUT")

	// Auth
	setBool(&cfg.Auth.Enabled, "CHATFORGE_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "CHATFORGE_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "CHATFORGE_JWT_ISSUER")
	setString(&cfg.Auth.DevUserID, "CHATFORGE_DEV_USER_ID")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "CHATFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CHATFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "CHATFORGE_CACHE_TTL")

	setString(&cfg.Logging.Level, "CHATFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHATFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CHATFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "CHATFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHATFORGE_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "CHATFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CHATFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CHATFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CHATFORGE_RATE_MAX_IDLE_TIME")

	setBool(&cfg.Telemetry.Enabled, "CHATFORGE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.Telemetry.SampleRate, "CHATFORGE_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if len(cfg.Chat.Models) == 0 {
		return errors.New("chat.models must not be empty")
	}
	if _, ok := cfg.Chat.Models[cfg.Chat.DefaultModel]; !ok {
		return fmt.Errorf("chat.default_model %q is not in chat.models", cfg.Chat.DefaultModel)
	}
	if cfg.Chat.MaxSteps < 1 {
		return errors.New("chat.max_steps must be >= 1")
	}
	if cfg.Chat.MaxTurnDuration <= 0 {
		return errors.New("chat.max_turn_duration must be > 0")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	for toolkit, srv := range cfg.Tools.Servers {
		if srv.URL == "" {
			return fmt.Errorf("tools.servers.%s.url is required", toolkit)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
