package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"taskchat/cmd/internal/chat"
	"taskchat/cmd/internal/ratelimit"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "port only", in: ":8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://chat.example.com", want: "wss://chat.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

// validConfig is the smallest config that passes Validate.
func validConfig() Config {
	return Config{
		LogFormat:          "json",
		TasksBackend:       "memory",
		DBSchema:           "taskchat",
		DBMaxConns:         10,
		LLMProvider:        "gemini",
		GeminiAPIKey:       "k",
		SafetyEndpoint:     "https://safety.example.com",
		SafetyKey:          "s",
		ThreadsMaxPageSize: 100,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "TASKCHAT_LOG_FORMAT"},
		{name: "unknown tasks backend", mutate: func(c *Config) { c.TasksBackend = "mongo" }, wantErr: "TASKCHAT_TASKS_BACKEND"},
		{name: "postgres tasks without db", mutate: func(c *Config) { c.TasksBackend = "postgres" }, wantErr: "requires TASKCHAT_DATABASE_URL"},
		{name: "bad schema", mutate: func(c *Config) {
			c.DatabaseURL = "postgres://localhost/x"
			c.DBSchema = "bad-schema;"
		}, wantErr: "TASKCHAT_DB_SCHEMA"},
		{name: "gemini without key", mutate: func(c *Config) { c.GeminiAPIKey = "" }, wantErr: "TASKCHAT_GEMINI_API_KEY"},
		{name: "openai without key", mutate: func(c *Config) { c.LLMProvider = "openai" }, wantErr: "TASKCHAT_OPENAI_API_KEY"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLMProvider = "llama" }, wantErr: "TASKCHAT_LLM_PROVIDER"},
		{name: "page size above cap", mutate: func(c *Config) { c.ThreadsMaxPageSize = 500 }, wantErr: "TASKCHAT_THREADS_MAX_PAGE_SIZE"},
		{name: "min conns above max", mutate: func(c *Config) { c.DBMinConns = 20 }, wantErr: "TASKCHAT_DB_MIN_CONNS"},
		{name: "safety missing", mutate: func(c *Config) { c.SafetyEndpoint = "" }, wantErr: "TASKCHAT_SAFETY_ENDPOINT"},
		{name: "safety disabled with endpoint", mutate: func(c *Config) { c.SafetyDisabled = true }, wantErr: "TASKCHAT_SAFETY_DISABLED"},
		{name: "short hmac key", mutate: func(c *Config) { c.StateHMACKey = "short" }, wantErr: "TASKCHAT_STATE_HMAC_KEY"},
		{name: "short jwt secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "TASKCHAT_JWT_SECRET"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			if tc.mutate != nil {
				tc.mutate(&cfg)
			}
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_SafetyDisabledExplicitly(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.SafetyDisabled = true
	cfg.SafetyEndpoint = ""
	cfg.SafetyKey = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("explicit opt-out should validate: %v", err)
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LogFormat = "xml"
	cfg.GeminiAPIKey = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "TASKCHAT_LOG_FORMAT") || !strings.Contains(msg, "TASKCHAT_GEMINI_API_KEY") {
		t.Fatalf("expected both failures, got %q", msg)
	}
}

func TestStateKey(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if cfg.StateKey() != nil {
		t.Fatalf("unset key should be nil")
	}
	cfg.StateHMACKey = strings.Repeat("k", 32)
	if got := cfg.StateKey(); len(got) != 32 {
		t.Fatalf("key length=%d want=32", len(got))
	}
	cfg.StateHMACKey = "short"
	if cfg.StateKey() != nil {
		t.Fatalf("short key should be nil")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TASKCHAT_GEMINI_API_KEY", "test-key")
	t.Setenv("TASKCHAT_SAFETY_DISABLED", "true")
	t.Setenv("TASKCHAT_LLM_PROVIDER", "")
	t.Setenv("TASKCHAT_SAFETY_ENDPOINT", "")
	t.Setenv("TASKCHAT_DATABASE_URL", "")
	t.Setenv("TASKCHAT_TASKS_BACKEND", "")
	t.Setenv("TASKCHAT_LOG_FORMAT", "")
	t.Setenv("TASKCHAT_RATE_LIMIT_EVENTS", "")
	t.Setenv("TASKCHAT_MAX_TOOL_ROUNDS", "")
	t.Setenv("TASKCHAT_STATE_HMAC_KEY", "")
	t.Setenv("TASKCHAT_JWT_SECRET", "")
	t.Setenv("TASKCHAT_THREADS_MAX_PAGE_SIZE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLMProvider != "gemini" || cfg.TasksBackend != "memory" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected defaults: provider=%q tasks=%q format=%q", cfg.LLMProvider, cfg.TasksBackend, cfg.LogFormat)
	}
	if cfg.RateLimitEvents != ratelimit.DefaultEvents || cfg.RateLimitWindow != ratelimit.DefaultWindow {
		t.Fatalf("rate limit defaults: %d/%v", cfg.RateLimitEvents, cfg.RateLimitWindow)
	}
	if cfg.MaxToolRounds != chat.DefaultMaxToolRounds {
		t.Fatalf("max tool rounds=%d", cfg.MaxToolRounds)
	}
	if cfg.ThreadsMaxPageSize != 100 {
		t.Fatalf("max page size=%d", cfg.ThreadsMaxPageSize)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TASKCHAT_LLM_PROVIDER", "OpenAI")
	t.Setenv("TASKCHAT_OPENAI_API_KEY", "sk-test")
	t.Setenv("TASKCHAT_SAFETY_DISABLED", "true")
	t.Setenv("TASKCHAT_SAFETY_ENDPOINT", "")
	t.Setenv("TASKCHAT_DATABASE_URL", "")
	t.Setenv("TASKCHAT_TASKS_BACKEND", "sqlite")
	t.Setenv("TASKCHAT_LOG_FORMAT", "pretty")
	t.Setenv("TASKCHAT_RATE_LIMIT_EVENTS", "5")
	t.Setenv("TASKCHAT_RATE_LIMIT_WINDOW", "10s")
	t.Setenv("TASKCHAT_WS_ORIGIN_PATTERNS", "localhost:*, , example.com")
	t.Setenv("TASKCHAT_STATE_HMAC_KEY", "")
	t.Setenv("TASKCHAT_JWT_SECRET", "")
	t.Setenv("TASKCHAT_THREADS_MAX_PAGE_SIZE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLMProvider != "openai" || cfg.TasksBackend != "sqlite" || cfg.LogFormat != "pretty" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.RateLimitEvents != 5 || cfg.RateLimitWindow != 10*time.Second {
		t.Fatalf("rate limit: %d/%v", cfg.RateLimitEvents, cfg.RateLimitWindow)
	}
	if len(cfg.WSOriginPatterns) != 2 || cfg.WSOriginPatterns[1] != "example.com" {
		t.Fatalf("origin patterns=%v", cfg.WSOriginPatterns)
	}
}

func TestLoadConfig_InvalidFailsFast(t *testing.T) {
	t.Setenv("TASKCHAT_LLM_PROVIDER", "gemini")
	t.Setenv("TASKCHAT_GEMINI_API_KEY", "")
	t.Setenv("TASKCHAT_SAFETY_DISABLED", "")
	t.Setenv("TASKCHAT_SAFETY_ENDPOINT", "")

	_, err := LoadConfig()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TASKCHAT_TEST_INT", "abc")
	t.Setenv("TASKCHAT_TEST_DUR", "-1s")
	t.Setenv("TASKCHAT_TEST_BOOL", "yes")
	t.Setenv("TASKCHAT_TEST_ZERO", "0")

	if got := EnvInt("TASKCHAT_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt bad value = %d", got)
	}
	if got := EnvDuration("TASKCHAT_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration negative = %v", got)
	}
	if got := EnvBool("TASKCHAT_TEST_BOOL", true); !got {
		t.Fatalf("EnvBool unparsable should keep default")
	}
	if got := EnvIntZero("TASKCHAT_TEST_ZERO", 3); got != 0 {
		t.Fatalf("EnvIntZero = %d", got)
	}
	if got := EnvInt("TASKCHAT_TEST_ZERO", 3); got != 3 {
		t.Fatalf("EnvInt zero = %d", got)
	}
}

func TestPoolConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.DatabaseURL = "postgres://u:p@localhost:5432/taskchat?sslmode=disable"
	cfg.DBMaxConns = 7
	cfg.DBMinConns = 2

	pcfg, err := poolConfig(cfg)
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if pcfg.MaxConns != 7 || pcfg.MinConns != 2 {
		t.Fatalf("conns=%d/%d", pcfg.MaxConns, pcfg.MinConns)
	}
	if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != "taskchat" {
		t.Fatalf("application_name=%q", got)
	}

	cfg.DatabaseURL = "postgres://u:p@localhost:5432/taskchat?application_name=custom"
	pcfg, err = poolConfig(cfg)
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != "custom" {
		t.Fatalf("explicit application_name overwritten: %q", got)
	}

	cfg.DatabaseURL = "postgres://%zz"
	if _, err := poolConfig(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
