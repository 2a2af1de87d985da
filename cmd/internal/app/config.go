package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"taskchat/cmd/internal/chat"
	"taskchat/cmd/internal/ratelimit"
	"taskchat/cmd/internal/safety"
	"taskchat/cmd/internal/threads"
	"taskchat/cmd/security/token"
)

// ErrConfig wraps every configuration validation failure.
var ErrConfig = errors.New("config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json or pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	TrustProxy        bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	TasksBackend string // memory, postgres or sqlite
	SQLitePath   string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RateLimitEvents int
	RateLimitWindow time.Duration

	LLMProvider   string // gemini or openai
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	LLMTimeout    time.Duration
	MaxToolRounds int
	SystemPrompt  string

	SafetyEndpoint          string
	SafetyKey               string
	SafetyTimeout           time.Duration
	SafetySeverityThreshold int
	SafetyDisabled          bool

	StateHMACKey string
	JWTSecret    string

	ThreadsMaxPageSize int
	WSOriginPatterns   []string
}

// LoadConfig reads .env (if present) and TASKCHAT_* variables, then validates.
func LoadConfig() (Config, error) {
	cfg := readConfig()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readConfig loads values without cross-field validation.
func readConfig() Config {
	_ = godotenv.Load() // a missing .env is fine

	return Config{
		HTTPAddr:  EnvString("TASKCHAT_HTTP_ADDR", ":8080"),
		LogLevel:  EnvString("TASKCHAT_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("TASKCHAT_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("TASKCHAT_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TASKCHAT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TASKCHAT_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       EnvDuration("TASKCHAT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("TASKCHAT_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("TASKCHAT_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      EnvInt64("TASKCHAT_MAX_BODY_BYTES", 1<<20),
		TrustProxy:        EnvBool("TASKCHAT_TRUST_PROXY", false),

		CORSAllowedOrigins:   EnvCSV("TASKCHAT_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("TASKCHAT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TASKCHAT_CORS_MAX_AGE", 600),

		DatabaseURL: EnvString("TASKCHAT_DATABASE_URL", ""),
		DBSchema:    EnvString("TASKCHAT_DB_SCHEMA", "taskchat"),
		DBMaxConns:  EnvInt32("TASKCHAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TASKCHAT_DB_MIN_CONNS", 0),

		TasksBackend: strings.ToLower(EnvString("TASKCHAT_TASKS_BACKEND", "memory")),
		SQLitePath:   EnvString("TASKCHAT_SQLITE_PATH", "taskchat.db"),

		RedisAddr:       EnvString("TASKCHAT_REDIS_ADDR", ""),
		RedisPassword:   EnvString("TASKCHAT_REDIS_PASSWORD", ""),
		RedisDB:         EnvIntZero("TASKCHAT_REDIS_DB", 0),
		RateLimitEvents: EnvInt("TASKCHAT_RATE_LIMIT_EVENTS", ratelimit.DefaultEvents),
		RateLimitWindow: EnvDuration("TASKCHAT_RATE_LIMIT_WINDOW", ratelimit.DefaultWindow),

		LLMProvider:   strings.ToLower(EnvString("TASKCHAT_LLM_PROVIDER", "gemini")),
		GeminiAPIKey:  EnvString("TASKCHAT_GEMINI_API_KEY", ""),
		GeminiModel:   EnvString("TASKCHAT_GEMINI_MODEL", "gemini-1.5-flash"),
		OpenAIAPIKey:  EnvString("TASKCHAT_OPENAI_API_KEY", ""),
		OpenAIBaseURL: EnvString("TASKCHAT_OPENAI_BASE_URL", ""),
		OpenAIModel:   EnvString("TASKCHAT_OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeout:    EnvDuration("TASKCHAT_LLM_TIMEOUT", chat.DefaultGenerationTimeout),
		MaxToolRounds: EnvInt("TASKCHAT_MAX_TOOL_ROUNDS", chat.DefaultMaxToolRounds),
		SystemPrompt:  EnvString("TASKCHAT_SYSTEM_PROMPT", ""),

		SafetyEndpoint:          EnvString("TASKCHAT_SAFETY_ENDPOINT", ""),
		SafetyKey:               EnvString("TASKCHAT_SAFETY_KEY", ""),
		SafetyTimeout:           EnvDuration("TASKCHAT_SAFETY_TIMEOUT", 10*time.Second),
		SafetySeverityThreshold: EnvInt("TASKCHAT_SAFETY_SEVERITY_THRESHOLD", safety.DefaultSeverityThreshold),
		SafetyDisabled:          EnvBool("TASKCHAT_SAFETY_DISABLED", false),

		StateHMACKey: EnvString(token.HMACEnvKey, ""),
		JWTSecret:    EnvString("TASKCHAT_JWT_SECRET", ""),

		ThreadsMaxPageSize: EnvInt("TASKCHAT_THREADS_MAX_PAGE_SIZE", threads.DefaultMaxPageSize),
		WSOriginPatterns:   EnvCSV("TASKCHAT_WS_ORIGIN_PATTERNS"),
	}
}

// Validate checks cross-field rules. Every failure wraps ErrConfig.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...))
	}

	switch c.LogFormat {
	case "json", "pretty":
	default:
		bad("TASKCHAT_LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}

	switch c.TasksBackend {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			bad("TASKCHAT_TASKS_BACKEND=postgres requires TASKCHAT_DATABASE_URL")
		}
	default:
		bad("TASKCHAT_TASKS_BACKEND must be memory, postgres or sqlite, got %q", c.TasksBackend)
	}
	if c.DatabaseURL != "" && !threads.IsValidPGIdent(c.DBSchema) {
		bad("TASKCHAT_DB_SCHEMA %q is not a valid identifier", c.DBSchema)
	}

	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			bad("TASKCHAT_GEMINI_API_KEY is required for provider gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			bad("TASKCHAT_OPENAI_API_KEY is required for provider openai")
		}
	default:
		bad("TASKCHAT_LLM_PROVIDER must be gemini or openai, got %q", c.LLMProvider)
	}

	errs = append(errs, c.securityErrors()...)

	if c.ThreadsMaxPageSize > threads.DefaultMaxPageSize {
		bad("TASKCHAT_THREADS_MAX_PAGE_SIZE must be <= %d", threads.DefaultMaxPageSize)
	}
	if c.DBMinConns > c.DBMaxConns {
		bad("TASKCHAT_DB_MIN_CONNS must not exceed TASKCHAT_DB_MAX_CONNS")
	}

	return errors.Join(errs...)
}
