package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"agenthub.app/bridge/core/db"
)

type Config struct {
	OTel        OTelConfig
	Queue       QueueConfig
	Webhook     WebhookConfig
	OpenAI      OpenAIConfig
	Backend     BackendConfig
	Assistant   AssistantConfig
	Kommo       KommoConfig
	Amojo       AmojoConfig
	Session     SessionConfig
	Retry       RetryConfig
	Env         string
	Port        string
	NodeID      int64
	ServiceType ServiceType
	DB          db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	// SampleRatio is the share of new traces kept; spans with a sampled
	// parent are always kept.
	SampleRatio    float64
}

// QueueConfig carries the Redis connection used for sessions and the
// deferred Salesbot task stream. An empty RedisURL selects the in-memory
// session store and in-process background turns.
type QueueConfig struct {
	RedisURL       string
	RedisStream    string
	RedisGroup     string
	RedisDLQStream string
	RedisConsumer  string
	MaxAttempts    int
}

type WebhookConfig struct {
	Secret          string // inbound webhook secret (path, ?secret= or X-Webhook-Secret)
	BridgeSecret    string // secret for action endpoints (X-Bridge-Secret)
	APISecret       string // optional secret for /api/assistant (X-Api-Secret)
	TraceHeaderName string
}

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	AssistantID  string
	SystemPrompt string
	Temperature  float64
}

// BackendConfig points at an external assistant service exposing POST /api/reply.
type BackendConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type AssistantConfig struct {
	Mode          string // auto, backend, threads, chat
	PollInterval  time.Duration
	PollAttempts  int
	InvokeTimeout time.Duration
	FallbackReply string
	EmptyReply    string
}

type KommoConfig struct {
	BaseURL         string
	Subdomain       string
	AccessToken     string
	NoteChunkSize   int
	SalesbotHandler string // show or goto
	AuditNotes      bool
	LookupAttempts  int
	LookupInterval  time.Duration
	RequestTimeout  time.Duration
}

type AmojoConfig struct {
	BaseURL       string
	ScopeID       string
	ChannelSecret string
	SenderID      string
	SenderName    string
}

type SessionConfig struct {
	HistoryPairs        int
	LockTTL             time.Duration
	DuplicateWindow     time.Duration
	ReplyThrottle       time.Duration
	ProcessedTTL        time.Duration
	ProcessingDeadline  time.Duration
	SessionTTL          time.Duration
	MemoryCacheSize     int
	DefaultInbound      bool
	OutboundAuthorTypes []string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the HTTP server
//   - .env.worker for the Salesbot worker
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("BRIDGE_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	defaultNode := int64(1)
	if serviceType == ServiceTypeWorker {
		defaultNode = 2
	}

	cfg := Config{
		Env:         getEnv("BRIDGE_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		NodeID:      int64(getEnvInt("SNOWFLAKE_NODE_ID", int(defaultNode))),
		ServiceType: serviceType,
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "kommo-bridge"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SampleRatio:    getEnvFloat("OTEL_TRACE_SAMPLE_RATIO", 1),
		},
		Queue: QueueConfig{
			RedisURL:       getEnv("REDIS_URL", ""),
			RedisStream:    getEnv("REDIS_STREAM", "bridge_salesbot"),
			RedisGroup:     getEnv("REDIS_CONSUMER_GROUP", "bridge_group"),
			RedisDLQStream: getEnv("REDIS_DLQ_STREAM", "bridge_salesbot_dlq"),
			RedisConsumer:  getEnv("REDIS_CONSUMER_NAME", string(serviceType)),
			MaxAttempts:    getEnvInt("TASK_MAX_ATTEMPTS", 3),
		},
		Webhook: WebhookConfig{
			Secret:          getEnv("WEBHOOK_SECRET", ""),
			BridgeSecret:    getEnv("BRIDGE_SECRET", ""),
			APISecret:       getEnv("ASSISTANT_API_SECRET", ""),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
		},
		OpenAI: OpenAIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			Model:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			AssistantID:  getEnv("OPENAI_ASSISTANT_ID", ""),
			SystemPrompt: getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
			Temperature:  getEnvFloat("OPENAI_TEMPERATURE", 0.6),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(getEnv("ASSISTANT_BASE_URL", ""), "/"),
			APIKey:  getEnv("ASSISTANT_API_KEY", ""),
			Timeout: getEnvDuration("ASSISTANT_TIMEOUT", 20*time.Second),
		},
		Assistant: AssistantConfig{
			Mode:          getEnv("ASSISTANT_MODE", "auto"),
			PollInterval:  getEnvDuration("ASSISTANT_POLL_INTERVAL", 600*time.Millisecond),
			PollAttempts:  getEnvInt("ASSISTANT_POLL_ATTEMPTS", 40),
			InvokeTimeout: getEnvDuration("ASSISTANT_INVOKE_TIMEOUT", 45*time.Second),
			FallbackReply: getEnv("FALLBACK_REPLY", "Gracias por escribirnos. En un momento un asesor continúa contigo."),
			EmptyReply:    getEnv("EMPTY_REPLY", "¡Listo! ¿Algo más?"),
		},
		Kommo: KommoConfig{
			BaseURL:         getEnv("KOMMO_BASE_URL", ""),
			Subdomain:       getEnv("KOMMO_SUBDOMAIN", ""),
			AccessToken:     getEnv("KOMMO_ACCESS_TOKEN", ""),
			NoteChunkSize:   getEnvInt("KOMMO_NOTE_CHUNK_SIZE", 1200),
			SalesbotHandler: getEnv("SALESBOT_HANDLER", "show"),
			AuditNotes:      getEnvBool("KOMMO_AUDIT_NOTES", false),
			LookupAttempts:  getEnvInt("KOMMO_LOOKUP_ATTEMPTS", 6),
			LookupInterval:  getEnvDuration("KOMMO_LOOKUP_INTERVAL", 800*time.Millisecond),
			RequestTimeout:  getEnvDuration("KOMMO_REQUEST_TIMEOUT", 15*time.Second),
		},
		Amojo: AmojoConfig{
			BaseURL:       strings.TrimRight(getEnv("AMOJO_BASE_URL", "https://amojo.kommo.com"), "/"),
			ScopeID:       getEnv("KOMMO_SCOPE_ID", ""),
			ChannelSecret: getEnv("KOMMO_CHANNEL_SECRET", ""),
			SenderID:      getEnv("AMOJO_SENDER_ID", "bridge-bot"),
			SenderName:    getEnv("AMOJO_SENDER_NAME", "Asistente"),
		},
		Session: SessionConfig{
			HistoryPairs:        getEnvInt("SESSION_HISTORY_PAIRS", 8),
			LockTTL:             getEnvDuration("SESSION_LOCK_TTL", 1500*time.Millisecond),
			DuplicateWindow:     getEnvDuration("SESSION_DUPLICATE_WINDOW", 8*time.Second),
			ReplyThrottle:       getEnvDuration("SESSION_REPLY_THROTTLE", 3*time.Second),
			ProcessedTTL:        getEnvDuration("SESSION_PROCESSED_TTL", 6*time.Hour),
			ProcessingDeadline:  getEnvDuration("SESSION_PROCESSING_DEADLINE", 60*time.Second),
			SessionTTL:          getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			MemoryCacheSize:     getEnvInt("SESSION_MEMORY_CACHE_SIZE", 10000),
			DefaultInbound:      getEnvBool("INBOUND_DEFAULT_ALLOW", true),
			OutboundAuthorTypes: getEnvList("OUTBOUND_AUTHOR_TYPES", []string{"internal", "system", "bot", "outbound", "outgoing", "user", "manager"}),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 300*time.Millisecond),
		},
	}

	if cfg.IsProduction() && cfg.Queue.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required in production")
	}

	if serviceType == ServiceTypeWorker && cfg.Queue.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required for the worker")
	}

	switch cfg.Assistant.Mode {
	case "auto", "backend", "threads", "chat":
	default:
		return Config{}, fmt.Errorf("unsupported ASSISTANT_MODE: %s", cfg.Assistant.Mode)
	}

	return cfg, nil
}

const defaultSystemPrompt = "Eres un asistente de ventas. Responde en el idioma del cliente, breve y amable. Haz una sola pregunta a la vez."

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c QueueConfig) Enabled() bool {
	return c.RedisURL != ""
}

func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c OpenAIConfig) ThreadsEnabled() bool {
	return c.APIKey != "" && c.AssistantID != ""
}

func (c BackendConfig) Enabled() bool {
	return c.BaseURL != ""
}

func (c KommoConfig) Enabled() bool {
	return c.AccessToken != "" && (c.BaseURL != "" || c.Subdomain != "")
}

func (c AmojoConfig) Enabled() bool {
	return c.ScopeID != "" && c.ChannelSecret != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(strings.ToLower(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
