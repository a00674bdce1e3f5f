package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"procedure-assistant-be/pkg/routing/confidence"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Keys     APIKeys
	Ai       AIConfig
	Routing  RoutingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection     string
	AuditPath      string // sqlite file for the routing decision audit log
	AuditRetention time.Duration
}

type APIKeys struct {
	GoogleGemini string
	Jina         string
	HuggingFace  string
	JwtSecret    string
}

type AIConfig struct {
	EmbeddingProvider  string // "gemini", "ollama" or "jina"
	EmbeddingDimension int
	OllamaBaseURL      string
	OllamaModel        string
	GeminiModel        string
	LLMProvider        string // "ollama" or "huggingface"
	LLMModel           string
	LLMBaseURL         string
	EmbedTimeout       time.Duration
	RerankTimeout      time.Duration
	RerankEnabled      bool
}

type RoutingConfig struct {
	Thresholds confidence.Thresholds

	OverrideBoost    float64
	RecencyWindow    time.Duration
	LowConfidenceCap int
	TrustThreshold   float64
	HistoryLimit     int

	CacheDir         string
	CacheWatch       bool
	RebuildOnStartup bool

	SessionBackend   string // "memory" or "redis"
	SessionTTL       time.Duration
	ClarificationTTL time.Duration
	SessionLockTTL   time.Duration

	TopCollections int
	RunnerUps      int
	CandidateK     int
	ContextSize    int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Database: DatabaseConfig{
			Connection:     getEnv("DB_CONNECTION_STRING", ""),
			AuditPath:      getEnv("AUDIT_DB_PATH", "data/routing-audit.db"),
			AuditRetention: getEnvAsDuration("AUDIT_RETENTION", 30*24*time.Hour),
		},
		Keys: APIKeys{
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
			Jina:         getEnv("JINA_API_KEY", ""),
			HuggingFace:  getEnv("HUGGINGFACE_API_KEY", ""),
			JwtSecret:    getEnv("JWT_SECRET", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider:  getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 768),
			OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:        getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			GeminiModel:        getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
			LLMProvider:        getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:           getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:         getEnv("LLM_BASE_URL", ""),
			EmbedTimeout:       getEnvAsDuration("EMBED_TIMEOUT", 5*time.Second),
			RerankTimeout:      getEnvAsDuration("RERANK_TIMEOUT", 3*time.Second),
			RerankEnabled:      getEnvAsBool("RERANK_ENABLED", true),
		},
		Routing: RoutingConfig{
			Thresholds: confidence.Thresholds{
				High:       getEnvAsFloat("ROUTING_THRESHOLD_HIGH", 0.85),
				MediumHigh: getEnvAsFloat("ROUTING_THRESHOLD_MEDIUM_HIGH", 0.75),
				Medium:     getEnvAsFloat("ROUTING_THRESHOLD_MEDIUM", 0.60),
				Low:        getEnvAsFloat("ROUTING_THRESHOLD_LOW", 0.45),
			},
			OverrideBoost:    getEnvAsFloat("ROUTING_OVERRIDE_BOOST", 0.80),
			RecencyWindow:    getEnvAsDuration("ROUTING_RECENCY_WINDOW", 10*time.Minute),
			LowConfidenceCap: getEnvAsInt("ROUTING_LOW_CONFIDENCE_CAP", 3),
			TrustThreshold:   getEnvAsFloat("ROUTING_TRUST_THRESHOLD", 0.85),
			HistoryLimit:     getEnvAsInt("ROUTING_HISTORY_LIMIT", 20),

			CacheDir:         getEnv("ROUTING_CACHE_DIR", "data/routing-cache"),
			CacheWatch:       getEnvAsBool("ROUTING_CACHE_WATCH", true),
			RebuildOnStartup: getEnvAsBool("ROUTING_REBUILD_ON_STARTUP", true),

			SessionBackend:   getEnv("SESSION_BACKEND", "memory"),
			SessionTTL:       getEnvAsDuration("SESSION_TTL", 30*time.Minute),
			ClarificationTTL: getEnvAsDuration("CLARIFICATION_TTL", time.Hour),
			SessionLockTTL:   getEnvAsDuration("SESSION_LOCK_TTL", 2*time.Minute),

			TopCollections: getEnvAsInt("ROUTING_TOP_COLLECTIONS", 3),
			RunnerUps:      getEnvAsInt("ROUTING_RUNNER_UPS", 3),
			CandidateK:     getEnvAsInt("RETRIEVAL_CANDIDATE_K", 20),
			ContextSize:    getEnvAsInt("RETRIEVAL_CONTEXT_SIZE", 4),
		},
	}
}

// Validate rejects routing settings that would make the classifier or the
// override rule inconsistent. Called once at startup.
func (c *Config) Validate() error {
	r := c.Routing
	classifier, err := confidence.NewClassifier(r.Thresholds)
	if err != nil {
		return err
	}
	if level := classifier.Classify(r.OverrideBoost); level != confidence.MediumHigh {
		return fmt.Errorf("ROUTING_OVERRIDE_BOOST %.3f classifies as %s, must be medium_high", r.OverrideBoost, level)
	}
	if r.RecencyWindow <= 0 {
		return fmt.Errorf("ROUTING_RECENCY_WINDOW must be positive")
	}
	if r.LowConfidenceCap < 1 {
		return fmt.Errorf("ROUTING_LOW_CONFIDENCE_CAP must be at least 1")
	}
	if r.TrustThreshold <= 0 || r.TrustThreshold > 1 {
		return fmt.Errorf("ROUTING_TRUST_THRESHOLD must be in (0, 1]")
	}
	if r.TopCollections < 1 || r.RunnerUps < 1 {
		return fmt.Errorf("ROUTING_TOP_COLLECTIONS and ROUTING_RUNNER_UPS must be positive")
	}
	switch r.SessionBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", r.SessionBackend)
	}
	if r.SessionBackend == "redis" && r.SessionLockTTL <= 0 {
		return fmt.Errorf("SESSION_LOCK_TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
