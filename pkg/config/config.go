package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	CORS         CORSConfig
	LLM          LLMConfig
	Embedding    EmbeddingConfig
	Vector       VectorConfig
	Milvus       MilvusConfig
	Ingestion    IngestionConfig
	Data         DataConfig
	Conversation ConversationConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Cache        CacheConfig
	Agent        AgentConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxQueryLength int
	// Development disables HSTS for plain-HTTP local runs.
	Development    bool
}

type CORSConfig struct {
	AllowOrigins []string
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	TimeoutSec int
}

// VectorConfig selects the vector backend: "sqlite" (local file) or "milvus".
type VectorConfig struct {
	Backend string
	Path    string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
}

type IngestionConfig struct {
	PoliciesDir  string
	StateFile    string
	ChunkSize    int
	ChunkOverlap int
	Watch        bool
	DebounceMS   int
	// Interval enables periodic runs in serve mode when non-zero.
	Interval time.Duration
}

type DataConfig struct {
	OrgChartPath string
	RolesPath    string
}

// ConversationConfig selects the thread store: "sqlite" or "redis".
type ConversationConfig struct {
	Backend string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig selects the embedding cache: "memory", "redis" or "none".
type CacheConfig struct {
	Backend      string
	EmbeddingTTL time.Duration
}

type AgentConfig struct {
	MaxSteps int
	SearchK  int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads configuration from path (or the default search paths when path is
// empty), a .env file if present, and ONBOARDING_* environment variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/onboarding")
	}

	v.SetEnvPrefix("ONBOARDING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.apiKey", "ONBOARDING_LLM_APIKEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.apiKey", "ONBOARDING_EMBEDDING_APIKEY")
	_ = v.BindEnv("milvus.apiKey", "ONBOARDING_MILVUS_APIKEY")
	_ = v.BindEnv("redis.password", "ONBOARDING_REDIS_PASSWORD")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Embedding.APIKey == "" {
		config.Embedding.APIKey = config.LLM.APIKey
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxQueryLength", 1000)
	v.SetDefault("server.development", false)

	v.SetDefault("cors.allowOrigins", []string{"http://localhost:8501"})

	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batchSize", 100)
	v.SetDefault("embedding.timeoutSec", 30)

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.path", "./data/vectors.db")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "onboarding_policies")

	v.SetDefault("ingestion.policiesDir", "./data_seed/policies")
	v.SetDefault("ingestion.stateFile", "./data/ingestion_state.json")
	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.chunkOverlap", 100)
	v.SetDefault("ingestion.watch", false)
	v.SetDefault("ingestion.debounceMS", 500)
	v.SetDefault("ingestion.interval", 0)

	v.SetDefault("data.orgChartPath", "./data_seed/structured/org_chart.json")
	v.SetDefault("data.rolesPath", "./data_seed/structured/role_definitions.json")

	v.SetDefault("conversation.backend", "sqlite")
	v.SetDefault("sqlite.path", "./data/onboarding.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.embeddingTTL", 24*time.Hour)

	v.SetDefault("agent.maxSteps", 10)
	v.SetDefault("agent.searchK", 5)

	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
