package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CVScreen server and worker.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Storage    StorageConfig
	AI         AIConfig
	RAG        RAGConfig
	Evaluation EvaluationConfig
	Auth       AuthConfig
	Extract    ExtractConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QueueConfig mirrors the evaluate-job queue contract: attempts, exponential
// backoff base delay, and how many worker slots pull from it.
type QueueConfig struct {
	Backend           string
	Name              string
	Attempts          int
	BackoffDelay      time.Duration
	Concurrency       int
	LeaseTimeout      time.Duration
	ReplayQueuedAfter time.Duration
	RabbitMQURL       string
}

type StorageConfig struct {
	Backend  string
	LocalDir string
	S3       S3Config
}

type S3Config struct {
	Bucket      string
	Region      string
	EndpointURL string
	AccessKey   string
	SecretKey   string
	Prefix      string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Temperature      float32
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Gemini           GeminiConfig
}

type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
}

type VLLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// GeminiConfig serves both the Gemini API (API key) and Vertex AI (project + location).
type GeminiConfig struct {
	APIKey         string
	Project        string
	Location       string
	Model          string
	EmbeddingModel string
}

type RAGConfig struct {
	ReferenceDir   string
	Collection     string
	TopK           int
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
}

type EvaluationConfig struct {
	MaxDocumentBytes int
}

type AuthConfig struct {
	APIKey            string
	APIKeyHash        string
	RequestsPerMinute int
}

type ExtractConfig struct {
	UnidocLicenseKey string
	MaxUploadBytes   int64
}

var validProviders = map[string]bool{
	"openai": true,
	"ollama": true,
	"vllm":   true,
	"gemini": true,
	"vertex": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CVSCREEN_PORT", 8080),
			Env:  envString("CVSCREEN_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Backend:           envString("QUEUE_BACKEND", "redis"),
			Name:              envString("QUEUE_NAME", "evaluation"),
			Attempts:          envInt("QUEUE_ATTEMPTS", 3),
			BackoffDelay:      envDuration("QUEUE_BACKOFF_DELAY", 5*time.Second),
			Concurrency:       envInt("WORKER_CONCURRENCY", 1),
			LeaseTimeout:      envDuration("QUEUE_LEASE_TIMEOUT", 30*time.Minute),
			ReplayQueuedAfter: envDuration("REPLAY_QUEUED_AFTER", 10*time.Minute),
			RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
		},
		Storage: StorageConfig{
			Backend:  envString("STORAGE_BACKEND", "local"),
			LocalDir: envString("STORAGE_LOCAL_DIR", "uploads"),
			S3: S3Config{
				Bucket:      os.Getenv("S3_BUCKET"),
				Region:      envString("S3_REGION", "us-east-1"),
				EndpointURL: os.Getenv("S3_ENDPOINT_URL"),
				AccessKey:   os.Getenv("S3_ACCESS_KEY"),
				SecretKey:   os.Getenv("S3_SECRET_KEY"),
				Prefix:      envString("S3_PREFIX", "documents/"),
			},
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			Temperature:      envFloat32("AI_TEMPERATURE", 0.2),
			Ollama: OllamaConfig{
				BaseURL:        envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
				Model:          envString("OLLAMA_MODEL", "llama3"),
				EmbeddingModel: envString("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			},
			VLLM: VLLMConfig{
				BaseURL:        envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				APIKey:         os.Getenv("VLLM_API_KEY"),
				Model:          envString("VLLM_MODEL", ""),
				EmbeddingModel: envString("VLLM_EMBEDDING_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey:         os.Getenv("OPENAI_API_KEY"),
				BaseURL:        os.Getenv("OPENAI_BASE_URL"),
				Model:          envString("OPENAI_MODEL", "gpt-4o-mini"),
				EmbeddingModel: envString("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			},
			Gemini: GeminiConfig{
				APIKey:         os.Getenv("GEMINI_API_KEY"),
				Project:        os.Getenv("GOOGLE_CLOUD_PROJECT"),
				Location:       envString("GOOGLE_CLOUD_LOCATION", "us-central1"),
				Model:          envString("GEMINI_MODEL", "gemini-2.5-flash"),
				EmbeddingModel: envString("GEMINI_EMBEDDING_MODEL", "gemini-embedding-001"),
			},
		},
		RAG: RAGConfig{
			ReferenceDir:   envString("RAG_REFERENCE_DIR", "reference"),
			Collection:     envString("RAG_COLLECTION", "ground_truth"),
			TopK:           envInt("RAG_TOP_K", 4),
			ChunkSize:      envInt("RAG_CHUNK_SIZE", 1000),
			ChunkOverlap:   envInt("RAG_CHUNK_OVERLAP", 200),
			EmbedBatchSize: envInt("RAG_EMBED_BATCH_SIZE", 32),
		},
		Evaluation: EvaluationConfig{
			MaxDocumentBytes: envInt("EVAL_MAX_DOCUMENT_BYTES", 20000),
		},
		Auth: AuthConfig{
			APIKey:            os.Getenv("API_KEY"),
			APIKeyHash:        os.Getenv("API_KEY_HASH"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Extract: ExtractConfig{
			UnidocLicenseKey: os.Getenv("UNIDOC_LICENSE_API_KEY"),
			MaxUploadBytes:   int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	switch c.Queue.Backend {
	case "redis":
	case "rabbitmq":
		if c.Queue.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when QUEUE_BACKEND is rabbitmq")
		}
		if !strings.HasPrefix(c.Queue.RabbitMQURL, "amqp://") && !strings.HasPrefix(c.Queue.RabbitMQURL, "amqps://") {
			return fmt.Errorf("RABBITMQ_URL must start with amqp:// or amqps://, got %q", c.Queue.RabbitMQURL)
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, rabbitmq; got %q", c.Queue.Backend)
	}
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("QUEUE_ATTEMPTS must be at least 1, got %d", c.Queue.Attempts)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency)
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of local, s3; got %q", c.Storage.Backend)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, ollama, vllm, gemini, vertex; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	if c.AI.Provider == "vertex" && c.AI.Gemini.Project == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when AI_PROVIDER is vertex")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	if c.RAG.TopK < 1 {
		return fmt.Errorf("RAG_TOP_K must be at least 1, got %d", c.RAG.TopK)
	}
	if c.RAG.ChunkSize < 1 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("RAG_CHUNK_OVERLAP (%d) must be non-negative and smaller than RAG_CHUNK_SIZE (%d)",
			c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}

	return nil
}

// RequireAPIKey is checked by the HTTP server only; the worker never authenticates callers.
func (c *Config) RequireAPIKey() error {
	if c.Auth.APIKey == "" && c.Auth.APIKeyHash == "" {
		return fmt.Errorf("API_KEY or API_KEY_HASH is required")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat32(key string, defaultVal float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return defaultVal
	}
	return float32(f)
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
