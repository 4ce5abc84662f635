// Package config loads service settings from the environment.
// main loads .env through godotenv before calling Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"

	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"

	// MaxTemperature keeps analysis output on the deterministic side.
	MaxTemperature = 0.4
)

type Config struct {
	ServerAddr     string
	RequestTimeout time.Duration
	MaxUploadMB    int

	// Postgres
	DatabaseURL string
	PGHost      string
	PGPort      int
	PGUser      string
	PGPass      string
	PGDBName    string

	// Vector index
	IndexBackend    string
	SQLitePath      string
	VectorDimension int
	EmbedCacheSize  int

	// Chunking
	Tokenizer    string
	ChunkSize    int
	ChunkOverlap int

	// Models
	LLMProvider          string
	OpenAIKey            string
	OpenAIBaseURL        string
	ChatModel            string
	EmbeddingModel       string
	OllamaURL            string
	OllamaModel          string
	OllamaEmbeddingURL   string
	OllamaEmbeddingModel string
	GeminiKey            string
	Temperature          float64
	MaxRetries           int
	RetryDelay           time.Duration

	// Analysis
	TopK                int
	SynopsisTokens      int
	DocumentTokenBudget int
	RetrievalTimeout    time.Duration
	LLMTimeout          time.Duration
	StoreTimeout        time.Duration
	NotifyTimeout       time.Duration

	// Collaborators
	WebhookURL        string
	BaseURL           string
	DoclingURL        string
	DoclingCropTop    float64
	DoclingCropBottom float64
	StorageType       string
	StorageLocalPath  string
	S3Bucket          string
	S3Region          string
	AWSAccessKey      string
	AWSSecretKey      string

	// Loader
	LoaderSourceDir       string
	LoaderArchiveDir      string
	LoaderBadDir          string
	LoaderMonitoringTime  time.Duration
	LoaderSourceAuthority string
	LoaderContractType    string
	LoaderJurisdiction    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:     getEnv("SERVER_ADDR", ":5000"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 3*time.Minute),
		MaxUploadMB:    getEnvInt("MAX_UPLOAD_MB", 10),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		PGHost:      getEnv("PG_HOST", "localhost"),
		PGPort:      getEnvInt("PG_PORT", 5432),
		PGUser:      getEnv("PG_USER", "postgres"),
		PGPass:      os.Getenv("PG_PASS"),
		PGDBName:    getEnv("PG_DB_NAME", "contracts"),

		IndexBackend:    getEnv("INDEX_BACKEND", BackendPostgres),
		SQLitePath:      getEnv("SQLITE_PATH", "contracts-rag.db"),
		VectorDimension: getEnvInt("VECTOR_DIMENSION", 1536),
		EmbedCacheSize:  getEnvInt("EMBED_CACHE_SIZE", 1024),

		Tokenizer:    getEnv("TOKENIZER", "tiktoken"),
		ChunkSize:    getEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),

		LLMProvider:          getEnv("LLM_PROVIDER", ProviderOpenAI),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		ChatModel:            getEnv("CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		OllamaURL:            getEnv("LLM_URL", "http://localhost:11434/api/generate"),
		OllamaModel:          getEnv("LLM_MODEL", "llama3.1"),
		OllamaEmbeddingURL:   getEnv("OLLAMA_EMBEDDING_URL", "http://localhost:11434/api/embeddings"),
		OllamaEmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		GeminiKey:            os.Getenv("GEMINI_API_KEY"),
		Temperature:          getEnvFloat("TEMPERATURE", 0.2),
		MaxRetries:           getEnvInt("LLM_MAX_RETRIES", 1),
		RetryDelay:           getEnvDuration("LLM_RETRY_DELAY", 500*time.Millisecond),

		TopK:                getEnvInt("TOP_K", 5),
		SynopsisTokens:      getEnvInt("SYNOPSIS_TOKENS", 256),
		DocumentTokenBudget: getEnvInt("DOCUMENT_TOKEN_BUDGET", 12000),
		RetrievalTimeout:    getEnvDuration("RETRIEVAL_TIMEOUT", 10*time.Second),
		LLMTimeout:          getEnvDuration("LLM_TIMEOUT", 2*time.Minute),
		StoreTimeout:        getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		NotifyTimeout:       getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),

		WebhookURL:        os.Getenv("N8N_WEBHOOK_URL"),
		BaseURL:           getEnv("BASE_URL", "http://localhost:5000"),
		DoclingURL:        os.Getenv("DOCLING_URL"),
		DoclingCropTop:    getEnvFloat("DOCLING_CROP_TOP", 0),
		DoclingCropBottom: getEnvFloat("DOCLING_CROP_BOTTOM", 0),
		StorageType:       getEnv("STORAGE_TYPE", "none"),
		StorageLocalPath:  getEnv("STORAGE_LOCAL_PATH", "./storage/files"),
		S3Bucket:          os.Getenv("AWS_S3_BUCKET"),
		S3Region:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKey:      os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:      os.Getenv("AWS_SECRET_ACCESS_KEY"),

		LoaderSourceDir:       getEnv("LOADER_SOURCE_DIR", "./data/source"),
		LoaderArchiveDir:      getEnv("LOADER_ARCHIVE_DIR", "./data/archive"),
		LoaderBadDir:          getEnv("LOADER_BAD_DIR", "./data/bad"),
		LoaderMonitoringTime:  getEnvDuration("LOADER_MONITORING_TIME", 5*time.Second),
		LoaderSourceAuthority: getEnv("LOADER_SOURCE_AUTHORITY", "best_practices"),
		LoaderContractType:    os.Getenv("LOADER_CONTRACT_TYPE"),
		LoaderJurisdiction:    os.Getenv("LOADER_JURISDICTION"),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.VectorDimension <= 0 {
		return fmt.Errorf("VECTOR_DIMENSION must be positive, got %d", c.VectorDimension)
	}
	if c.Temperature < 0 || c.Temperature > MaxTemperature {
		return fmt.Errorf("TEMPERATURE must be 0-%.1f, got %f", MaxTemperature, c.Temperature)
	}
	if c.TopK <= 0 || c.TopK > 50 {
		return fmt.Errorf("TOP_K must be 1-50, got %d", c.TopK)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 5 {
		return fmt.Errorf("LLM_MAX_RETRIES must be 0-5, got %d", c.MaxRetries)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderOllama, ProviderGemini:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.IndexBackend {
	case BackendPostgres, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q", c.IndexBackend)
	}
	return nil
}

// PostgresDSN prefers DATABASE_URL and falls back to the PG_* variables.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PGHost, c.PGPort, c.PGUser, c.PGPass, c.PGDBName)
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
