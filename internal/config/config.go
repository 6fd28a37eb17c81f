package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LLMProvider       string
	EmbeddingProvider string
	GeminiAPIKey      string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	GenerationModel   string
	EmbeddingModel    string

	DatabaseURL string
	DocsPath    string
	HTTPPort    string
	LogLevel    string

	ChunkSize             int
	ChunkOverlap          int
	MaxSearchResults      int
	MaxToolLoopIterations int
	SessionHistoryWindow  int
	CourseMatchThreshold  float64
	CourseTieMargin       float64

	ProviderTimeout time.Duration
	ToolTimeout     time.Duration
	RetryAttempts   int

	IngestWorkers   int
	EmbedRatePerSec float64
}

var AppConfig Config

const (
	ProviderGemini  = "gemini"
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

// Load reads configuration from the environment (and an optional .env file)
// and validates it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := Config{
		LLMProvider:       strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
		EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderGemini)),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		GenerationModel:   getEnv("GENERATION_MODEL", ""),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),

		DatabaseURL: getEnv("DATABASE_URL", "courserag.db"),
		DocsPath:    getEnv("DOCS_PATH", "docs"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),

		ChunkSize:             getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:          getEnvAsInt("CHUNK_OVERLAP", 200),
		MaxSearchResults:      getEnvAsInt("MAX_SEARCH_RESULTS", 5),
		MaxToolLoopIterations: getEnvAsInt("MAX_TOOL_LOOP_ITERATIONS", 3),
		SessionHistoryWindow:  getEnvAsInt("SESSION_HISTORY_WINDOW", 4),
		CourseMatchThreshold:  getEnvAsFloat("COURSE_MATCH_THRESHOLD", 0.35),
		CourseTieMargin:       getEnvAsFloat("COURSE_TIE_MARGIN", 0.02),

		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ToolTimeout:     getEnvAsDuration("TOOL_TIMEOUT", 10*time.Second),
		RetryAttempts:   getEnvAsInt("RETRY_ATTEMPTS", 2),

		IngestWorkers:   getEnvAsInt("INGEST_WORKERS", 1),
		EmbedRatePerSec: getEnvAsFloat("EMBED_RATE_PER_SEC", 25),
	}
	return cfg, cfg.Validate()
}

// LoadConfig loads AppConfig and exits the process on invalid configuration.
func LoadConfig() {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	AppConfig = cfg
}

func (c Config) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.LLMProvider))
	}
	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderOpenAI, ProviderHashing:
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_PROVIDER must be %q, %q or %q, got %q",
			ProviderGemini, ProviderOpenAI, ProviderHashing, c.EmbeddingProvider))
	}
	if c.uses(ProviderGemini) && c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.uses(ProviderOpenAI) && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY environment variable is required"))
	}

	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.MaxSearchResults <= 0 {
		errs = append(errs, fmt.Errorf("MAX_SEARCH_RESULTS must be positive, got %d", c.MaxSearchResults))
	}
	if c.MaxToolLoopIterations <= 0 {
		errs = append(errs, fmt.Errorf("MAX_TOOL_LOOP_ITERATIONS must be positive, got %d", c.MaxToolLoopIterations))
	}
	if c.SessionHistoryWindow <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_HISTORY_WINDOW must be positive, got %d", c.SessionHistoryWindow))
	}
	if c.CourseMatchThreshold < -1 || c.CourseMatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("COURSE_MATCH_THRESHOLD must be in [-1, 1], got %v", c.CourseMatchThreshold))
	}
	if c.CourseTieMargin < 0 || c.CourseTieMargin > 1 {
		errs = append(errs, fmt.Errorf("COURSE_TIE_MARGIN must be in [0, 1], got %v", c.CourseTieMargin))
	}
	if c.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("RETRY_ATTEMPTS must not be negative, got %d", c.RetryAttempts))
	}
	return errors.Join(errs...)
}

func (c Config) uses(provider string) bool {
	return c.LLMProvider == provider || c.EmbeddingProvider == provider
}

// Debug reports whether verbose logging is enabled.
func (c Config) Debug() bool {
	return c.LogLevel == "DEBUG"
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
