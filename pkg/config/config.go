package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider           string        `yaml:"provider"`
		BaseURL            string        `yaml:"base_url"`
		APIKey             string        `yaml:"api_key"`
		Model              string        `yaml:"model"`
		EmbeddingModel     string        `yaml:"embedding_model"`
		EmbeddingBatchSize int           `yaml:"embedding_batch_size"`
		MaxTokens          int           `yaml:"max_tokens"`
		Temperature        float64       `yaml:"temperature"`
		Timeout            time.Duration `yaml:"timeout"`
		MaxRetries         int           `yaml:"max_retries"`
		RetryBackoff       time.Duration `yaml:"retry_backoff"`
		MaxBackoff         time.Duration `yaml:"max_backoff"`
		RateLimit          float64       `yaml:"rate_limit"`
		Burst              int           `yaml:"burst"`
		BreakerFailures    uint32        `yaml:"breaker_failures"`
		BreakerCooldown    time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"llm"`

	Retrieval struct {
		TopK               int     `yaml:"top_k"`
		RelevanceThreshold float64 `yaml:"relevance_threshold"`
		MaxContextLength   int     `yaml:"max_context_length"`
	} `yaml:"retrieval"`

	Cache struct {
		RedisURL string        `yaml:"redis_url"`
		TTL      time.Duration `yaml:"ttl"`
		Prefix   string        `yaml:"prefix"`
	} `yaml:"cache"`

	Database struct {
		URL          string `yaml:"url"`
		TableName    string `yaml:"table_name"`
		HistoryTable string `yaml:"history_table"`
		VectorDim    int    `yaml:"vector_dim"`
		BatchSize    int    `yaml:"batch_size"`
	} `yaml:"database"`

	Scraper struct {
		MaxDepth          int      `yaml:"max_depth"`
		RateLimit         float64  `yaml:"rate_limit"`
		IgnorePatterns    []string `yaml:"ignore_patterns"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"scraper"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Server struct {
		Addr           string        `yaml:"addr"`
		SecretKey      string        `yaml:"secret_key"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig reads path, or the first config file found in the default
// locations, on top of the defaults. A .env file in the working directory
// and then the environment override file values.
func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/veritas/config.yaml"),
			"/etc/veritas/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	applyDefaults(config)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := mergeWithEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadDotEnv sets variables from a .env file without overriding ones
// already in the environment.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3.2"
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = "nomic-embed-text"
	}
	if config.LLM.EmbeddingBatchSize == 0 {
		config.LLM.EmbeddingBatchSize = 32
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.3
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}
	if config.LLM.MaxRetries == 0 {
		config.LLM.MaxRetries = 2
	}
	if config.LLM.RetryBackoff == 0 {
		config.LLM.RetryBackoff = 500 * time.Millisecond
	}
	if config.LLM.MaxBackoff == 0 {
		config.LLM.MaxBackoff = 8 * time.Second
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 10
	}
	if config.LLM.Burst == 0 {
		config.LLM.Burst = 5
	}
	if config.LLM.BreakerFailures == 0 {
		config.LLM.BreakerFailures = 5
	}
	if config.LLM.BreakerCooldown == 0 {
		config.LLM.BreakerCooldown = 30 * time.Second
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}
	if config.Retrieval.RelevanceThreshold == 0 {
		config.Retrieval.RelevanceThreshold = 0.3
	}
	if config.Retrieval.MaxContextLength == 0 {
		config.Retrieval.MaxContextLength = 4000
	}

	if config.Cache.TTL == 0 {
		config.Cache.TTL = time.Hour
	}
	if config.Cache.Prefix == "" {
		config.Cache.Prefix = "chat:"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.HistoryTable == "" {
		config.Database.HistoryTable = "chat_history"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 1
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", ".txt", ".md", ".pdf", "/", ""}
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.TokenTTL == 0 {
		config.Server.TokenTTL = time.Hour
	}
	if config.Server.MaxUploadBytes == 0 {
		config.Server.MaxUploadBytes = 10 << 20
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
}

func mergeWithEnv(config *Config) error {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		config.LLM.Provider = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		config.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("COMPLETION_MODEL"); v != "" {
		config.LLM.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		config.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		config.Cache.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		config.Server.SecretKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		config.Server.Addr = ":" + v
	}

	var err error
	if config.Retrieval.TopK, err = envInt("TOP_K", config.Retrieval.TopK); err != nil {
		return err
	}
	if config.Retrieval.MaxContextLength, err = envInt("MAX_CONTEXT_LENGTH", config.Retrieval.MaxContextLength); err != nil {
		return err
	}
	if config.LLM.MaxRetries, err = envInt("MAX_RETRIES", config.LLM.MaxRetries); err != nil {
		return err
	}
	if config.Retrieval.RelevanceThreshold, err = envFloat("RELEVANCE_THRESHOLD", config.Retrieval.RelevanceThreshold); err != nil {
		return err
	}
	if config.Cache.TTL, err = envDuration("CACHE_TTL", config.Cache.TTL); err != nil {
		return err
	}
	if config.LLM.Timeout, err = envDuration("PROVIDER_TIMEOUT", config.LLM.Timeout); err != nil {
		return err
	}
	return nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

// envDuration accepts Go durations ("90s") or a plain number of seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
