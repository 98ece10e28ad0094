package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// LLM
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "api_key is required for the openai provider")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider %q, expected ollama or openai", c.LLM.Provider))
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("llm.base_url", "invalid base URL")
		}
	}

	if c.LLM.Model == "" {
		add("llm.model", "completion model is required")
	}
	if c.LLM.EmbeddingModel == "" {
		add("llm.embedding_model", "embedding model is required")
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	if c.LLM.Timeout <= 0 {
		add("llm.timeout", "timeout must be positive")
	}

	if c.LLM.MaxRetries < 0 || c.LLM.MaxRetries > 10 {
		add("llm.max_retries", "max_retries must be between 0 and 10")
	}

	if c.LLM.RetryBackoff <= 0 || c.LLM.MaxBackoff < c.LLM.RetryBackoff {
		add("llm.max_backoff", "max_backoff must be at least retry_backoff")
	}

	if c.LLM.RateLimit < 0 {
		add("llm.rate_limit", "rate_limit cannot be negative")
	}

	// Retrieval
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		add("retrieval.top_k", "top_k must be between 1 and 50")
	}

	if c.Retrieval.RelevanceThreshold < 0 || c.Retrieval.RelevanceThreshold > 1 {
		add("retrieval.relevance_threshold", "relevance_threshold must be between 0 and 1")
	}

	if c.Retrieval.MaxContextLength < 100 {
		add("retrieval.max_context_length", "max_context_length must be at least 100")
	}

	// Cache
	if c.Cache.TTL <= 0 {
		add("cache.ttl", "ttl must be positive")
	}
	if c.Cache.RedisURL != "" {
		if u, err := url.Parse(c.Cache.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			add("cache.redis_url", "invalid redis URL")
		}
	}

	// Database
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			add("database.url", "invalid database URL")
		}
	}

	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	// Scraper
	if c.Scraper.MaxDepth < 0 {
		add("scraper.max_depth", "max_depth cannot be negative")
	}

	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Server
	if c.Server.MaxUploadBytes < 1 {
		add("server.max_upload_bytes", "max_upload_bytes must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	return errors
}
