// Package chat answers questions from an owner's documents: cache lookup,
// retrieval, prompt assembly, generation with retries, source attribution
// and cache write.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/internal/types"
	"github.com/xhad/veritas/pkg/cache"
	"github.com/xhad/veritas/pkg/llm"
	"github.com/xhad/veritas/pkg/metrics"
	"github.com/xhad/veritas/pkg/prompt"
	"github.com/xhad/veritas/pkg/retrieval"
	"go.uber.org/zap"
)

const MaxQueryLength = 1000

type Retriever interface {
	Retrieve(ctx context.Context, ownerID, query string) (models.RetrievedContext, error)
}

type Assembler interface {
	Assemble(query string, retrieved models.RetrievedContext) models.PromptPayload
}

type OrchestratorConfig struct {
	CacheTTL    time.Duration
	CachePrefix string
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

type Orchestrator struct {
	config    OrchestratorConfig
	retriever Retriever
	assembler Assembler
	completer types.StreamingCompleter
	cache     types.CacheStore
	gens      *cache.Generations
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Orchestrator)

// WithCache enables answer caching. Without it every query is generated.
func WithCache(c types.CacheStore) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithGenerations scopes cached answers to the owner's document generation.
// Share g with the ingest service that bumps it.
func WithGenerations(g *cache.Generations) Option {
	return func(o *Orchestrator) { o.gens = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewWithConfig(config OrchestratorConfig, retriever Retriever, assembler Assembler, completer types.Completer, opts ...Option) *Orchestrator {
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	if config.CachePrefix == "" {
		config.CachePrefix = cache.DefaultPrefix
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 8 * time.Second
	}
	if config.MaxBackoff < config.RetryBackoff {
		config.MaxBackoff = config.RetryBackoff
	}

	o := &Orchestrator{
		config:    config,
		retriever: retriever,
		assembler: assembler,
		completer: streaming(completer),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Query answers text for ownerID.
func (o *Orchestrator) Query(ctx context.Context, ownerID, text string) (models.ChatResponse, error) {
	return o.answer(ctx, ownerID, text, nil)
}

// QueryStream is Query with the answer delivered through onChunk as it is
// generated. Cached and insufficient-information answers arrive as a single
// chunk. Generation is retried only while nothing has been streamed.
func (o *Orchestrator) QueryStream(ctx context.Context, ownerID, text string, onChunk func(string) error) (models.ChatResponse, error) {
	return o.answer(ctx, ownerID, text, onChunk)
}

func (o *Orchestrator) answer(ctx context.Context, ownerID, text string, onChunk func(string) error) (models.ChatResponse, error) {
	start := time.Now()
	outcome := metrics.OutcomeAnswered
	defer func() { o.metrics.ObserveQuery(outcome, time.Since(start)) }()

	query, err := validate(text)
	if err != nil {
		outcome = metrics.OutcomeInvalid
		return models.ChatResponse{}, err
	}

	generation := o.gens.Current(ownerID)
	key := cache.KeyAt(o.config.CachePrefix, ownerID, generation, query)
	if resp, ok := o.lookup(ctx, key); ok {
		outcome = metrics.OutcomeCached
		resp.Cached = true
		resp.Timestamp = o.now()
		if err := emit(onChunk, resp.Response); err != nil {
			return models.ChatResponse{}, err
		}
		return resp, nil
	}

	var retrieved models.RetrievedContext
	attempts, err := o.retry(ctx, func(ctx context.Context) error {
		var err error
		retrieved, err = o.retriever.Retrieve(ctx, ownerID, query)
		return err
	}, nil)
	if errors.Is(err, retrieval.ErrNoRelevantContext) {
		outcome = metrics.OutcomeInsufficient
		resp := o.respond(query, prompt.InsufficientInformation, nil)
		if err := emit(onChunk, resp.Response); err != nil {
			return models.ChatResponse{}, err
		}
		o.store(ctx, ownerID, generation, key, resp)
		return resp, nil
	}
	if err != nil {
		outcome = metrics.OutcomeFailed
		return models.ChatResponse{}, o.fail(ctx, "retrieval", attempts, err)
	}

	payload := o.assembler.Assemble(query, retrieved)
	o.metrics.ObserveRetrieval(len(payload.Included), len(payload.Dropped))
	if len(payload.Dropped) > 0 {
		o.logger.Debug("context fragments dropped by length budget", zap.Int("dropped", len(payload.Dropped)))
	}

	var answer string
	streamed := false
	attempts, err = o.retry(ctx, func(ctx context.Context) error {
		var err error
		if onChunk == nil {
			answer, err = o.completer.Complete(ctx, payload)
			return err
		}
		answer, err = o.completer.CompleteStream(ctx, payload, func(s string) error {
			streamed = true
			return onChunk(s)
		})
		return err
	}, func() bool { return !streamed })
	if err != nil {
		outcome = metrics.OutcomeFailed
		return models.ChatResponse{}, o.fail(ctx, "completion", attempts, err)
	}

	resp := o.respond(query, strings.TrimSpace(answer), Attribute(payload.Included))
	o.store(ctx, ownerID, generation, key, resp)
	return resp, nil
}

func validate(text string) (string, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return "", fmt.Errorf("%w: query is %d characters, limit is %d", ErrInvalidQuery, n, MaxQueryLength)
	}
	return query, nil
}

func (o *Orchestrator) respond(query, answer string, sources []models.SourceReference) models.ChatResponse {
	if sources == nil {
		sources = []models.SourceReference{}
	}
	return models.ChatResponse{
		Query:     query,
		Response:  answer,
		Sources:   sources,
		Timestamp: o.now(),
	}
}

// retry runs fn until it succeeds, fails with a non-retryable error, or
// MaxRetries retries have been spent. canRetry, when set, can veto further
// attempts.
func (o *Orchestrator) retry(ctx context.Context, fn func(context.Context) error, canRetry func() bool) (int, error) {
	backoff := o.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt > o.config.MaxRetries || !llm.IsRetryable(err) || (canRetry != nil && !canRetry()) {
			return attempt, err
		}

		o.metrics.ProviderRetry()
		o.logger.Warn("provider call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, o.config.MaxBackoff)
	}
}

func (o *Orchestrator) fail(ctx context.Context, stage string, attempts int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	o.logger.Error("failed to answer query",
		zap.String("stage", stage),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return &GenerationFailedError{Attempts: attempts, Err: err}
}

func (o *Orchestrator) lookup(ctx context.Context, key string) (models.ChatResponse, bool) {
	if o.cache == nil {
		return models.ChatResponse{}, false
	}
	data, found, err := o.cache.Get(ctx, key)
	if err != nil {
		o.metrics.CacheError("get")
		o.logger.Warn("failed to read cache", zap.String("key", key), zap.Error(err))
		return models.ChatResponse{}, false
	}
	if !found {
		return models.ChatResponse{}, false
	}

	var resp models.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		o.metrics.CacheError("decode")
		o.logger.Warn("failed to decode cached response", zap.String("key", key), zap.Error(err))
		return models.ChatResponse{}, false
	}
	return resp, true
}

// store is best effort; failures are logged and never reach the caller.
// Answers whose owner's documents changed during the query are not stored.
func (o *Orchestrator) store(ctx context.Context, ownerID, generation, key string, resp models.ChatResponse) {
	if o.cache == nil {
		return
	}
	if o.gens.Current(ownerID) != generation {
		o.logger.Debug("documents changed during query, not caching answer", zap.String("owner_id", ownerID))
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		o.metrics.CacheError("encode")
		o.logger.Warn("failed to encode response for cache", zap.Error(err))
		return
	}
	if err := o.cache.Set(ctx, key, data, o.config.CacheTTL); err != nil {
		o.metrics.CacheError("set")
		o.logger.Warn("failed to write cache", zap.String("key", key), zap.Error(err))
	}
}

func emit(onChunk func(string) error, s string) error {
	if onChunk == nil {
		return nil
	}
	return onChunk(s)
}

type singleChunk struct {
	types.Completer
}

func (s singleChunk) CompleteStream(ctx context.Context, payload models.PromptPayload, onChunk func(string) error) (string, error) {
	answer, err := s.Complete(ctx, payload)
	if err != nil {
		return "", err
	}
	return answer, onChunk(answer)
}

func streaming(c types.Completer) types.StreamingCompleter {
	if s, ok := c.(types.StreamingCompleter); ok {
		return s
	}
	return singleChunk{c}
}
