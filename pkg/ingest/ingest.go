// Package ingest chunks, embeds and indexes documents, and removes them
// again.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/internal/types"
	"github.com/xhad/veritas/pkg/cache"
	"github.com/xhad/veritas/pkg/index"
	"github.com/xhad/veritas/pkg/metrics"
	"github.com/xhad/veritas/pkg/processor"
	"go.uber.org/zap"
)

var ErrDocumentNotFound = errors.New("document not found")

// Result describes an indexed document.
type Result struct {
	DocumentID  string
	Chunks      int
	EmbeddingID string
}

type ServiceConfig struct {
	// BatchSize is the number of chunks sent to the embedder per call.
	BatchSize   int
	CachePrefix string
}

type Service struct {
	config    ServiceConfig
	processor processor.Processor
	embedder  types.Embedder
	index     *index.Index
	cache     types.CacheStore
	gens      *cache.Generations
	logger    *zap.Logger
	metrics   *metrics.Metrics
	progress  func(done, total int)
}

type Option func(*Service)

// WithCache makes Ingest and Deindex drop the owner's cached answers.
func WithCache(c types.CacheStore) Option {
	return func(s *Service) { s.cache = c }
}

// WithGenerations bumps the owner's generation on every document change.
func WithGenerations(g *cache.Generations) Option {
	return func(s *Service) { s.gens = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProgress is called after every embedded batch.
func WithProgress(fn func(done, total int)) Option {
	return func(s *Service) { s.progress = fn }
}

func NewWithConfig(config ServiceConfig, proc processor.Processor, embedder types.Embedder, ix *index.Index, opts ...Option) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.CachePrefix == "" {
		config.CachePrefix = cache.DefaultPrefix
	}

	s := &Service{
		config:    config,
		processor: proc,
		embedder:  embedder,
		index:     ix,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbeddingID names the embedding set of a document.
func EmbeddingID(documentID string, chunks int) string {
	return fmt.Sprintf("doc_%s_%d_chunks", documentID, chunks)
}

// Ingest makes doc searchable for its owner. Nothing is indexed unless
// every chunk was embedded.
func (s *Service) Ingest(ctx context.Context, doc models.Document) (Result, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	processed, err := s.processor.Process(doc)
	if err != nil {
		return Result{}, err
	}
	if len(processed.Chunks) == 0 {
		return Result{}, fmt.Errorf("failed to chunk document %s: %w", doc.ID, processor.ErrEmptyInput)
	}

	texts := make([]string, len(processed.Chunks))
	for i, c := range processed.Chunks {
		texts[i] = c.Text
	}

	processed.Embeddings = make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(texts))
		vectors, err := s.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return Result{}, fmt.Errorf("failed to embed chunks %d-%d of document %s: %w", start, end, doc.ID, err)
		}
		if len(vectors) != end-start {
			return Result{}, fmt.Errorf("embedder returned %d vectors for %d chunks of document %s", len(vectors), end-start, doc.ID)
		}
		processed.Embeddings = append(processed.Embeddings, vectors...)
		if s.progress != nil {
			s.progress(end, len(texts))
		}
	}

	if err := s.index.AddBatch(ctx, processed.Entries()); err != nil {
		return Result{}, fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}

	s.invalidate(ctx, doc.OwnerID)
	s.metrics.DocumentIndexed(len(processed.Chunks))
	s.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(processed.Chunks)))

	return Result{
		DocumentID:  doc.ID,
		Chunks:      len(processed.Chunks),
		EmbeddingID: EmbeddingID(doc.ID, len(processed.Chunks)),
	}, nil
}

// Deindex removes every chunk of a document. It returns ErrDocumentNotFound
// when the document is not indexed.
func (s *Service) Deindex(ctx context.Context, documentID string) error {
	owner, ok := s.index.Owner(documentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	removed, err := s.index.Remove(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to remove document %s: %w", documentID, err)
	}

	s.invalidate(ctx, owner)
	s.metrics.DocumentRemoved()
	s.logger.Info("document removed", zap.String("document_id", documentID), zap.Int("chunks", removed))
	return nil
}

// Documents lists the owner's indexed documents, newest first.
func (s *Service) Documents(ownerID string) []models.DocumentSummary {
	return s.index.Documents(ownerID)
}

// Owner reports who indexed documentID.
func (s *Service) Owner(documentID string) (string, bool) {
	return s.index.Owner(documentID)
}

func (s *Service) invalidate(ctx context.Context, ownerID string) {
	s.gens.Bump(ownerID)
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, cache.OwnerPrefix(s.config.CachePrefix, ownerID)); err != nil {
		s.metrics.CacheError("invalidate")
		s.logger.Warn("failed to invalidate cached answers", zap.String("owner_id", ownerID), zap.Error(err))
	}
}
