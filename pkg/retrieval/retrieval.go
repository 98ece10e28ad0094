package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/internal/types"
	"github.com/xhad/veritas/pkg/index"
	"go.uber.org/zap"
)

// ErrNoRelevantContext means nothing in the owner's documents scored above
// the relevance threshold. Callers answer with an explicit
// insufficient-information response instead of generating.
var ErrNoRelevantContext = errors.New("no relevant context")

// Searcher is the part of the vector index retrieval needs.
type Searcher interface {
	Search(query []float32, topK int, opts ...index.SearchOption) ([]index.Result, error)
	Len() int
}

type EngineConfig struct {
	TopK int
	// Threshold is the minimum cosine similarity, in [0,1], a chunk needs
	// to be used as context.
	Threshold float64
}

type Engine struct {
	config   EngineConfig
	embedder types.Embedder
	index    Searcher
	logger   *zap.Logger
}

func NewWithConfig(config EngineConfig, embedder types.Embedder, ix Searcher, logger *zap.Logger) *Engine {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.Threshold < 0 {
		config.Threshold = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		config:   config,
		embedder: embedder,
		index:    ix,
		logger:   logger,
	}
}

// Retrieve embeds the query and returns the owner's best matching chunks.
func (e *Engine) Retrieve(ctx context.Context, ownerID, query string) (models.RetrievedContext, error) {
	if e.index.Len() == 0 {
		e.logger.Debug("index is empty, skipping retrieval")
		return nil, ErrNoRelevantContext
	}

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := e.index.Search(vec, e.config.TopK, index.WithOwner(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	seen := make(map[string]bool, len(hits))
	retrieved := make(models.RetrievedContext, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < e.config.Threshold {
			continue
		}
		if seen[hit.Entry.Chunk.ID] {
			continue
		}
		seen[hit.Entry.Chunk.ID] = true
		retrieved = append(retrieved, models.RetrievedChunk{
			Chunk:      hit.Entry.Chunk,
			DocumentID: hit.Entry.DocumentID,
			Filename:   hit.Entry.Filename,
			Score:      hit.Score,
		})
	}

	e.logger.Debug("retrieved context",
		zap.Int("candidates", len(hits)),
		zap.Int("kept", len(retrieved)),
		zap.Float64("threshold", e.config.Threshold))

	if len(retrieved) == 0 {
		return nil, ErrNoRelevantContext
	}
	return retrieved, nil
}
