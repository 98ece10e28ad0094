package types

import (
	"context"
	"time"

	"github.com/xhad/veritas/internal/models"
)

// Core interfaces

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Completer generates an answer for a prompt payload.
type Completer interface {
	Complete(ctx context.Context, payload models.PromptPayload) (string, error)
}

// StreamingCompleter can deliver the answer incrementally. The returned
// string is the full answer.
type StreamingCompleter interface {
	Completer
	CompleteStream(ctx context.Context, payload models.PromptPayload, onChunk func(string) error) (string, error)
}

// CacheStore is a key-value store with TTL. Get reports found=false on a
// miss without an error.
type CacheStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// IndexBackend persists vector index entries.
type IndexBackend interface {
	Load(ctx context.Context) ([]models.IndexEntry, error)
	Save(ctx context.Context, entries []models.IndexEntry) error
	Delete(ctx context.Context, documentID string) error
}

// HistoryStore records answered questions per owner.
type HistoryStore interface {
	Append(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]models.HistoryEntry, error)
	Count(ctx context.Context, ownerID string) (int, error)
}
