// Package index holds chunk embeddings in memory and answers nearest-neighbour
// queries by cosine similarity.
//
// Readers never block: every mutation builds a new immutable snapshot and
// swaps it in atomically. Mutations are serialized with each other and, when
// a backend is configured, persisted before the swap.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/internal/types"
	"go.uber.org/zap"
)

// ErrDimensionMismatch matches any DimensionMismatchError.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionMismatchError reports an embedding whose length differs from the
// index dimension.
type DimensionMismatchError struct {
	ChunkID string
	Want    int
	Got     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding for chunk %s has dimension %d, index expects %d", e.ChunkID, e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Result is one search hit.
type Result struct {
	Entry models.IndexEntry
	Score float64
}

type entry struct {
	models.IndexEntry
	norm float64
}

type snapshot struct {
	dim     int
	entries []entry
}

// Index is safe for concurrent use.
type Index struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	backend types.IndexBackend
	logger  *zap.Logger
}

type Option func(*Index)

// WithBackend persists every mutation through b.
func WithBackend(b types.IndexBackend) Option {
	return func(ix *Index) {
		ix.backend = b
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New returns an empty index.
func New(opts ...Option) *Index {
	ix := &Index{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ix)
	}
	ix.current.Store(&snapshot{})
	return ix
}

// Open returns an index populated from the backend's persisted entries.
func Open(ctx context.Context, opts ...Option) (*Index, error) {
	ix := New(opts...)
	if ix.backend == nil {
		return ix, nil
	}

	loaded, err := ix.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load index entries: %w", err)
	}
	next, err := appendEntries(&snapshot{}, loaded)
	if err != nil {
		return nil, err
	}
	ix.current.Store(next)
	ix.logger.Info("loaded vector index", zap.Int("entries", len(next.entries)), zap.Int("dimension", next.dim))
	return ix, nil
}

// Add appends one entry.
func (ix *Index) Add(ctx context.Context, e models.IndexEntry) error {
	return ix.AddBatch(ctx, []models.IndexEntry{e})
}

// AddBatch appends entries atomically: either all become visible or none do.
// The first insertion into an empty index fixes its dimension.
func (ix *Index) AddBatch(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	next, err := appendEntries(ix.current.Load(), entries)
	if err != nil {
		return err
	}
	if ix.backend != nil {
		if err := ix.backend.Save(ctx, entries); err != nil {
			return fmt.Errorf("failed to persist index entries: %w", err)
		}
	}
	ix.current.Store(next)
	return nil
}

// Remove drops every entry of a document and reports how many were removed.
func (ix *Index) Remove(ctx context.Context, documentID string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.current.Load()
	kept := make([]entry, 0, len(cur.entries))
	for _, e := range cur.entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	removed := len(cur.entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if ix.backend != nil {
		if err := ix.backend.Delete(ctx, documentID); err != nil {
			return 0, fmt.Errorf("failed to delete persisted entries: %w", err)
		}
	}

	dim := cur.dim
	if len(kept) == 0 {
		dim = 0
	}
	ix.current.Store(&snapshot{dim: dim, entries: kept})
	return removed, nil
}

type searchOptions struct {
	ownerID string
}

type SearchOption func(*searchOptions)

// WithOwner restricts results to documents of one owner.
func WithOwner(ownerID string) SearchOption {
	return func(o *searchOptions) {
		o.ownerID = ownerID
	}
}

// Search returns up to topK entries ranked by cosine similarity, highest
// first, with ties going to the earlier insertion. Scores are clamped to
// [0,1]. An empty index yields no results and no error.
func (ix *Index) Search(query []float32, topK int, opts ...SearchOption) ([]Result, error) {
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}

	snap := ix.current.Load()
	if len(snap.entries) == 0 || topK <= 0 {
		return []Result{}, nil
	}
	if len(query) != snap.dim {
		return nil, &DimensionMismatchError{ChunkID: "query", Want: snap.dim, Got: len(query)}
	}

	qnorm := norm(query)
	results := make([]Result, 0, len(snap.entries))
	for _, e := range snap.entries {
		if o.ownerID != "" && e.OwnerID != o.ownerID {
			continue
		}
		results = append(results, Result{
			Entry: e.IndexEntry,
			Score: cosine(query, qnorm, e.Embedding, e.norm),
		})
	}

	// entries are in insertion order, so a stable sort keeps earlier ones
	// ahead on equal scores
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (ix *Index) Len() int {
	return len(ix.current.Load().entries)
}

// Dimension is 0 until the first insertion.
func (ix *Index) Dimension() int {
	return ix.current.Load().dim
}

// Owner reports the owner of an indexed document.
func (ix *Index) Owner(documentID string) (string, bool) {
	for _, e := range ix.current.Load().entries {
		if e.DocumentID == documentID {
			return e.OwnerID, true
		}
	}
	return "", false
}

// PreviewLength bounds DocumentSummary.Preview in runes, not counting the
// trailing ellipsis.
const PreviewLength = 200

// Documents summarizes an owner's indexed documents, newest first. The
// preview is taken from the document's first chunk.
func (ix *Index) Documents(ownerID string) []models.DocumentSummary {
	var (
		order []string
		byID  = make(map[string]*models.DocumentSummary)
		first = make(map[string]int)
	)
	for _, e := range ix.current.Load().entries {
		if e.OwnerID != ownerID {
			continue
		}
		sum, ok := byID[e.DocumentID]
		if !ok {
			sum = &models.DocumentSummary{
				ID:        e.DocumentID,
				Filename:  e.Filename,
				CreatedAt: e.CreatedAt,
			}
			byID[e.DocumentID] = sum
			first[e.DocumentID] = e.Chunk.Index
			order = append(order, e.DocumentID)
			sum.Preview = e.Chunk.Text
		}
		sum.Chunks++
		if e.Chunk.Index < first[e.DocumentID] {
			first[e.DocumentID] = e.Chunk.Index
			sum.Preview = e.Chunk.Text
		}
	}

	// walk backwards so documents with equal timestamps come latest first
	out := make([]models.DocumentSummary, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		sum := byID[order[i]]
		sum.Preview = preview(sum.Preview, sum.Chunks > 1)
		out = append(out, *sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func preview(text string, more bool) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > PreviewLength {
		return string(runes[:PreviewLength]) + "..."
	}
	if more {
		return text + "..."
	}
	return text
}

func appendEntries(cur *snapshot, add []models.IndexEntry) (*snapshot, error) {
	dim := cur.dim
	if dim == 0 && len(add) > 0 {
		dim = len(add[0].Embedding)
	}
	if dim == 0 {
		return nil, &DimensionMismatchError{ChunkID: add[0].Chunk.ID, Want: 1, Got: 0}
	}

	// readers may hold cur.entries, so never write into its backing array
	entries := make([]entry, len(cur.entries), len(cur.entries)+len(add))
	copy(entries, cur.entries)
	for _, e := range add {
		if len(e.Embedding) != dim {
			return nil, &DimensionMismatchError{ChunkID: e.Chunk.ID, Want: dim, Got: len(e.Embedding)}
		}
		vec := make([]float32, dim)
		copy(vec, e.Embedding)
		e.Embedding = vec
		entries = append(entries, entry{IndexEntry: e, norm: norm(vec)})
	}
	return &snapshot{dim: dim, entries: entries}, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (anorm * bnorm)
	return math.Max(0, math.Min(1, sim))
}
