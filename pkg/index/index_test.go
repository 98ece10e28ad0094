package index_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/pkg/index"
)

func entry(doc, chunk, owner string, vec ...float32) models.IndexEntry {
	return models.IndexEntry{
		Chunk:      models.Chunk{ID: chunk, DocumentID: doc, Text: "text of " + chunk},
		DocumentID: doc,
		OwnerID:    owner,
		Filename:   doc + ".txt",
		Embedding:  vec,
	}
}

type memBackend struct {
	mu      sync.Mutex
	entries []models.IndexEntry
	failing bool
}

func (b *memBackend) Load(ctx context.Context) ([]models.IndexEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.IndexEntry(nil), b.entries...), nil
}

func (b *memBackend) Save(ctx context.Context, entries []models.IndexEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return errors.New("disk full")
	}
	b.entries = append(b.entries, entries...)
	return nil
}

func (b *memBackend) Delete(ctx context.Context, documentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	b.entries = kept
	return nil
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := index.New()
	results, err := ix.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_SelfMatch(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.7, 0.7, 0, 0},
		{0, 0, 1, 0.2},
		{0.1, 0.2, 0.3, 0.9},
	}
	for i, v := range vectors {
		require.NoError(t, ix.Add(ctx, entry("doc", fmt.Sprintf("c%d", i), "alice", v...)))
	}

	for i, v := range vectors {
		results, err := ix.Search(v, 3)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, fmt.Sprintf("c%d", i), results[0].Entry.Chunk.ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	}
}

func TestSearch_RankingAndTopK(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	require.NoError(t, ix.AddBatch(ctx, []models.IndexEntry{
		entry("d1", "far", "alice", 0, 1),
		entry("d1", "near", "alice", 0.9, 0.1),
		entry("d2", "exact", "alice", 1, 0),
		entry("d2", "opposite", "alice", -1, 0),
	}))

	results, err := ix.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "exact", results[0].Entry.Chunk.ID)
	assert.Equal(t, "near", results[1].Entry.Chunk.ID)
	assert.Equal(t, "far", results[2].Entry.Chunk.ID)
	assert.Equal(t, 0.0, results[2].Score)

	all, err := ix.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, 0.0, all[3].Score, "negative similarity clamps to zero")
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, ix.Add(ctx, entry("doc", id, "alice", 1, 1)))
	}

	for i := 0; i < 5; i++ {
		results, err := ix.Search([]float32{2, 2}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "first", results[0].Entry.Chunk.ID)
		assert.Equal(t, "second", results[1].Entry.Chunk.ID)
		assert.Equal(t, "third", results[2].Entry.Chunk.ID)
	}
}

func TestSearch_OwnerFilter(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	require.NoError(t, ix.AddBatch(ctx, []models.IndexEntry{
		entry("a-doc", "a1", "alice", 1, 0),
		entry("b-doc", "b1", "bob", 1, 0),
	}))

	results, err := ix.Search([]float32{1, 0}, 5, index.WithOwner("bob"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].Entry.Chunk.ID)
}

func TestAdd_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	require.NoError(t, ix.Add(ctx, entry("doc", "c1", "alice", 1, 2, 3)))
	assert.Equal(t, 3, ix.Dimension())

	err := ix.Add(ctx, entry("doc", "c2", "alice", 1, 2))
	require.ErrorIs(t, err, index.ErrDimensionMismatch)
	var dimErr *index.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)

	err = ix.AddBatch(ctx, []models.IndexEntry{
		entry("doc2", "ok", "alice", 1, 1, 1),
		entry("doc2", "bad", "alice", 1, 1, 1, 1),
	})
	require.ErrorIs(t, err, index.ErrDimensionMismatch)
	assert.Equal(t, 1, ix.Len(), "failed batch must not be partially visible")

	err = ix.Add(ctx, entry("doc3", "empty", "alice"))
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	require.NoError(t, ix.AddBatch(ctx, []models.IndexEntry{
		entry("d1", "d1-a", "alice", 1, 0),
		entry("d2", "d2-a", "alice", 0.9, 0.1),
		entry("d1", "d1-b", "alice", 0, 1),
	}))

	before, err := ix.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "d1-a", before[0].Entry.Chunk.ID)

	removed, err := ix.Remove(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, ix.Len())

	after, err := ix.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	for _, r := range after {
		assert.NotEqual(t, "d1-a", r.Entry.Chunk.ID)
		assert.NotEqual(t, "d1", r.Entry.DocumentID)
	}

	removed, err = ix.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, ok := ix.Owner("d1")
	assert.False(t, ok)
	owner, ok := ix.Owner("d2")
	assert.True(t, ok)
	assert.Equal(t, "alice", owner)
}

func TestAdd_CopiesEmbedding(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	vec := []float32{1, 0}
	require.NoError(t, ix.Add(ctx, entry("doc", "c1", "alice", vec...)))
	vec[0], vec[1] = 0, 1

	results, err := ix.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestBackend_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	ix := index.New(index.WithBackend(backend))
	require.NoError(t, ix.AddBatch(ctx, []models.IndexEntry{
		entry("d1", "c1", "alice", 1, 0),
		entry("d2", "c2", "alice", 0, 1),
	}))
	_, err := ix.Remove(ctx, "d2")
	require.NoError(t, err)

	reopened, err := index.Open(ctx, index.WithBackend(backend))
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	assert.Equal(t, 2, reopened.Dimension())

	backend.failing = true
	err = ix.Add(ctx, entry("d3", "c3", "alice", 1, 1))
	require.Error(t, err)
	assert.Equal(t, 1, ix.Len(), "entries must not be visible when persisting fails")
}

func TestConcurrentSearchDuringWrites(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	require.NoError(t, ix.Add(ctx, entry("seed", "seed", "alice", 1, 0, 0)))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				doc := fmt.Sprintf("w%d-%d", w, i)
				assert.NoError(t, ix.Add(ctx, entry(doc, doc, "alice", 0, 1, float32(i))))
				if i%3 == 0 {
					_, err := ix.Remove(ctx, doc)
					assert.NoError(t, err)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				results, err := ix.Search([]float32{1, 0, 0}, 1)
				assert.NoError(t, err)
				if assert.Len(t, results, 1) {
					assert.Equal(t, "seed", results[0].Entry.Chunk.ID)
				}
			}
		}()
	}
	wg.Wait()
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	ix := index.New()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	long := entry("report", "r0", "alice", 1, 0)
	long.Chunk.Text = strings.Repeat("a", index.PreviewLength+10)
	long.CreatedAt = day

	second := entry("notes", "n1", "alice", 0, 1)
	second.Chunk.Index = 1
	second.Chunk.Text = "second part"
	second.CreatedAt = day.Add(time.Hour)
	first := entry("notes", "n0", "alice", 0, 1)
	first.Chunk.Text = "first part"
	first.CreatedAt = day.Add(time.Hour)

	other := entry("secret", "s0", "bob", 1, 1)

	require.NoError(t, ix.AddBatch(ctx, []models.IndexEntry{long, second, first, other}))

	docs := ix.Documents("alice")
	require.Len(t, docs, 2)

	assert.Equal(t, "notes", docs[0].ID, "newest first")
	assert.Equal(t, "notes.txt", docs[0].Filename)
	assert.Equal(t, 2, docs[0].Chunks)
	assert.Equal(t, "first part...", docs[0].Preview)
	assert.Equal(t, day.Add(time.Hour), docs[0].CreatedAt)

	assert.Equal(t, "report", docs[1].ID)
	assert.Equal(t, 1, docs[1].Chunks)
	assert.Equal(t, strings.Repeat("a", index.PreviewLength)+"...", docs[1].Preview)

	assert.Empty(t, ix.Documents("carol"))
	assert.NotNil(t, ix.Documents("carol"))

	_, err := ix.Remove(ctx, "notes")
	require.NoError(t, err)
	docs = ix.Documents("alice")
	require.Len(t, docs, 1)
	assert.Equal(t, "report", docs[0].ID)
}
