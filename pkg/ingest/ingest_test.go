package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/pkg/cache"
	"github.com/xhad/veritas/pkg/index"
	"github.com/xhad/veritas/pkg/ingest"
	"github.com/xhad/veritas/pkg/llm/llmtest"
	"github.com/xhad/veritas/pkg/processor"
)

const article = "Paris is the capital of France. It sits on the Seine.\n\n" +
	"The Eiffel Tower was finished in 1889. It is made of wrought iron.\n\n" +
	"Lyon is known for its food. It lies where the Rhone meets the Saone."

func newService(t *testing.T, opts ...ingest.Option) (*ingest.Service, *index.Index, *llmtest.HashEmbedder) {
	t.Helper()
	ix := index.New()
	emb := llmtest.NewHashEmbedder(64)
	proc := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 80, ChunkOverlap: 10})
	return ingest.NewWithConfig(ingest.ServiceConfig{BatchSize: 2}, proc, emb, ix, opts...), ix, emb
}

func TestIngest(t *testing.T) {
	var progress []int
	svc, ix, emb := newService(t, ingest.WithProgress(func(done, total int) {
		progress = append(progress, done)
		assert.GreaterOrEqual(t, total, done)
	}))

	res, err := svc.Ingest(context.Background(), models.Document{
		ID:       "doc-1",
		OwnerID:  "alice",
		Filename: "france.txt",
		Content:  article,
	})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, ingest.EmbeddingID("doc-1", res.Chunks), res.EmbeddingID)
	assert.True(t, strings.HasPrefix(res.EmbeddingID, "doc_doc-1_"))
	assert.Equal(t, res.Chunks, ix.Len())
	assert.Equal(t, 64, ix.Dimension())
	assert.Equal(t, (res.Chunks+1)/2, emb.Calls(), "chunks are embedded in batches")
	assert.Equal(t, res.Chunks, progress[len(progress)-1])

	owner, ok := svc.Owner("doc-1")
	assert.True(t, ok)
	assert.Equal(t, "alice", owner)
}

func TestIngest_AssignsID(t *testing.T) {
	svc, _, _ := newService(t)
	res, err := svc.Ingest(context.Background(), models.Document{OwnerID: "alice", Content: article})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocumentID)
}

func TestIngest_EmptyDocument(t *testing.T) {
	svc, ix, emb := newService(t)
	_, err := svc.Ingest(context.Background(), models.Document{ID: "d", OwnerID: "alice", Content: " \n\t "})
	assert.ErrorIs(t, err, processor.ErrEmptyInput)
	assert.Zero(t, ix.Len())
	assert.Zero(t, emb.Calls())
}

type brokenEmbedder struct {
	*llmtest.HashEmbedder
	failAfter int
}

func (b *brokenEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if b.Calls() >= b.failAfter {
		return nil, errors.New("provider down")
	}
	return b.HashEmbedder.EmbedDocuments(ctx, texts)
}

func TestIngest_PartialEmbeddingIndexesNothing(t *testing.T) {
	ix := index.New()
	emb := &brokenEmbedder{HashEmbedder: llmtest.NewHashEmbedder(16), failAfter: 1}
	proc := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 80, ChunkOverlap: 10})
	svc := ingest.NewWithConfig(ingest.ServiceConfig{BatchSize: 1}, proc, emb, ix)

	_, err := svc.Ingest(context.Background(), models.Document{ID: "d", OwnerID: "alice", Content: article})
	require.Error(t, err)
	assert.Zero(t, ix.Len())
}

func TestIngest_DimensionMismatch(t *testing.T) {
	svc, ix, _ := newService(t)
	require.NoError(t, ix.Add(context.Background(), models.IndexEntry{
		Chunk:      models.Chunk{ID: "other"},
		DocumentID: "other",
		OwnerID:    "bob",
		Embedding:  make([]float32, 8),
	}))

	_, err := svc.Ingest(context.Background(), models.Document{ID: "d", OwnerID: "alice", Content: article})
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
	assert.Equal(t, 1, ix.Len())
}

func TestIngestAndDeindex_InvalidateOwnerCache(t *testing.T) {
	mem := cache.NewMemory()
	ctx := context.Background()
	aliceKey := cache.Key(cache.DefaultPrefix, "alice", "what is the capital?")
	bobKey := cache.Key(cache.DefaultPrefix, "bob", "what is the capital?")
	require.NoError(t, mem.Set(ctx, aliceKey, []byte("{}"), time.Minute))
	require.NoError(t, mem.Set(ctx, bobKey, []byte("{}"), time.Minute))

	svc, ix, _ := newService(t, ingest.WithCache(mem))
	_, err := svc.Ingest(ctx, models.Document{ID: "d", OwnerID: "alice", Content: article})
	require.NoError(t, err)

	_, found, _ := mem.Get(ctx, aliceKey)
	assert.False(t, found)
	_, found, _ = mem.Get(ctx, bobKey)
	assert.True(t, found)

	require.NoError(t, mem.Set(ctx, aliceKey, []byte("{}"), time.Minute))
	require.NoError(t, svc.Deindex(ctx, "d"))
	assert.Zero(t, ix.Len())
	_, found, _ = mem.Get(ctx, aliceKey)
	assert.False(t, found)
}

func TestDeindex_Unknown(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.Deindex(context.Background(), "missing")
	assert.ErrorIs(t, err, ingest.ErrDocumentNotFound)
}
