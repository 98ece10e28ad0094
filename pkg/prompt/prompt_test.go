package prompt_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/pkg/prompt"
)

func fragment(doc, text string, score float64) models.RetrievedChunk {
	return models.RetrievedChunk{
		Chunk:      models.Chunk{ID: doc + "-0", DocumentID: doc, Text: text},
		DocumentID: doc,
		Filename:   doc + ".txt",
		Score:      score,
	}
}

func TestAssemble_MarkersAndInstructions(t *testing.T) {
	a := prompt.NewWithConfig(prompt.AssemblerConfig{})
	payload := a.Assemble(" What is the capital of France? ", models.RetrievedContext{
		fragment("france", "Paris is the capital of France.", 0.9),
		fragment("seine", "The Seine flows through Paris.", 0.5),
	})

	assert.Contains(t, payload.System, "ONLY")
	assert.Contains(t, payload.System, prompt.InsufficientInformation)
	assert.Contains(t, payload.Prompt, "[Source 1: france.txt]\nParis is the capital of France.")
	assert.Contains(t, payload.Prompt, "[Source 2: seine.txt]\nThe Seine flows through Paris.")
	assert.Less(t, strings.Index(payload.Prompt, "[Source 1"), strings.Index(payload.Prompt, "[Source 2"))
	assert.True(t, strings.HasSuffix(payload.Prompt, "What is the capital of France?\n\nAnswer:"))
	assert.Len(t, payload.Included, 2)
	assert.Empty(t, payload.Dropped)
}

func TestAssemble_DropsLowestRankedFirst(t *testing.T) {
	retrieved := models.RetrievedContext{
		fragment("a", strings.Repeat("a", 40), 0.9),
		fragment("b", strings.Repeat("b", 40), 0.8),
		fragment("c", strings.Repeat("c", 40), 0.7),
	}
	a := prompt.NewWithConfig(prompt.AssemblerConfig{MaxContextLength: 130})

	payload := a.Assemble("q", retrieved)
	require.Len(t, payload.Included, 2)
	assert.Equal(t, "a", payload.Included[0].DocumentID)
	assert.Equal(t, "b", payload.Included[1].DocumentID)
	require.Len(t, payload.Dropped, 1)
	assert.Equal(t, "c", payload.Dropped[0].DocumentID)
	assert.NotContains(t, payload.Prompt, "ccc")

	// Same input, same output.
	assert.Equal(t, payload, a.Assemble("q", retrieved))
	// Input is left untouched.
	assert.Len(t, retrieved, 3)
}

func TestAssemble_TruncatesOversizedTopFragment(t *testing.T) {
	long := strings.Repeat("é", 500)
	a := prompt.NewWithConfig(prompt.AssemblerConfig{MaxContextLength: 100})

	payload := a.Assemble("q", models.RetrievedContext{
		fragment("big", long, 0.9),
		fragment("small", "tiny", 0.4),
	})
	require.Len(t, payload.Included, 1)
	assert.Equal(t, "big", payload.Included[0].DocumentID)
	assert.NotEmpty(t, payload.Included[0].Chunk.Text)
	assert.True(t, utf8.ValidString(payload.Included[0].Chunk.Text))

	header := "[Source 1: big.txt]\n"
	assert.Equal(t, 100, utf8.RuneCountInString(header+payload.Included[0].Chunk.Text))
	assert.Len(t, payload.Dropped, 1)
}

func TestAssemble_EmptyContext(t *testing.T) {
	payload := prompt.NewWithConfig(prompt.AssemblerConfig{}).Assemble("q", nil)
	assert.Empty(t, payload.Included)
	assert.Contains(t, payload.Prompt, "Question:\nq")
}
