// Package prompt turns a question and its retrieved context into the
// payload sent to the completion model.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xhad/veritas/internal/models"
)

// InsufficientInformation is the answer given when the documents do not
// cover a question.
const InsufficientInformation = "I don't have enough information in the uploaded documents to answer this question."

const separator = "\n\n---\n\n"

var systemPrompt = `You are an assistant that answers questions based ONLY on the provided context from uploaded documents.

Rules:
1. Answer ONLY using information from the context.
2. If the context does not contain the answer, reply exactly: "` + InsufficientInformation + `"
3. Do NOT use outside knowledge, guess, or add facts that are not in the context.
4. Refer to the sources you used by their [Source N] marker.
5. Be concise and accurate.`

type AssemblerConfig struct {
	// MaxContextLength bounds the rendered context, in runes.
	MaxContextLength int
}

type Assembler struct {
	config AssemblerConfig
}

func NewWithConfig(config AssemblerConfig) *Assembler {
	if config.MaxContextLength <= 0 {
		config.MaxContextLength = 4000
	}
	return &Assembler{config: config}
}

// Assemble renders the retrieved fragments in ranked order, dropping the
// lowest-ranked ones until the context fits MaxContextLength. The output
// depends only on its inputs.
func (a *Assembler) Assemble(query string, retrieved models.RetrievedContext) models.PromptPayload {
	budget := a.config.MaxContextLength

	included := make(models.RetrievedContext, len(retrieved))
	copy(included, retrieved)

	var dropped models.RetrievedContext
	for len(included) > 1 && renderedLength(included) > budget {
		last := len(included) - 1
		dropped = append(dropped, included[last])
		included = included[:last]
	}

	if len(included) == 1 && renderedLength(included) > budget {
		included[0] = truncate(included[0], budget-utf8.RuneCountInString(marker(1, included[0])))
	}

	var sb strings.Builder
	sb.WriteString("Context from documents:\n\n")
	sb.WriteString(render(included))
	sb.WriteString("\n\nQuestion:\n")
	sb.WriteString(strings.TrimSpace(query))
	sb.WriteString("\n\nAnswer:")

	return models.PromptPayload{
		System:   systemPrompt,
		Prompt:   sb.String(),
		Included: included,
		Dropped:  dropped,
	}
}

func marker(n int, c models.RetrievedChunk) string {
	return fmt.Sprintf("[Source %d: %s]\n", n, c.Filename)
}

func render(chunks models.RetrievedContext) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = marker(i+1, c) + c.Chunk.Text
	}
	return strings.Join(parts, separator)
}

func renderedLength(chunks models.RetrievedContext) int {
	return utf8.RuneCountInString(render(chunks))
}

// truncate keeps at least one rune of text so the model never sees an empty
// context.
func truncate(c models.RetrievedChunk, limit int) models.RetrievedChunk {
	if limit < 1 {
		limit = 1
	}
	runes := []rune(c.Chunk.Text)
	if len(runes) > limit {
		c.Chunk.Text = string(runes[:limit])
	}
	return c
}
