// Package llmtest provides deterministic embedding and completion providers
// for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/xhad/veritas/internal/models"
)

// HashEmbedder embeds text as a normalized bag of hashed words, so texts that
// share words have a positive cosine similarity.
type HashEmbedder struct {
	Dim   int
	calls atomic.Int64
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

// Calls counts EmbedQuery and EmbedDocuments invocations.
func (h *HashEmbedder) Calls() int {
	return int(h.calls.Load())
}

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	h.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.Dim)
	for _, w := range Words(text) {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[f.Sum32()%uint32(h.Dim)]++
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return vec
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// Words lowercases text and splits it on anything that is not a letter or
// digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Completer answers with Answer (or with the first included fragment when
// Answer is empty) after failing once per entry in Failures.
type Completer struct {
	Answer   string
	Failures []error

	mu       sync.Mutex
	calls    int
	payloads []models.PromptPayload
}

func (c *Completer) Complete(ctx context.Context, payload models.PromptPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	c.payloads = append(c.payloads, payload)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.calls <= len(c.Failures) {
		return "", c.Failures[c.calls-1]
	}
	if c.Answer != "" {
		return c.Answer, nil
	}
	if len(payload.Included) > 0 {
		return strings.TrimSpace(payload.Included[0].Chunk.Text), nil
	}
	return "I don't know.", nil
}

func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// LastPayload returns the most recent prompt payload.
func (c *Completer) LastPayload() models.PromptPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return models.PromptPayload{}
	}
	return c.payloads[len(c.payloads)-1]
}

// StreamingCompleter streams the Completer's answer one word at a time.
type StreamingCompleter struct {
	Completer
}

func (s *StreamingCompleter) CompleteStream(ctx context.Context, payload models.PromptPayload, onChunk func(string) error) (string, error) {
	answer, err := s.Complete(ctx, payload)
	if err != nil {
		return "", err
	}
	words := strings.SplitAfter(answer, " ")
	for _, w := range words {
		if err := onChunk(w); err != nil {
			return "", err
		}
	}
	return answer, nil
}

// FuncCompleter adapts a function to the Completer interface.
type FuncCompleter func(ctx context.Context, payload models.PromptPayload) (string, error)

func (f FuncCompleter) Complete(ctx context.Context, payload models.PromptPayload) (string, error) {
	return f(ctx, payload)
}
