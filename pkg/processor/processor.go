package processor

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xhad/veritas/internal/models"
)

// ErrEmptyInput is returned when there is no text to chunk.
var ErrEmptyInput = errors.New("empty input text")

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}

	return Processor{
		config: config,
	}
}

// Process splits a document into chunks with fresh IDs. Blank chunks are
// skipped and the remaining ones renumbered.
func (p *Processor) Process(doc models.Document) (models.ProcessedDocument, error) {
	spans, err := Chunk(doc.Content, p.config.ChunkSize, p.config.ChunkOverlap)
	if err != nil {
		return models.ProcessedDocument{}, fmt.Errorf("failed to chunk document %s: %w", doc.ID, err)
	}

	chunks := make([]models.Chunk, 0, len(spans))
	for _, span := range spans {
		if strings.TrimSpace(span.Text) == "" {
			continue
		}
		span.ID = uuid.NewString()
		span.DocumentID = doc.ID
		span.Index = len(chunks)
		chunks = append(chunks, span)
	}

	return models.ProcessedDocument{
		Document: doc,
		Chunks:   chunks,
	}, nil
}

// Chunk splits text into spans of at most maxLength bytes, preserving order.
// A span ends at a paragraph break when one falls in the back half of the
// window, else at a sentence end, else at whitespace, else at a hard cut on
// a rune boundary. Consecutive spans overlap by at most overlap bytes.
func Chunk(text string, maxLength, overlap int) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if maxLength < utf8.UTFMax {
		return nil, fmt.Errorf("chunk size must be at least %d, got %d", utf8.UTFMax, maxLength)
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxLength {
		overlap = maxLength / 4
	}

	var chunks []models.Chunk
	start := 0
	for start < len(text) {
		end := len(text)
		if end-start > maxLength {
			end = splitPoint(text, start, start+maxLength)
		}

		chunks = append(chunks, models.Chunk{
			Index: len(chunks),
			Text:  text[start:end],
			Start: start,
			End:   end,
		})

		if end == len(text) {
			break
		}
		start = overlapStart(text, start, end, overlap)
	}

	return chunks, nil
}

var (
	paragraphBreaks = []string{"\n\n", "\r\n\r\n"}
	sentenceEnders  = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
)

// splitPoint picks the end of a span that starts at lo and may not pass hi.
func splitPoint(text string, lo, hi int) int {
	window := text[lo:hi]
	half := len(window) / 2

	for _, sep := range paragraphBreaks {
		if i := strings.LastIndex(window, sep); i >= half {
			return lo + i + len(sep)
		}
	}

	best := -1
	for _, ender := range sentenceEnders {
		if i := strings.LastIndex(window, ender); i >= half && i+len(ender) > best {
			best = i + len(ender)
		}
	}
	if best > 0 {
		return lo + best
	}

	if i := strings.LastIndexFunc(window, unicode.IsSpace); i > 0 {
		_, size := utf8.DecodeRuneInString(window[i:])
		return lo + i + size
	}

	cut := hi
	for cut > lo && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == lo {
		_, size := utf8.DecodeRuneInString(text[lo:])
		cut = lo + size
	}
	return cut
}

// overlapStart returns where the span after [start,end) begins. It backs up
// at most overlap bytes from end, never more than half the span, and then
// moves forward to the next word so the overlap does not begin mid-word.
func overlapStart(text string, start, end, overlap int) int {
	if overlap == 0 {
		return end
	}
	next := end - overlap
	if floor := start + (end-start+1)/2; next < floor {
		next = floor
	}
	for next < end && !utf8.RuneStart(text[next]) {
		next++
	}

	if i := strings.IndexFunc(text[next:end], unicode.IsSpace); i >= 0 {
		candidate := next + i
		for candidate < end {
			r, size := utf8.DecodeRuneInString(text[candidate:])
			if !unicode.IsSpace(r) {
				break
			}
			candidate += size
		}
		if candidate < end {
			next = candidate
		}
	}

	return next
}
