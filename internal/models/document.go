package models

import "time"

// Document is an uploaded file after text extraction.
type Document struct {
	ID        string
	OwnerID   string
	Filename  string
	Content   string
	CreatedAt time.Time
}

// Chunk is a bounded span of a document's text. Start and End are byte
// offsets into Document.Content.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Start      int
	End        int
}

// IndexEntry is what the vector index holds for each chunk.
type IndexEntry struct {
	Chunk      Chunk
	DocumentID string
	OwnerID    string
	Filename   string
	CreatedAt  time.Time
	Embedding  []float32
}

// DocumentSummary describes an indexed document without its vectors.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
	Preview   string    `json:"content_preview"`
}

// ProcessedDocument is a document split into chunks, with one embedding per
// chunk once it has been through the embedder.
type ProcessedDocument struct {
	Document
	Chunks     []Chunk
	Embeddings [][]float32
}

// Entries pairs chunks with their embeddings. It panics if the two slices
// differ in length.
func (p ProcessedDocument) Entries() []IndexEntry {
	if len(p.Chunks) != len(p.Embeddings) {
		panic("models: chunk and embedding counts differ")
	}
	entries := make([]IndexEntry, len(p.Chunks))
	for i, c := range p.Chunks {
		entries[i] = IndexEntry{
			Chunk:      c,
			DocumentID: p.ID,
			OwnerID:    p.OwnerID,
			Filename:   p.Filename,
			CreatedAt:  p.CreatedAt,
			Embedding:  p.Embeddings[i],
		}
	}
	return entries
}
