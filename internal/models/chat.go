package models

import "time"

// Query is a question asked by an owner.
type Query struct {
	OwnerID   string
	Text      string
	Timestamp time.Time
}

// RetrievedChunk is a chunk returned by retrieval with its relevance score.
type RetrievedChunk struct {
	Chunk      Chunk
	DocumentID string
	Filename   string
	Score      float64
}

// RetrievedContext is ranked by Score descending, unique by chunk ID and
// bounded by the configured top-K.
type RetrievedContext []RetrievedChunk

// SourceReference points at a document that backs an answer.
type SourceReference struct {
	DocumentID     string  `json:"document_id"`
	Filename       string  `json:"filename"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ChatResponse is the answer to a Query.
type ChatResponse struct {
	Query     string            `json:"query"`
	Response  string            `json:"response"`
	Sources   []SourceReference `json:"sources"`
	Cached    bool              `json:"cached"`
	Timestamp time.Time         `json:"timestamp"`
}

// PromptPayload is a generation request built from retrieved context.
// Included holds the fragments that made it into Prompt, in rank order;
// Dropped holds the ones cut by the length budget.
type PromptPayload struct {
	System   string
	Prompt   string
	Included RetrievedContext
	Dropped  RetrievedContext
}

// HistoryEntry is one persisted question and answer.
type HistoryEntry struct {
	ID        int64             `json:"id"`
	OwnerID   string            `json:"-"`
	Query     string            `json:"query"`
	Response  string            `json:"response"`
	Sources   []SourceReference `json:"sources"`
	CreatedAt time.Time         `json:"created_at"`
}
