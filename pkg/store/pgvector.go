package store

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/veritas/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// VectorStore persists index entries in postgres with pgvector. It is the
// durable backend of the in-process vector index.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			document_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			filename TEXT,
			chunk_index INTEGER,
			content TEXT,
			start_offset INTEGER,
			end_offset INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			embedding vector(%d)
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// tables created before documents carried a creation time
	addCreatedAt := fmt.Sprintf(`
		ALTER TABLE %s ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, addCreatedAt); err != nil {
		return fmt.Errorf("failed to migrate table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_document_idx
		ON %s (document_id)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Save writes entries in one transaction.
func (vs *VectorStore) Save(ctx context.Context, entries []models.IndexEntry) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, owner_id, filename, chunk_index, content, start_offset, end_offset, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		vs.config.TableName)

	for start := 0; start < len(entries); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(entries))

		batch := &pgx.Batch{}
		for _, e := range entries[start:end] {
			batch.Queue(stmt,
				e.Chunk.ID,
				e.DocumentID,
				e.OwnerID,
				sanitizeUTF8(e.Filename),
				e.Chunk.Index,
				sanitizeUTF8(e.Chunk.Text),
				e.Chunk.Start,
				e.Chunk.End,
				createdAt(e.CreatedAt),
				pgvector.NewVector(e.Embedding),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Load returns every stored entry in insertion order.
func (vs *VectorStore) Load(ctx context.Context) ([]models.IndexEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, owner_id, filename, chunk_index, content, start_offset, end_offset, created_at, embedding
		FROM %s
		ORDER BY seq`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var entries []models.IndexEntry
	for rows.Next() {
		var (
			e   models.IndexEntry
			vec pgvector.Vector
		)
		err := rows.Scan(
			&e.Chunk.ID,
			&e.DocumentID,
			&e.OwnerID,
			&e.Filename,
			&e.Chunk.Index,
			&e.Chunk.Text,
			&e.Chunk.Start,
			&e.Chunk.End,
			&e.CreatedAt,
			&vec,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.Chunk.DocumentID = e.DocumentID
		e.Embedding = vec.Slice()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	return entries, nil
}

func (vs *VectorStore) Delete(ctx context.Context, documentID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, query, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	return nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// Pool is shared with the history store.
func (vs *VectorStore) Pool() *pgxpool.Pool {
	return vs.pool
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes, which postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
