package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/veritas/internal/models"
)

// HistoryStore keeps answered questions in postgres.
type HistoryStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewHistoryStore(ctx context.Context, pool *pgxpool.Pool, table string) (*HistoryStore, error) {
	if table == "" {
		table = "chat_history"
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			query TEXT NOT NULL,
			response TEXT NOT NULL,
			sources JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)
	if _, err := pool.Exec(ctx, createTable); err != nil {
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}

	createIndex := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_owner_idx ON %s (owner_id, created_at DESC)", table, table)
	if _, err := pool.Exec(ctx, createIndex); err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}

	return &HistoryStore{pool: pool, table: table}, nil
}

func (h *HistoryStore) Append(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error) {
	if entry.Sources == nil {
		entry.Sources = []models.SourceReference{}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (owner_id, query, response, sources)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, h.table)

	err := h.pool.QueryRow(ctx, query,
		entry.OwnerID,
		sanitizeUTF8(entry.Query),
		sanitizeUTF8(entry.Response),
		entry.Sources,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return models.HistoryEntry{}, fmt.Errorf("failed to insert history entry: %w", err)
	}
	return entry, nil
}

// List returns an owner's entries, most recent first.
func (h *HistoryStore) List(ctx context.Context, ownerID string, limit, offset int) ([]models.HistoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, query, response, sources, created_at
		FROM %s
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, h.table)

	rows, err := h.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Query, &e.Response, &e.Sources, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

func (h *HistoryStore) Count(ctx context.Context, ownerID string) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE owner_id = $1", h.table)
	if err := h.pool.QueryRow(ctx, query, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
