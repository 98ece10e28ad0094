// Package history keeps answered questions per owner in process memory.
// The postgres implementation lives in pkg/store.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/xhad/veritas/internal/models"
)

type Memory struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
	nextID  int64
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Append(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	entry.ID = m.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	if entry.Sources == nil {
		entry.Sources = []models.SourceReference{}
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

// List returns an owner's entries, most recent first.
func (m *Memory) List(ctx context.Context, ownerID string, limit, offset int) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.HistoryEntry{}
	skipped := 0
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.OwnerID != ownerID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}
