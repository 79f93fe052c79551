package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/emailclean/internal/core"
)

// Memory is a process-local ListStore used for development and tests.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	lists  map[int64]core.EmailListRecord
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		lists: make(map[int64]core.EmailListRecord),
		now:   time.Now,
	}
}

// Ping implements Pinger.
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Save implements core.ListStore.
func (m *Memory) Save(ctx context.Context, rec core.EmailListRecord) (core.EmailListRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.EmailListRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.ID = m.nextID
	rec.CreatedAt = m.now().UTC()
	m.lists[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

// ListByOwner implements core.ListStore.
func (m *Memory) ListByOwner(ctx context.Context, userID string) ([]core.EmailListRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.EmailListRecord, 0)
	for _, rec := range m.lists {
		if rec.UserID == userID {
			out = append(out, cloneRecord(rec))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// GetByID implements core.ListStore.
func (m *Memory) GetByID(ctx context.Context, id int64) (core.EmailListRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.EmailListRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.lists[id]
	if !ok {
		return core.EmailListRecord{}, core.ErrListNotFound
	}
	return cloneRecord(rec), nil
}

// cloneRecord copies the results slice so stored lists never share memory
// with callers.
func cloneRecord(rec core.EmailListRecord) core.EmailListRecord {
	rec.Results = append(make([]core.ValidationResult, 0, len(rec.Results)), rec.Results...)
	return rec
}

// sortNewestFirst orders by creation time descending; equal timestamps fall
// back to the higher id, which was assigned later.
func sortNewestFirst(recs []core.EmailListRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
