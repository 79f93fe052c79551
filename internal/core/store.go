package core

import (
	"context"
	"errors"
)

// ErrListNotFound is returned by a ListStore when no list has the given id.
var ErrListNotFound = errors.New("list not found")

// ListStore persists completed lists. Implementations live in internal/store.
// Calls are not retried; errors are surfaced to the caller as-is.
type ListStore interface {
	// Save stores a record and returns it with ID and CreatedAt assigned.
	Save(ctx context.Context, rec EmailListRecord) (EmailListRecord, error)
	// ListByOwner returns the owner's lists, newest first.
	ListByOwner(ctx context.Context, userID string) ([]EmailListRecord, error)
	// GetByID returns one list or ErrListNotFound.
	GetByID(ctx context.Context, id int64) (EmailListRecord, error)
}
