package store

import (
	"context"
	"errors"

	"endpoint-dispatcher/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("access record not found")
)

// Store keeps the access journal.
type Store interface {
	Save(ctx context.Context, rec *model.AccessRecord) error
	Get(ctx context.Context, id uuid.UUID) (*model.AccessRecord, error)
	List(ctx context.Context, limit int) ([]model.AccessRecord, error)
	Hits(ctx context.Context, route string) (int64, error)
}

// Queue hands pending record ids to the journal worker.
type Queue interface {
	PopQueue(ctx context.Context) (uuid.UUID, error)
}
