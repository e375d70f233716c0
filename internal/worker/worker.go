package worker

import (
	"context"
	"time"

	"endpoint-dispatcher/internal/model"
	"endpoint-dispatcher/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Journal is what the worker needs from the store.
type Journal interface {
	store.Store
	store.Queue
}

// Worker moves pending access records from the Redis queue into the archive.
type Worker struct {
	store   Journal
	logger  *zap.Logger
	backoff time.Duration
	now     func() time.Time
}

// NewWorker initializes the worker
func NewWorker(st Journal, logger *zap.Logger) *Worker {
	return &Worker{
		store:   st,
		logger:  logger,
		backoff: time.Second,
		now:     time.Now,
	}
}

// Start runs the worker loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Journal worker started. Waiting for records...")

	for {
		// Wait for job (Blocking call to Redis)
		id, err := w.store.PopQueue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Journal worker shutting down")
				return
			}
			w.logger.Error("Queue error", zap.Error(err))
			select {
			case <-ctx.Done():
				w.logger.Info("Journal worker shutting down")
				return
			case <-time.After(w.backoff):
			}
			continue
		}

		w.archive(ctx, id)
	}
}

func (w *Worker) archive(ctx context.Context, id uuid.UUID) {
	logger := w.logger.With(zap.String("record_id", id.String()))

	rec, err := w.store.Get(ctx, id)
	if err != nil {
		logger.Error("Archiving failed: record not found", zap.Error(err))
		return
	}
	if rec.State == model.StateArchived {
		return
	}

	rec.State = model.StateArchived
	now := w.now()
	rec.ArchivedAt = &now

	if err := w.store.Save(ctx, rec); err != nil {
		logger.Error("Failed to archive record", zap.Error(err))
		return
	}

	logger.Debug("Record archived",
		zap.String("method", rec.Method),
		zap.String("path", rec.Path),
		zap.Int("status", rec.Status))
}
