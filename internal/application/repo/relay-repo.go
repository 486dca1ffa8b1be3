package repo

import (
	"context"
	"sort"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
)

func (r *PostgresStore) ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) (events []*entity.IntegrationEvent, err error) {
	done := r.track("claim_batch")
	defer func() { done(err) }()

	r.logger.Debugf("[worker %s, limit: %d] ClaimBatch started", workerID, limit)

	err = r.db.WithinTransaction(ctx, func(txCtx context.Context) error {
		rows, qErr := r.db.Query(txCtx, claimBatch, workerID, limit, now)
		if qErr != nil {
			return qErr
		}
		events, qErr = collectEvents(rows)
		return qErr
	})
	if err != nil {
		r.logger.Errorw("claim batch failed", "worker", workerID, "err", err)
		return nil, appers.NewStorageError("claim batch", err)
	}

	// UPDATE ... RETURNING не сохраняет порядок подзапроса
	SortOldestFirst(events)
	return events, nil
}

func (r *PostgresStore) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (events []*entity.IntegrationEvent, err error) {
	done := r.track("reclaim_stale")
	defer func() { done(err) }()

	err = r.db.WithinTransaction(ctx, func(txCtx context.Context) error {
		rows, qErr := r.db.Query(txCtx, reclaimStale, claimedBefore, now, LeaseExpiredMessage)
		if qErr != nil {
			return qErr
		}
		events, qErr = collectEvents(rows)
		if qErr != nil {
			return qErr
		}

		for _, e := range events {
			if lErr := r.appendLog(txCtx, e.ID, now, LeaseExpiredLog(e)); lErr != nil {
				return lErr
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Errorw("reclaim stale events failed", "err", err)
		return nil, appers.NewStorageError("reclaim stale", err)
	}

	SortOldestFirst(events)
	return events, nil
}

// LeaseExpiredLog - запись журнала для попытки, снятой по истечении lease
func LeaseExpiredLog(e *entity.IntegrationEvent) *entity.IntegrationEventLog {
	level := entity.LogWarn
	if e.IsTerminal() {
		level = entity.LogError
	}
	return &entity.IntegrationEventLog{
		Level:   level,
		Message: LeaseExpiredMessage,
		Metadata: map[string]any{
			"attempt":     e.RetryCount,
			"max_retries": e.MaxRetries,
		},
	}
}

// SortOldestFirst - порядок выборки релея: created_at, затем id
func SortOldestFirst(events []*entity.IntegrationEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID.String() < events[j].ID.String()
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}
