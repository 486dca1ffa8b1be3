package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
)

// Переходы, которые меняют событие и пишут журнал, идут одной транзакцией:
// статус в API никогда не расходится с журналом.

func (r *PostgresStore) TouchClaim(ctx context.Context, eventID uuid.UUID, workerID string, at time.Time) (evt *entity.IntegrationEvent, err error) {
	done := r.track("touch_claim")
	defer func() { done(err) }()

	evt, err = r.transition(ctx, touchClaim, eventID, workerID, at)
	if err != nil {
		return nil, r.wrapTransitionErr(eventID, "touch claim", err)
	}
	return evt, nil
}

func (r *PostgresStore) CompleteDelivered(ctx context.Context, eventID uuid.UUID, workerID string, at time.Time, log *entity.IntegrationEventLog) (evt *entity.IntegrationEvent, err error) {
	done := r.track("complete_delivered")
	defer func() { done(err) }()

	err = r.db.WithinTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		evt, txErr = r.transition(ctx, markDelivered, eventID, workerID, at)
		if txErr != nil {
			return txErr
		}
		return r.appendLog(ctx, evt.ID, at, log)
	})
	if err != nil {
		return nil, r.wrapTransitionErr(eventID, "complete delivered", err)
	}

	r.logger.Debugf("[cid %s] marked delivered", evt.CorrelationID)
	return evt, nil
}

func (r *PostgresStore) CompleteFailed(ctx context.Context, eventID uuid.UUID, workerID, errMsg string, nextAttemptAt, at time.Time, log *entity.IntegrationEventLog) (evt *entity.IntegrationEvent, err error) {
	done := r.track("complete_failed")
	defer func() { done(err) }()

	err = r.db.WithinTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		evt, txErr = r.transition(ctx, markFailed, eventID, workerID, errMsg, nextAttemptAt, at)
		if txErr != nil {
			return txErr
		}
		return r.appendLog(ctx, evt.ID, at, log)
	})
	if err != nil {
		return nil, r.wrapTransitionErr(eventID, "complete failed", err)
	}

	r.logger.Debugf("[cid %s] marked failed, retry %d/%d", evt.CorrelationID, evt.RetryCount, evt.MaxRetries)
	return evt, nil
}

func (r *PostgresStore) Requeue(ctx context.Context, tenantID string, correlationID uuid.UUID, now time.Time) (evt *entity.IntegrationEvent, err error) {
	done := r.track("requeue")
	defer func() { done(err) }()

	err = r.db.WithinTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		evt, txErr = scanEvent(r.db.QueryRow(ctx, requeueEvent, tenantID, correlationID, now))
		if errors.Is(txErr, pgx.ErrNoRows) {
			current, getErr := scanEvent(r.db.QueryRow(ctx, getByCorrelationID, tenantID, correlationID))
			switch {
			case errors.Is(getErr, pgx.ErrNoRows):
				return appers.ErrEventNotFound
			case getErr != nil:
				return getErr
			}
			r.logger.Warnf("[cid %s] requeue rejected, status %s retry %d/%d",
				correlationID, current.Status, current.RetryCount, current.MaxRetries)
			return appers.ErrRequeueNotAllowed
		}
		if txErr != nil {
			return txErr
		}

		return r.appendLog(ctx, evt.ID, now, &entity.IntegrationEventLog{
			Level:    entity.LogInfo,
			Message:  "requeued by operator",
			Metadata: map[string]any{"previous_status": string(entity.StatusFailed)},
		})
	})
	if err != nil {
		if errors.Is(err, appers.ErrEventNotFound) || errors.Is(err, appers.ErrRequeueNotAllowed) {
			return nil, err
		}
		r.logger.Errorf("[cid %s] requeue failed: %v", correlationID, err)
		return nil, appers.NewStorageError("requeue", err)
	}

	r.logger.Infof("[cid %s] requeued", correlationID)
	return evt, nil
}

// transition выполняет условный апдейт; 0 строк - событие уже не наше
func (r *PostgresStore) transition(ctx context.Context, query string, eventID uuid.UUID, workerID string, args ...any) (*entity.IntegrationEvent, error) {
	all := append([]any{eventID, workerID}, args...)
	evt, err := scanEvent(r.db.QueryRow(ctx, query, all...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, appers.ErrStatusConflict
	}
	return evt, err
}

func (r *PostgresStore) appendLog(ctx context.Context, eventID uuid.UUID, at time.Time, log *entity.IntegrationEventLog) error {
	if log == nil {
		return nil
	}
	log.EventID = eventID
	if log.LoggedAt.IsZero() {
		log.LoggedAt = at
	}
	return r.insertLog(ctx, log)
}

func (r *PostgresStore) wrapTransitionErr(eventID uuid.UUID, op string, err error) error {
	if errors.Is(err, appers.ErrStatusConflict) {
		r.logger.Warnf("[event %s] %s: status changed concurrently", eventID, op)
		return err
	}
	r.logger.Errorf("[event %s] %s: %v", eventID, op, err)
	return appers.NewStorageError(op, fmt.Errorf("event %s: %w", eventID, err))
}
