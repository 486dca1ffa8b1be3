package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/pkg/db"
	"integrations/pkg/id"
	"integrations/pkg/metrics"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// EventStore - единственное разделяемое изменяемое состояние конвейера.
// Все переходы статусов - условные апдейты (compare-and-set по текущему статусу и claimed_by),
// строка журнала пишется в той же транзакции, что и переход.
type EventStore interface {
	// CreateEvent вставляет событие; при коллизии (tenant_id, idempotency_key) возвращает
	// существующее и inserted=false
	CreateEvent(ctx context.Context, evt *entity.IntegrationEvent) (stored *entity.IntegrationEvent, inserted bool, err error)
	GetByCorrelationID(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error)
	ListEvents(ctx context.Context, tenantID string, filter entity.ListFilter) ([]*entity.IntegrationEvent, error)
	ListLogs(ctx context.Context, tenantID string, correlationID uuid.UUID) ([]*entity.IntegrationEventLog, error)

	// ClaimBatch переводит до limit готовых к доставке событий в processing под workerID,
	// старые первыми
	ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) ([]*entity.IntegrationEvent, error)
	// TouchClaim подтверждает, что событие все еще за workerID, и отсчитывает lease заново.
	// ErrStatusConflict - захват потерян, отправлять нельзя.
	TouchClaim(ctx context.Context, eventID uuid.UUID, workerID string, at time.Time) (*entity.IntegrationEvent, error)
	CompleteDelivered(ctx context.Context, eventID uuid.UUID, workerID string, at time.Time, log *entity.IntegrationEventLog) (*entity.IntegrationEvent, error)
	CompleteFailed(ctx context.Context, eventID uuid.UUID, workerID, errMsg string, nextAttemptAt, at time.Time, log *entity.IntegrationEventLog) (*entity.IntegrationEvent, error)
	// ReclaimStale засчитывает неудачную попытку событиям, зависшим в processing дольше lease
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time) ([]*entity.IntegrationEvent, error)
	// Requeue - ручной перезапуск терминально упавшего события
	Requeue(ctx context.Context, tenantID string, correlationID uuid.UUID, now time.Time) (*entity.IntegrationEvent, error)

	CountByStatus(ctx context.Context) (map[entity.Status]int, error)
	HealthCheck(ctx context.Context) error
}

// LeaseExpiredMessage - error_message для событий, снятых с зависшего воркера
const LeaseExpiredMessage = "delivery lease expired"

type PostgresStore struct {
	db     db.DB
	logger *zap.SugaredLogger
	m      *metrics.Metrics
}

func NewPostgresStore(db db.DB, logger *zap.SugaredLogger, m *metrics.Metrics) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, m: m}
}

func (r *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := r.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (r *PostgresStore) CreateEvent(ctx context.Context, evt *entity.IntegrationEvent) (stored *entity.IntegrationEvent, inserted bool, err error) {
	done := r.track("create_event")
	defer func() { done(err) }()

	r.logger.Debugf("[cid %s] start inserting into DB", evt.CorrelationID)

	stored, err = scanEvent(r.db.QueryRow(ctx, insertEvent,
		evt.ID, evt.CorrelationID, evt.TenantID, evt.EventType, []byte(evt.Payload), string(evt.Status),
		evt.MaxRetries, evt.Source, evt.Destination, evt.IdempotencyKey, evt.CreatedAt))

	switch {
	case err == nil:
		r.logger.Debugf("[cid %s] inserted into DB successfully", evt.CorrelationID)
		return stored, true, nil
	case errors.Is(err, pgx.ErrNoRows) && evt.IdempotencyKey != nil:
		// ON CONFLICT DO NOTHING вернул 0 строк - событие с таким ключом уже есть
		existing, getErr := scanEvent(r.db.QueryRow(ctx, getByIdempotencyKey, evt.TenantID, *evt.IdempotencyKey))
		if getErr != nil {
			r.logger.Errorf("[tenant %s] idempotent lookup failed: %v", evt.TenantID, getErr)
			return nil, false, appers.NewStorageError("get by idempotency key", getErr)
		}
		r.logger.Infof("[cid %s] idempotent hit: event already exists", existing.CorrelationID)
		return existing, false, nil
	default:
		r.logger.Errorf("[cid %s] error inserting into DB: %v", evt.CorrelationID, err)
		return nil, false, appers.NewStorageError("insert event", err)
	}
}

func (r *PostgresStore) GetByCorrelationID(ctx context.Context, tenantID string, correlationID uuid.UUID) (evt *entity.IntegrationEvent, err error) {
	done := r.track("get_event")
	defer func() { done(err) }()

	evt, err = scanEvent(r.db.QueryRow(ctx, getByCorrelationID, tenantID, correlationID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, appers.ErrEventNotFound
	case err != nil:
		return nil, appers.NewStorageError("get event", err)
	}
	return evt, nil
}

func (r *PostgresStore) ListEvents(ctx context.Context, tenantID string, filter entity.ListFilter) (events []*entity.IntegrationEvent, err error) {
	done := r.track("list_events")
	defer func() { done(err) }()

	f := filter.Normalize()
	r.logger.Debugf("[tenant %s] list events %+v", tenantID, f)

	rows, err := r.db.Query(ctx, listEvents, tenantID, f.EventType, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, appers.NewStorageError("list events", err)
	}
	events, err = collectEvents(rows)
	if err != nil {
		return nil, appers.NewStorageError("list events", err)
	}
	return events, nil
}

func (r *PostgresStore) ListLogs(ctx context.Context, tenantID string, correlationID uuid.UUID) (logs []*entity.IntegrationEventLog, err error) {
	evt, err := r.GetByCorrelationID(ctx, tenantID, correlationID)
	if err != nil {
		return nil, err
	}

	done := r.track("list_logs")
	defer func() { done(err) }()

	rows, err := r.db.Query(ctx, listLogs, evt.ID)
	if err != nil {
		return nil, appers.NewStorageError("list logs", err)
	}
	defer rows.Close()

	logs = make([]*entity.IntegrationEventLog, 0)
	for rows.Next() {
		var (
			l     entity.IntegrationEventLog
			level string
			meta  []byte
		)
		if err = rows.Scan(&l.ID, &l.EventID, &level, &l.Message, &meta, &l.LoggedAt); err != nil {
			return nil, appers.NewStorageError("scan log", err)
		}
		l.Level = entity.LogLevel(level)
		if len(meta) > 0 {
			if err = json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, appers.NewStorageError("decode log metadata", err)
			}
		}
		logs = append(logs, &l)
	}
	if err = rows.Err(); err != nil {
		return nil, appers.NewStorageError("list logs", err)
	}
	return logs, nil
}

func (r *PostgresStore) CountByStatus(ctx context.Context) (counts map[entity.Status]int, err error) {
	done := r.track("count_by_status")
	defer func() { done(err) }()

	rows, err := r.db.Query(ctx, countByStatus)
	if err != nil {
		return nil, appers.NewStorageError("count by status", err)
	}
	defer rows.Close()

	counts = make(map[entity.Status]int, len(entity.Statuses))
	for _, s := range entity.Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err = rows.Scan(&status, &n); err != nil {
			return nil, appers.NewStorageError("count by status", err)
		}
		counts[entity.Status(status)] = n
	}
	if err = rows.Err(); err != nil {
		return nil, appers.NewStorageError("count by status", err)
	}
	return counts, nil
}

func (r *PostgresStore) insertLog(ctx context.Context, l *entity.IntegrationEventLog) error {
	if l.ID == 0 {
		l.ID = id.New()
	}
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("encode log metadata: %w", err)
	}

	_, err = r.db.Exec(ctx, insertLog, l.ID, l.EventID, string(l.Level), l.Message, meta, l.LoggedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// track пишет метрики запроса к БД, вызывать как defer done(err)
func (r *PostgresStore) track(op string) func(error) {
	if r.m == nil {
		return func(error) {}
	}
	start := time.Now()
	r.m.Repo.InFlight.WithLabelValues(op).Inc()

	return func(err error) {
		r.m.Repo.InFlight.WithLabelValues(op).Dec()
		result, kind := "ok", ""
		switch {
		case err == nil:
		case errors.Is(err, appers.ErrEventNotFound), errors.Is(err, appers.ErrStatusConflict),
			errors.Is(err, appers.ErrRequeueNotAllowed):
			result, kind = "miss", "not_matched"
		default:
			result, kind = "error", errorKind(err)
		}
		r.m.Repo.RequestsTotal.WithLabelValues(op, result, kind).Inc()
		r.m.Repo.DurationSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}
}

func errorKind(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		return "pg_" + pgErr.Code
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "context"
	default:
		return "other"
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*entity.IntegrationEvent, error) {
	var (
		e      entity.IntegrationEvent
		status string
	)
	err := row.Scan(
		&e.ID, &e.CorrelationID, &e.TenantID, &e.EventType, &e.Payload, &status, &e.ErrorMessage,
		&e.RetryCount, &e.MaxRetries, &e.Source, &e.Destination, &e.IdempotencyKey, &e.ClaimedBy,
		&e.NextAttemptAt, &e.CreatedAt, &e.UpdatedAt, &e.ProcessedAt, &e.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = entity.Status(status)
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]*entity.IntegrationEvent, error) {
	defer rows.Close()

	events := make([]*entity.IntegrationEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
