// Package memory - EventStore в памяти процесса с той же семантикой переходов,
// что и postgres. Для локального запуска (STORAGE_DRIVER=memory) и тестов.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/internal/application/repo"
	"integrations/pkg/id"

	"github.com/gofrs/uuid"
)

var _ repo.EventStore = (*Store)(nil)

var errDuplicateCorrelation = errors.New("correlation_id already exists")

type Store struct {
	mu            sync.Mutex
	events        map[uuid.UUID]*entity.IntegrationEvent
	byCorrelation map[uuid.UUID]uuid.UUID
	byIdempotency map[string]uuid.UUID
	logs          map[uuid.UUID][]*entity.IntegrationEventLog
}

func New() *Store {
	return &Store{
		events:        make(map[uuid.UUID]*entity.IntegrationEvent),
		byCorrelation: make(map[uuid.UUID]uuid.UUID),
		byIdempotency: make(map[string]uuid.UUID),
		logs:          make(map[uuid.UUID][]*entity.IntegrationEventLog),
	}
}

func idempotencyIndex(tenantID, key string) string {
	return tenantID + "\x00" + key
}

func (s *Store) HealthCheck(context.Context) error { return nil }

func (s *Store) CreateEvent(_ context.Context, evt *entity.IntegrationEvent) (*entity.IntegrationEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.IdempotencyKey != nil {
		if existingID, ok := s.byIdempotency[idempotencyIndex(evt.TenantID, *evt.IdempotencyKey)]; ok {
			return s.events[existingID].Clone(), false, nil
		}
	}
	if _, ok := s.byCorrelation[evt.CorrelationID]; ok {
		return nil, false, appers.NewStorageError("insert event", errDuplicateCorrelation)
	}

	stored := evt.Clone()
	stored.RetryCount = 0
	stored.UpdatedAt = stored.CreatedAt
	stored.NextAttemptAt = stored.CreatedAt

	s.events[stored.ID] = stored
	s.byCorrelation[stored.CorrelationID] = stored.ID
	if stored.IdempotencyKey != nil {
		s.byIdempotency[idempotencyIndex(stored.TenantID, *stored.IdempotencyKey)] = stored.ID
	}

	return stored.Clone(), true, nil
}

func (s *Store) GetByCorrelationID(_ context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(tenantID, correlationID)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

func (s *Store) ListEvents(_ context.Context, tenantID string, filter entity.ListFilter) ([]*entity.IntegrationEvent, error) {
	f := filter.Normalize()

	s.mu.Lock()
	matched := make([]*entity.IntegrationEvent, 0)
	for _, e := range s.events {
		if e.TenantID != tenantID {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		matched = append(matched, e.Clone())
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset >= len(matched) {
		return []*entity.IntegrationEvent{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *Store) ListLogs(_ context.Context, tenantID string, correlationID uuid.UUID) ([]*entity.IntegrationEventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(tenantID, correlationID)
	if err != nil {
		return nil, err
	}

	logs := make([]*entity.IntegrationEventLog, 0, len(s.logs[e.ID]))
	for _, l := range s.logs[e.ID] {
		c := *l
		logs = append(logs, &c)
	}
	return logs, nil
}

func (s *Store) ClaimBatch(_ context.Context, workerID string, limit int, now time.Time) ([]*entity.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := make([]*entity.IntegrationEvent, 0)
	for _, e := range s.events {
		if (e.Status == entity.StatusQueued || e.Retryable()) && !e.NextAttemptAt.After(now) {
			ready = append(ready, e)
		}
	}
	repo.SortOldestFirst(ready)
	if len(ready) > limit {
		ready = ready[:limit]
	}

	claimed := make([]*entity.IntegrationEvent, 0, len(ready))
	for _, e := range ready {
		e.Status = entity.StatusProcessing
		worker := workerID
		e.ClaimedBy = &worker
		if e.ProcessedAt == nil {
			at := now
			e.ProcessedAt = &at
		}
		e.UpdatedAt = now
		claimed = append(claimed, e.Clone())
	}
	return claimed, nil
}

func (s *Store) TouchClaim(_ context.Context, eventID uuid.UUID, workerID string, at time.Time) (*entity.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimedBy(eventID, workerID)
	if err != nil {
		return nil, err
	}
	e.UpdatedAt = at
	return e.Clone(), nil
}

func (s *Store) CompleteDelivered(_ context.Context, eventID uuid.UUID, workerID string, at time.Time, log *entity.IntegrationEventLog) (*entity.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimedBy(eventID, workerID)
	if err != nil {
		return nil, err
	}

	e.Status = entity.StatusDelivered
	delivered := at
	e.DeliveredAt = &delivered
	e.ErrorMessage = nil
	e.ClaimedBy = nil
	e.UpdatedAt = at
	s.appendLog(e.ID, at, log)

	return e.Clone(), nil
}

func (s *Store) CompleteFailed(_ context.Context, eventID uuid.UUID, workerID, errMsg string, nextAttemptAt, at time.Time, log *entity.IntegrationEventLog) (*entity.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimedBy(eventID, workerID)
	if err != nil {
		return nil, err
	}

	s.fail(e, errMsg, nextAttemptAt, at)
	s.appendLog(e.ID, at, log)

	return e.Clone(), nil
}

func (s *Store) ReclaimStale(_ context.Context, claimedBefore, now time.Time) ([]*entity.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := make([]*entity.IntegrationEvent, 0)
	for _, e := range s.events {
		if e.Status != entity.StatusProcessing || !e.UpdatedAt.Before(claimedBefore) {
			continue
		}
		s.fail(e, repo.LeaseExpiredMessage, now, now)
		s.appendLog(e.ID, now, repo.LeaseExpiredLog(e))
		reclaimed = append(reclaimed, e.Clone())
	}
	repo.SortOldestFirst(reclaimed)
	return reclaimed, nil
}

func (s *Store) Requeue(_ context.Context, tenantID string, correlationID uuid.UUID, now time.Time) (*entity.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(tenantID, correlationID)
	if err != nil {
		return nil, err
	}
	if e.Status != entity.StatusFailed || e.RetryCount < e.MaxRetries {
		return nil, appers.ErrRequeueNotAllowed
	}

	e.Status = entity.StatusQueued
	e.RetryCount = 0
	e.ErrorMessage = nil
	e.NextAttemptAt = now
	e.UpdatedAt = now
	s.appendLog(e.ID, now, &entity.IntegrationEventLog{
		Level:    entity.LogInfo,
		Message:  "requeued by operator",
		Metadata: map[string]any{"previous_status": string(entity.StatusFailed)},
	})

	return e.Clone(), nil
}

func (s *Store) CountByStatus(context.Context) (map[entity.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[entity.Status]int, len(entity.Statuses))
	for _, st := range entity.Statuses {
		counts[st] = 0
	}
	for _, e := range s.events {
		counts[e.Status]++
	}
	return counts, nil
}

func (s *Store) lookup(tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error) {
	eventID, ok := s.byCorrelation[correlationID]
	if !ok {
		return nil, appers.ErrEventNotFound
	}
	e := s.events[eventID]
	if e.TenantID != tenantID {
		return nil, appers.ErrEventNotFound
	}
	return e, nil
}

func (s *Store) claimedBy(eventID uuid.UUID, workerID string) (*entity.IntegrationEvent, error) {
	e, ok := s.events[eventID]
	if !ok || e.Status != entity.StatusProcessing || e.ClaimedBy == nil || *e.ClaimedBy != workerID {
		return nil, appers.ErrStatusConflict
	}
	return e, nil
}

func (s *Store) fail(e *entity.IntegrationEvent, errMsg string, nextAttemptAt, at time.Time) {
	e.Status = entity.StatusFailed
	if e.RetryCount < e.MaxRetries {
		e.RetryCount++
	}
	msg := errMsg
	e.ErrorMessage = &msg
	e.NextAttemptAt = nextAttemptAt
	e.ClaimedBy = nil
	e.UpdatedAt = at
}

func (s *Store) appendLog(eventID uuid.UUID, at time.Time, log *entity.IntegrationEventLog) {
	if log == nil {
		return
	}
	l := *log
	if l.ID == 0 {
		l.ID = id.New()
	}
	l.EventID = eventID
	if l.LoggedAt.IsZero() {
		l.LoggedAt = at
	}
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	s.logs[eventID] = append(s.logs[eventID], &l)
}
