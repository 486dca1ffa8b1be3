package entity

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Statuses - все статусы в порядке жизненного цикла
var Statuses = []Status{StatusQueued, StatusProcessing, StatusDelivered, StatusFailed}

// IntegrationEvent - событие интеграции и его жизненный цикл доставки.
// Единственный источник истины - хранилище, объект в памяти это снимок.
type IntegrationEvent struct {
	ID             uuid.UUID       `json:"id"`
	CorrelationID  uuid.UUID       `json:"correlation_id"`
	TenantID       string          `json:"tenant_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload" swaggertype:"object"`
	Status         Status          `json:"status"`
	ErrorMessage   *string         `json:"error_message"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	Source         string          `json:"source"`
	Destination    string          `json:"destination"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	ClaimedBy      *string         `json:"-"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}

// IsTerminal: delivered, либо failed с исчерпанными попытками
func (e *IntegrationEvent) IsTerminal() bool {
	return e.Status == StatusDelivered || (e.Status == StatusFailed && e.RetryCount >= e.MaxRetries)
}

// Retryable - failed, но попытки еще остались
func (e *IntegrationEvent) Retryable() bool {
	return e.Status == StatusFailed && e.RetryCount < e.MaxRetries
}

// Attempt - номер текущей (следующей) попытки доставки, с 1
func (e *IntegrationEvent) Attempt() int {
	return e.RetryCount + 1
}

// Clone - глубокая копия, снимки не должны делить указатели с хранилищем
func (e *IntegrationEvent) Clone() *IntegrationEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	c.ErrorMessage = cloneString(e.ErrorMessage)
	c.IdempotencyKey = cloneString(e.IdempotencyKey)
	c.ClaimedBy = cloneString(e.ClaimedBy)
	c.ProcessedAt = cloneTime(e.ProcessedAt)
	c.DeliveredAt = cloneTime(e.DeliveredAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
