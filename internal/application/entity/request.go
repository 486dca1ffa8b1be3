package entity

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type EmitRequest struct {
	EventType      string          `json:"event_type" validate:"required,event_type" example:"whatsapp.send.text"`
	Payload        json.RawMessage `json:"payload" validate:"required" swaggertype:"object"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" validate:"omitempty,idempotency_key" example:"msg-42"`
	Source         string          `json:"source,omitempty" validate:"omitempty,max=100" example:"chat"`
}

type EmitResult struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	// Duplicate - повторная отправка с тем же idempotency_key, новое событие не создавалось
	Duplicate bool `json:"duplicate"`
}

// EmitCommand - команда emit из kafka, tenant передается в самом сообщении
type EmitCommand struct {
	TenantID string `json:"tenant_id" validate:"required,max=100"`
	EmitRequest
}

type ListFilter struct {
	EventType string `query:"event_type"`
	Status    Status `query:"status"`
	Limit     int    `query:"limit"`
	Offset    int    `query:"offset"`
}

// Normalize приводит limit к [1, MaxListLimit] и offset к >= 0
func (f ListFilter) Normalize() ListFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type EventTypeResponse struct {
	Type        string  `json:"type"`
	Destination string  `json:"destination"`
	Source      string  `json:"source"`
	MaxRetries  int     `json:"max_retries"`
	Timeout     string  `json:"timeout"`
	Signed      bool    `json:"signed"`
	Strict      bool    `json:"strict"`
	Fields      []Field `json:"fields"`
}

type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Rules string `json:"rules,omitempty"`
}
