package entity

import (
	"time"

	"github.com/gofrs/uuid"
)

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IntegrationEventLog - запись журнала доставки, только append
type IntegrationEventLog struct {
	ID       int64          `json:"id,string"`
	EventID  uuid.UUID      `json:"event_id"`
	Level    LogLevel       `json:"level"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
	LoggedAt time.Time      `json:"logged_at"`
}
