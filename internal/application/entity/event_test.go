package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTerminalStates(t *testing.T) {
	e := &IntegrationEvent{Status: StatusQueued, MaxRetries: 3}
	assert.False(t, e.IsTerminal())

	e.Status = StatusFailed
	e.RetryCount = 2
	assert.True(t, e.Retryable())
	assert.False(t, e.IsTerminal())
	assert.Equal(t, 3, e.Attempt())

	e.RetryCount = 3
	assert.False(t, e.Retryable())
	assert.True(t, e.IsTerminal())

	e = &IntegrationEvent{Status: StatusDelivered, MaxRetries: 3}
	assert.True(t, e.IsTerminal())
	assert.False(t, e.Retryable())
}

func TestCloneDoesNotShareState(t *testing.T) {
	msg := "boom"
	now := time.Now()
	e := &IntegrationEvent{
		ID:           uuid.Must(uuid.NewV4()),
		Payload:      json.RawMessage(`{"a":1}`),
		ErrorMessage: &msg,
		ProcessedAt:  &now,
	}

	c := e.Clone()
	c.Payload[2] = 'b'
	*c.ErrorMessage = "changed"
	*c.ProcessedAt = now.Add(time.Hour)

	assert.Equal(t, `{"a":1}`, string(e.Payload))
	assert.Equal(t, "boom", *e.ErrorMessage)
	assert.Equal(t, now, *e.ProcessedAt)
	assert.Nil(t, (*IntegrationEvent)(nil).Clone())
}

func TestListFilterNormalize(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ListFilter{}.Normalize().Limit)
	assert.Equal(t, MaxListLimit, ListFilter{Limit: 1000}.Normalize().Limit)
	assert.Equal(t, 10, ListFilter{Limit: 10}.Normalize().Limit)
	assert.Equal(t, 0, ListFilter{Offset: -5}.Normalize().Offset)
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("sent").Valid())
}
