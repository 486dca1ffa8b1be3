package repo

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/pkg/config"
	"integrations/pkg/db"
	"integrations/pkg/metrics"

	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Интеграционный тест: нужен живой postgres в TEST_POSTGRES_DSN
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	pg, err := db.NewPostgres(context.Background(), config.Postgres{
		ConnString:    dsn,
		MigrationsDir: "../../../resources/migrations",
	})
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	return NewPostgresStore(pg, zap.NewNop().Sugar(), metrics.New(prometheus.NewRegistry()))
}

func pgEvent(tenant string, at time.Time, maxRetries int) *entity.IntegrationEvent {
	return &entity.IntegrationEvent{
		ID:            uuid.Must(uuid.NewV4()),
		CorrelationID: uuid.Must(uuid.NewV4()),
		TenantID:      tenant,
		EventType:     "contact.created",
		Payload:       json.RawMessage(`{"id":1}`),
		Status:        entity.StatusQueued,
		MaxRetries:    maxRetries,
		Source:        "crm",
		Destination:   "http://n8n.local/hook",
		NextAttemptAt: at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestPostgresLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "pg-" + uuid.Must(uuid.NewV4()).String()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := "k-1"

	evt := pgEvent(tenant, now, 1)
	evt.IdempotencyKey = &key
	stored, inserted, err := s.CreateEvent(ctx, evt)
	require.NoError(t, err)
	require.True(t, inserted)

	dup := pgEvent(tenant, now, 1)
	dup.IdempotencyKey = &key
	again, inserted, err := s.CreateEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, stored.CorrelationID, again.CorrelationID)

	_, err = s.GetByCorrelationID(ctx, "other-tenant", stored.CorrelationID)
	assert.ErrorIs(t, err, appers.ErrEventNotFound)

	claimed, err := s.ClaimBatch(ctx, "w1#1", 100, now.Add(time.Second))
	require.NoError(t, err)
	var mine *entity.IntegrationEvent
	for _, e := range claimed {
		if e.ID == stored.ID {
			mine = e
		}
	}
	require.NotNil(t, mine)
	assert.Equal(t, entity.StatusProcessing, mine.Status)

	_, err = s.CompleteDelivered(ctx, stored.ID, "w2#1", now, &entity.IntegrationEventLog{Level: entity.LogInfo, Message: "delivered"})
	assert.ErrorIs(t, err, appers.ErrStatusConflict)

	touched, err := s.TouchClaim(ctx, stored.ID, "w1#1", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, touched.UpdatedAt.Equal(now.Add(2*time.Second)))
	_, err = s.TouchClaim(ctx, stored.ID, "w2#1", now)
	assert.ErrorIs(t, err, appers.ErrStatusConflict)

	failed, err := s.CompleteFailed(ctx, stored.ID, "w1#1", "status 500", now.Add(time.Minute), now,
		&entity.IntegrationEventLog{Level: entity.LogError, Message: "retries exhausted"})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, failed.Status)
	assert.True(t, failed.IsTerminal())

	requeued, err := s.Requeue(ctx, tenant, stored.CorrelationID, now)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, requeued.Status)
	assert.Zero(t, requeued.RetryCount)

	logs, err := s.ListLogs(ctx, tenant, stored.CorrelationID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, entity.LogError, logs[0].Level)
	assert.Equal(t, entity.LogInfo, logs[1].Level)
}
