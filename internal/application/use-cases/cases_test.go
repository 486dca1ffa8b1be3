package use_cases

import (
	"context"
	"errors"
	"testing"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/internal/application/repo/memory"
	"integrations/internal/application/schema"
	"integrations/internal/application/service"
	"integrations/internal/transport/notify"
	"integrations/pkg/config"
	"integrations/pkg/metrics"

	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyService падает на Emit с ошибкой хранилища первые failures раз
type flakyService struct {
	service.Service
	failures int
	calls    int
}

func (f *flakyService) Emit(ctx context.Context, tenantID string, req entity.EmitRequest) (*entity.EmitResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, appers.NewStorageError("insert event", errors.New("connection refused"))
	}
	cid, _ := uuid.NewV4()
	return &entity.EmitResult{CorrelationID: cid, Status: entity.StatusQueued}, nil
}

func newUseCase(t *testing.T) (*UseCase, *memory.Store) {
	t.Helper()
	reg, err := schema.New([]schema.Definition{{
		Type:        "contact.created",
		Destination: "http://n8n.local/webhook/contact",
		MaxRetries:  3,
	}})
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	store := memory.New()
	hub := notify.NewHub()
	conf := &config.Config{Relay: config.RelayConfig{Workers: 1, BatchSize: 10, Lease: time.Minute}}
	m := metrics.New(prometheus.NewRegistry())
	srv := service.NewService(store, reg, hub, hub, nil, service.Checks{}, logger, m, &conf.Relay)
	return NewUseCase(srv, logger, conf), store
}

func TestConsumerMessageStoresCommand(t *testing.T) {
	uc, _ := newUseCase(t)
	ctx := context.Background()

	msg := []byte(`{"tenant_id":"empresa-1","event_type":"contact.created","payload":{"id":1},"idempotency_key":"c-1"}`)
	res, err := uc.ConsumerMessage(ctx, msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ConsumeAccepted, res)

	// повтор того же сообщения - дубликат, не ошибка
	res, err = uc.ConsumerMessage(ctx, msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ConsumeDuplicate, res)

	events, err := uc.ListEvents(ctx, "empresa-1", entity.ListFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "contact.created", events[0].EventType)
}

func TestConsumerMessageSkipsInvalid(t *testing.T) {
	uc, _ := newUseCase(t)
	ctx := context.Background()

	for _, msg := range []string{
		`{`,
		`{"event_type":"contact.created","payload":{}}`,
		`{"tenant_id":"empresa-1","event_type":"unknown.type","payload":{}}`,
	} {
		res, err := uc.ConsumerMessage(ctx, []byte(msg), time.Now())
		assert.NoError(t, err, msg)
		assert.Equal(t, ConsumeInvalid, res, msg)
	}

	events, err := uc.ListEvents(ctx, "empresa-1", entity.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestConsumerMessageRetriesStorageErrors(t *testing.T) {
	logger := zap.NewNop().Sugar()
	msg := []byte(`{"tenant_id":"empresa-1","event_type":"contact.created","payload":{}}`)

	recovering := &flakyService{failures: 1}
	uc := NewUseCase(recovering, logger, &config.Config{})
	res, err := uc.ConsumerMessage(context.Background(), msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ConsumeAccepted, res)
	assert.Equal(t, 2, recovering.calls)

	down := &flakyService{failures: consumerStoreAttempts}
	uc = NewUseCase(down, logger, &config.Config{})
	res, err = uc.ConsumerMessage(context.Background(), msg, time.Now())
	require.Error(t, err)
	assert.Equal(t, ConsumeError, res)
	var storageErr *appers.StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.Equal(t, consumerStoreAttempts, down.calls)
}
