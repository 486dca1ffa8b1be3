package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/internal/application/repo/memory"
	"integrations/internal/application/schema"
	"integrations/internal/application/service"
	use_cases "integrations/internal/application/use-cases"
	"integrations/internal/transport/notify"
	"integrations/internal/transport/webhook"
	"integrations/pkg/config"
	"integrations/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tenant = "empresa-1"

type stubSender struct {
	code  atomic.Int32
	calls atomic.Int32
}

func (s *stubSender) Send(_ context.Context, _ *entity.IntegrationEvent, _ string) (webhook.Result, error) {
	s.calls.Add(1)
	code := int(s.code.Load())
	res := webhook.Result{StatusCode: code, Latency: time.Millisecond}
	if code < 200 || code > 299 {
		return res, &appers.DeliveryError{StatusCode: code, Err: fmt.Errorf("unexpected status %d", code)}
	}
	return res, nil
}

func newTestApp(t *testing.T, rl config.RateLimit) (*fiber.App, *stubSender) {
	t.Helper()

	reg, err := schema.New([]schema.Definition{
		{
			Type:        "whatsapp.send.text",
			Destination: "http://n8n.local/webhook/send",
			Source:      "chat",
			MaxRetries:  1,
			Strict:      true,
			Fields: []schema.Field{
				{Name: "instanceName", Type: schema.FieldString, Rules: "required"},
				{Name: "telefone", Type: schema.FieldString, Rules: "required,numeric,min=10,max=15"},
				{Name: "mensagem", Type: schema.FieldString, Rules: "required"},
			},
		},
	})
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	m := metrics.New(prometheus.NewRegistry())
	conf := &config.Config{
		Relay: config.RelayConfig{
			Workers:   2,
			BatchSize: 10,
			Lease:     time.Minute,
			WorkerID:  "test",
		},
		RateLimit: rl,
	}

	sender := &stubSender{}
	sender.code.Store(http.StatusOK)

	store := memory.New()
	hub := notify.NewHub()
	relay := service.NewRelay(store, reg, sender, hub, logger, m, &conf.Relay)
	srv := service.NewService(store, reg, hub, hub, relay, service.Checks{}, logger, m, &conf.Relay)
	uc := use_cases.NewUseCase(srv, logger, conf)

	app := fiber.New()
	NewRouter(NewEventHandler(uc, logger), app, conf, m, logger).RegisterRouter()
	return app, sender
}

func do(t *testing.T, app *fiber.App, method, path, tenantID string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if tenantID != "" {
		req.Header.Set(DefaultTenantHeader, tenantID)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func validRequest(key string) map[string]any {
	req := map[string]any{
		"event_type": "whatsapp.send.text",
		"payload": map[string]any{
			"instanceName": "main",
			"telefone":     "5511999998888",
			"mensagem":     "Olá",
		},
	}
	if key != "" {
		req["idempotency_key"] = key
	}
	return req
}

func emit(t *testing.T, app *fiber.App, key string) entity.EmitResult {
	t.Helper()
	status, body := do(t, app, http.MethodPost, "/events", tenant, validRequest(key))
	require.Equal(t, http.StatusAccepted, status, string(body))

	var res entity.EmitResult
	require.NoError(t, json.Unmarshal(body, &res))
	return res
}

func TestEmitEvent(t *testing.T) {
	app, _ := newTestApp(t, config.RateLimit{})

	t.Run("tenant required", func(t *testing.T) {
		status, _ := do(t, app, http.MethodPost, "/events", "", validRequest(""))
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("accepted then duplicate", func(t *testing.T) {
		first := emit(t, app, "msg-1")
		assert.Equal(t, entity.StatusQueued, first.Status)
		assert.False(t, first.Duplicate)

		status, body := do(t, app, http.MethodPost, "/events", tenant, validRequest("msg-1"))
		require.Equal(t, http.StatusOK, status)

		var dup entity.EmitResult
		require.NoError(t, json.Unmarshal(body, &dup))
		assert.True(t, dup.Duplicate)
		assert.Equal(t, first.CorrelationID, dup.CorrelationID)
	})

	t.Run("invalid payload", func(t *testing.T) {
		req := validRequest("")
		req["payload"] = map[string]any{"instanceName": "main", "telefone": "abc"}

		status, body := do(t, app, http.MethodPost, "/events", tenant, req)
		require.Equal(t, http.StatusUnprocessableEntity, status)

		var resp struct {
			Message string   `json:"message"`
			Details []string `json:"details"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.NotEmpty(t, resp.Details)
	})

	t.Run("unknown event type", func(t *testing.T) {
		req := validRequest("")
		req["event_type"] = "nope.nope"

		status, _ := do(t, app, http.MethodPost, "/events", tenant, req)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString("{"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(DefaultTenantHeader, tenant)

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetEvent(t *testing.T) {
	app, _ := newTestApp(t, config.RateLimit{})
	res := emit(t, app, "")

	status, body := do(t, app, http.MethodGet, "/events/"+res.CorrelationID.String(), tenant, nil)
	require.Equal(t, http.StatusOK, status)

	var evt entity.IntegrationEvent
	require.NoError(t, json.Unmarshal(body, &evt))
	assert.Equal(t, res.CorrelationID, evt.CorrelationID)
	assert.Equal(t, "chat", evt.Source)

	status, _ = do(t, app, http.MethodGet, "/events/"+res.CorrelationID.String(), "empresa-2", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodGet, "/events/not-a-uuid", tenant, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRelayRunAndLogs(t *testing.T) {
	app, sender := newTestApp(t, config.RateLimit{})
	res := emit(t, app, "")
	path := "/events/" + res.CorrelationID.String()

	status, body := do(t, app, http.MethodPost, "/relay/run", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"processed":1}`, string(body))
	assert.EqualValues(t, 1, sender.calls.Load())

	status, body = do(t, app, http.MethodGet, path, tenant, nil)
	require.Equal(t, http.StatusOK, status)
	var evt entity.IntegrationEvent
	require.NoError(t, json.Unmarshal(body, &evt))
	assert.Equal(t, entity.StatusDelivered, evt.Status)
	assert.NotNil(t, evt.DeliveredAt)

	status, body = do(t, app, http.MethodGet, path+"/logs", tenant, nil)
	require.Equal(t, http.StatusOK, status)
	var logs []entity.IntegrationEventLog
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, entity.LogInfo, logs[0].Level)

	// доставленное событие повторно не ставится
	status, _ = do(t, app, http.MethodPost, path+"/requeue", tenant, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestRequeueExhausted(t *testing.T) {
	app, sender := newTestApp(t, config.RateLimit{})
	sender.code.Store(http.StatusInternalServerError)
	res := emit(t, app, "")
	path := "/events/" + res.CorrelationID.String()

	status, _ := do(t, app, http.MethodPost, "/relay/run", "", nil)
	require.Equal(t, http.StatusOK, status)

	_, body := do(t, app, http.MethodGet, path, tenant, nil)
	var evt entity.IntegrationEvent
	require.NoError(t, json.Unmarshal(body, &evt))
	require.Equal(t, entity.StatusFailed, evt.Status)
	require.Equal(t, 1, evt.RetryCount)

	status, body = do(t, app, http.MethodPost, path+"/requeue", tenant, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &evt))
	assert.Equal(t, entity.StatusQueued, evt.Status)
	assert.Zero(t, evt.RetryCount)
}

func TestListEvents(t *testing.T) {
	app, _ := newTestApp(t, config.RateLimit{})
	for i := 0; i < 3; i++ {
		emit(t, app, fmt.Sprintf("k-%d", i))
	}

	status, body := do(t, app, http.MethodGet, "/events?limit=2", tenant, nil)
	require.Equal(t, http.StatusOK, status)
	var events []entity.IntegrationEvent
	require.NoError(t, json.Unmarshal(body, &events))
	assert.Len(t, events, 2)

	status, body = do(t, app, http.MethodGet, "/events?status=queued", "empresa-2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))

	status, _ = do(t, app, http.MethodGet, "/events?status=bogus", tenant, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestEventTypesAndHealth(t *testing.T) {
	app, _ := newTestApp(t, config.RateLimit{})

	status, body := do(t, app, http.MethodGet, "/event-types", "", nil)
	require.Equal(t, http.StatusOK, status)
	var types []entity.EventTypeResponse
	require.NoError(t, json.Unmarshal(body, &types))
	require.Len(t, types, 1)
	assert.Equal(t, "whatsapp.send.text", types[0].Type)
	assert.Len(t, types[0].Fields, 3)

	status, body = do(t, app, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	var health entity.HealthCheckResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.True(t, health.Status)
	assert.Nil(t, health.Checks.Kafka)
}

func TestRateLimitPerTenant(t *testing.T) {
	app, _ := newTestApp(t, config.RateLimit{RPS: 0.001, Burst: 1})

	emit(t, app, "")

	status, _ := do(t, app, http.MethodPost, "/events", tenant, validRequest(""))
	assert.Equal(t, http.StatusTooManyRequests, status)

	// у другого tenant свой лимит
	status, _ = do(t, app, http.MethodPost, "/events", "empresa-2", validRequest(""))
	assert.Equal(t, http.StatusAccepted, status)
}
