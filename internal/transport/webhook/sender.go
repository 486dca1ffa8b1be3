// Package webhook - исходящая доставка события во внешний обработчик (n8n и т.п.).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/pkg/httpclient"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderEventType      = "X-Event-Type"
	HeaderTenantID       = "X-Tenant-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderAttempt        = "X-Attempt"
	HeaderSignature      = "X-Signature"

	// сколько тела ответа сохраняем в журнал
	maxBodyCapture = 4 << 10
)

// Envelope - тело запроса к адресату
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	TenantID      string          `json:"tenant_id"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	Attempt       int             `json:"attempt"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

type Result struct {
	StatusCode int
	Latency    time.Duration
	Body       string
}

type Sender interface {
	Send(ctx context.Context, evt *entity.IntegrationEvent, secret string) (Result, error)
}

type HTTPSender struct {
	client httpclient.HTTPClient
	logger *zap.SugaredLogger
}

func NewSender(client httpclient.HTTPClient, logger *zap.SugaredLogger) *HTTPSender {
	return &HTTPSender{client: client, logger: logger}
}

// Send делает одну попытку доставки. Успех - только 2xx, все остальное *appers.DeliveryError.
func (s *HTTPSender) Send(ctx context.Context, evt *entity.IntegrationEvent, secret string) (Result, error) {
	body, err := json.Marshal(Envelope{
		ID:            evt.ID,
		CorrelationID: evt.CorrelationID,
		TenantID:      evt.TenantID,
		EventType:     evt.EventType,
		Source:        evt.Source,
		Attempt:       evt.Attempt(),
		OccurredAt:    evt.CreatedAt,
		Payload:       evt.Payload,
	})
	if err != nil {
		return Result{}, &appers.DeliveryError{Err: fmt.Errorf("encode envelope: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, evt.Destination, bytes.NewReader(body))
	if err != nil {
		return Result{}, &appers.DeliveryError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCorrelationID, evt.CorrelationID.String())
	req.Header.Set(HeaderEventType, evt.EventType)
	req.Header.Set(HeaderTenantID, evt.TenantID)
	req.Header.Set(HeaderIdempotencyKey, evt.ID.String())
	req.Header.Set(HeaderAttempt, strconv.Itoa(evt.Attempt()))
	if secret != "" {
		req.Header.Set(HeaderSignature, Sign(secret, body))
	}

	s.logger.Debugf("[cid %s] POST %s attempt=%d", evt.CorrelationID, evt.Destination, evt.Attempt())

	start := time.Now()
	resp, err := s.client.Do(ctx, req)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency}, &appers.DeliveryError{Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	captured, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	// дочитываем, чтобы соединение вернулось в пул
	_, _ = io.Copy(io.Discard, resp.Body)

	res := Result{StatusCode: resp.StatusCode, Latency: latency, Body: string(captured)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, &appers.DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return res, nil
}

// Sign - значение X-Signature: sha256=<hex hmac тела>
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
