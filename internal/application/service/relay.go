package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/internal/application/repo"
	"integrations/internal/application/schema"
	"integrations/internal/transport/notify"
	"integrations/internal/transport/webhook"
	"integrations/pkg/config"
	"integrations/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	msgDelivered        = "delivered"
	msgAttemptFailed    = "delivery attempt failed"
	msgRetriesExhausted = "retries exhausted"
)

// Relay забирает готовые события из хранилища и доставляет их адресатам.
// Параллельные релеи (в том числе в других процессах) безопасны: захват атомарный,
// а завершение попытки - условный апдейт по claimed_by.
type Relay struct {
	store    repo.EventStore
	registry *schema.Registry
	sender   webhook.Sender
	pub      notify.Publisher
	logger   *zap.SugaredLogger
	m        *metrics.Metrics
	cfg      *config.RelayConfig
	tracer   trace.Tracer
	now      func() time.Time

	pass   atomic.Uint64
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRelay(store repo.EventStore, registry *schema.Registry, sender webhook.Sender, pub notify.Publisher,
	logger *zap.SugaredLogger, m *metrics.Metrics, cfg *config.RelayConfig) *Relay {
	return &Relay{
		store:    store,
		registry: registry,
		sender:   sender,
		pub:      pub,
		logger:   logger,
		m:        m,
		cfg:      cfg,
		tracer:   otel.Tracer("integrations/relay"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start запускает цикл опроса в фоне; повторный вызов без Stop ничего не делает
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()
}

// Stop останавливает цикл и ждет завершения начатых попыток
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Relay) loop(ctx context.Context) {
	r.logger.Infow("relay started", "workers", r.cfg.Workers, "batch", r.cfg.BatchSize,
		"lease", r.cfg.Lease.String(), "poll", r.cfg.PollPeriod.String())
	if r.m != nil {
		r.m.Go.InternalGoroutines.WithLabelValues("relay").Inc()
		defer r.m.Go.InternalGoroutines.WithLabelValues("relay").Dec()
	}

	ticker := time.NewTicker(r.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("relay stopping")
			return
		case <-ticker.C:
			// полный батч - скорее всего есть еще, не ждем следующего тика
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					r.logger.Errorw("relay pass failed", "err", err)
					break
				}
				if n < r.cfg.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RunOnce - один проход: захват батча и доставка. Возвращает число захваченных событий.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	token := fmt.Sprintf("%s#%d", r.cfg.WorkerID, r.pass.Add(1))

	events, err := r.store.ClaimBatch(ctx, token, r.cfg.BatchSize, r.now())
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	r.logger.Debugf("[claim %s] claimed %d events", token, len(events))
	if r.m != nil {
		r.m.Relay.ClaimedTotal.Add(float64(len(events)))
	}
	for _, e := range events {
		r.publish(ctx, e)
	}

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(events) {
		workers = len(events)
	}

	jobs := make(chan *entity.IntegrationEvent)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for e := range jobs {
				r.deliver(ctx, id, token, e)
			}
		}(i)
	}

feed:
	for _, e := range events {
		select {
		case jobs <- e:
		case <-ctx.Done():
			// недоставленные останутся в processing и вернутся в очередь по lease
			r.logger.Warnf("[claim %s] relay stopped, %s left for reclaim", token, e.CorrelationID)
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return len(events), nil
}

func (r *Relay) deliver(ctx context.Context, wid int, token string, e *entity.IntegrationEvent) {
	ctx, span := r.tracer.Start(ctx, "relay.deliver", trace.WithAttributes(
		attribute.String("integration.correlation_id", e.CorrelationID.String()),
		attribute.String("integration.event_type", e.EventType),
		attribute.String("integration.tenant_id", e.TenantID),
		attribute.Int("integration.attempt", e.Attempt()),
	))
	defer span.End()

	r.logger.Debugf("[cid %s] relay-process started, workerID: %d, attempt %d", e.CorrelationID, wid, e.Attempt())

	// пока событие ждало воркера, lease мог истечь: без подтвержденного захвата не отправляем
	claimed, touchErr := r.store.TouchClaim(context.WithoutCancel(ctx), e.ID, token, r.now())
	if touchErr != nil {
		result := "claim_lost"
		if errors.Is(touchErr, appers.ErrStatusConflict) {
			r.logger.Warnf("[cid %s] attempt %d skipped: claim lost before send", e.CorrelationID, e.Attempt())
		} else {
			result = "store_error"
			r.logger.Errorf("[cid %s] touch claim failed, left for reclaim: %v", e.CorrelationID, touchErr)
		}
		span.SetStatus(codes.Error, touchErr.Error())
		if r.m != nil {
			r.m.Relay.AttemptsTotal.WithLabelValues(e.EventType, result).Inc()
		}
		return
	}
	e = claimed

	def, known := r.registry.Lookup(e.EventType)

	start := time.Now()
	var (
		res     webhook.Result
		sendErr error
	)
	if known {
		// начатая попытка доживает до своего таймаута и при остановке релея
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), def.Timeout)
		res, sendErr = r.sender.Send(callCtx, e, def.Secret)
		cancel()
	} else {
		sendErr = fmt.Errorf("event type %q is not registered", e.EventType)
	}
	elapsed := time.Since(start)

	storeCtx := context.WithoutCancel(ctx)
	at := r.now()

	var (
		updated *entity.IntegrationEvent
		err     error
		result  string
	)
	if sendErr == nil {
		result = "delivered"
		span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
		updated, err = r.store.CompleteDelivered(storeCtx, e.ID, token, at, &entity.IntegrationEventLog{
			Level:   entity.LogInfo,
			Message: msgDelivered,
			Metadata: map[string]any{
				"attempt":     e.Attempt(),
				"status_code": res.StatusCode,
				"latency_ms":  elapsed.Milliseconds(),
			},
		})
	} else {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, sendErr.Error())

		backoff := schema.DefaultBackoff
		if known {
			backoff = def.Backoff
		}
		retryCount := e.RetryCount + 1
		exhausted := retryCount >= e.MaxRetries
		next := at.Add(backoff.Next(retryCount))

		log := &entity.IntegrationEventLog{
			Level:    entity.LogWarn,
			Message:  msgAttemptFailed,
			Metadata: failureMetadata(e, res, sendErr, elapsed),
		}
		result = "failed"
		if exhausted {
			result = "exhausted"
			log.Level = entity.LogError
			log.Message = msgRetriesExhausted
			sendErr = fmt.Errorf("%w: %v", appers.ErrRetriesExhausted, sendErr)
		} else {
			log.Metadata["next_attempt_at"] = next
		}

		updated, err = r.store.CompleteFailed(storeCtx, e.ID, token, sendErr.Error(), next, at, log)
	}

	switch {
	case errors.Is(err, appers.ErrStatusConflict):
		// событие уже забрал reclaimer/другой воркер, наш результат устарел
		result = "conflict"
		r.logger.Warnf("[cid %s] attempt %d outcome dropped: claim lost", e.CorrelationID, e.Attempt())
	case err != nil:
		result = "store_error"
		r.logger.Errorf("[cid %s] record attempt %d failed: %v", e.CorrelationID, e.Attempt(), err)
	case sendErr == nil:
		r.logger.Infof("[cid %s] delivered, status %d in %s", e.CorrelationID, res.StatusCode, elapsed)
	default:
		r.logger.Warnf("[cid %s] attempt %d/%d failed: %v", e.CorrelationID, updated.RetryCount, updated.MaxRetries, sendErr)
	}

	if r.m != nil {
		r.m.Relay.AttemptsTotal.WithLabelValues(e.EventType, result).Inc()
		r.m.Relay.AttemptDurationSeconds.WithLabelValues(e.EventType, result).Observe(elapsed.Seconds())
	}

	if err == nil {
		r.publish(storeCtx, updated)
	}
}

func failureMetadata(e *entity.IntegrationEvent, res webhook.Result, err error, elapsed time.Duration) map[string]any {
	meta := map[string]any{
		"attempt":    e.Attempt(),
		"error":      err.Error(),
		"latency_ms": elapsed.Milliseconds(),
	}

	var de *appers.DeliveryError
	if errors.As(err, &de) {
		if de.StatusCode != 0 {
			meta["status_code"] = de.StatusCode
		}
		if de.Timeout {
			meta["timeout"] = true
		}
	}
	if res.Body != "" {
		meta["response"] = res.Body
	}
	return meta
}

func (r *Relay) publish(ctx context.Context, evt *entity.IntegrationEvent) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(ctx, evt); err != nil {
		r.logger.Warnf("[cid %s] publish status %s failed: %v", evt.CorrelationID, evt.Status, err)
	}
}
