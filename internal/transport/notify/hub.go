// Package notify - уведомления о смене статуса события, ключ - correlation_id.
// Публикуются только закоммиченные состояния, источник истины остается хранилище.
package notify

import (
	"context"
	"errors"
	"sync"

	"integrations/internal/application/entity"

	"github.com/gofrs/uuid"
)

// размер буфера подписчика; при переполнении выбрасывается самое старое обновление
const subscriberBuffer = 16

type Publisher interface {
	Publish(ctx context.Context, evt *entity.IntegrationEvent) error
}

type Subscriber interface {
	// Subscribe регистрирует подписку. cancel освобождает ресурсы и закрывает канал,
	// вызывать можно многократно.
	Subscribe(ctx context.Context, correlationID uuid.UUID) (<-chan *entity.IntegrationEvent, func(), error)
}

type Notifier interface {
	Publisher
	Subscriber
}

// Hub - in-process реализация для одного экземпляра сервиса
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*hubSub]struct{}
}

type hubSub struct {
	ch     chan *entity.IntegrationEvent
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[*hubSub]struct{})}
}

func (h *Hub) Publish(_ context.Context, evt *entity.IntegrationEvent) error {
	if evt == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[evt.CorrelationID] {
		snapshot := evt.Clone()
		select {
		case sub.ch <- snapshot:
		default:
			// медленный подписчик: старое состояние уже неактуально
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snapshot:
			default:
			}
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, correlationID uuid.UUID) (<-chan *entity.IntegrationEvent, func(), error) {
	sub := &hubSub{ch: make(chan *entity.IntegrationEvent, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[correlationID] == nil {
		h.subs[correlationID] = make(map[*hubSub]struct{})
	}
	h.subs[correlationID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(h.subs[correlationID], sub)
		if len(h.subs[correlationID]) == 0 {
			delete(h.subs, correlationID)
		}
		close(sub.ch)
	}
	return sub.ch, cancel, nil
}

// Subscribers - число активных подписок на событие
func (h *Hub) Subscribers(correlationID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[correlationID])
}

// MultiPublisher рассылает обновление во все бэкенды (hub/redis, kafka)
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, evt *entity.IntegrationEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
