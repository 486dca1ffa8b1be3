package service

import (
	"context"
	"sync"

	"integrations/internal/appers"
	"integrations/internal/application/entity"

	"github.com/gofrs/uuid"
)

// Subscription - активная подписка на изменения статуса одного события
type Subscription struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Cancel останавливает доставку обновлений, повторный вызов безопасен
func (s *Subscription) Cancel() {
	s.once.Do(func() { close(s.stop) })
}

// Done закрывается, когда подписка завершилась (терминальный статус, Cancel или ctx)
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) stopped(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Subscribe сначала регистрируется в нотификаторе и только потом читает снимок,
// поэтому переход, случившийся между чтением и подпиской, не теряется.
// onUpdate получает снимок и каждое более новое сохраненное состояние, по порядку,
// из одной горутины.
func (s *ServiceImpl) Subscribe(ctx context.Context, tenantID string, correlationID uuid.UUID, onUpdate func(*entity.IntegrationEvent)) (*Subscription, error) {
	if tenantID == "" {
		return nil, appers.ErrTenantRequired
	}

	updates, unsubscribe, err := s.sub.Subscribe(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.store.GetByCorrelationID(ctx, tenantID, correlationID)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	sub := &Subscription{stop: make(chan struct{}), done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer unsubscribe()

		if sub.stopped(ctx) {
			return
		}
		onUpdate(snapshot)
		if snapshot.IsTerminal() {
			return
		}

		last := snapshot
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.stop:
				return
			case evt, ok := <-updates:
				if !ok {
					return
				}
				if evt.TenantID != tenantID || !newer(evt, last) {
					continue
				}
				// select выбирает среди готовых веток случайно: после Cancel обновление
				// из буфера еще может прийти сюда
				if sub.stopped(ctx) {
					return
				}
				last = evt
				onUpdate(evt)
				if evt.IsTerminal() {
					return
				}
			}
		}
	}()

	return sub, nil
}

// newer - обновление не старше уже отданного и не дублирует его
func newer(evt, last *entity.IntegrationEvent) bool {
	if evt.UpdatedAt.Before(last.UpdatedAt) {
		return false
	}
	if evt.UpdatedAt.Equal(last.UpdatedAt) && evt.Status == last.Status && evt.RetryCount == last.RetryCount {
		return false
	}
	return true
}
