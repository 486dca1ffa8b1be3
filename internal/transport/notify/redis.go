package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"integrations/internal/application/entity"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannelPrefix = "integrations:event:"

// RedisHub - pub/sub через redis, подписчик получает обновления с любого экземпляра
type RedisHub struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

func NewRedisHub(client *redis.Client, prefix string, logger *zap.SugaredLogger) *RedisHub {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisHub{client: client, prefix: prefix, logger: logger}
}

func (h *RedisHub) channel(correlationID uuid.UUID) string {
	return h.prefix + correlationID.String()
}

// redisMessage - конверт в канале, claimed_by не сериализуется
type redisMessage struct {
	Event *entity.IntegrationEvent `json:"event"`
}

func (h *RedisHub) Publish(ctx context.Context, evt *entity.IntegrationEvent) error {
	if evt == nil {
		return nil
	}
	data, err := json.Marshal(redisMessage{Event: evt})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := h.client.Publish(ctx, h.channel(evt.CorrelationID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, correlationID uuid.UUID) (<-chan *entity.IntegrationEvent, func(), error) {
	ps := h.client.Subscribe(ctx, h.channel(correlationID))
	// Receive дожидается подтверждения подписки: публикации после возврата не теряются
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan *entity.IntegrationEvent, subscriberBuffer)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var m redisMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.Event == nil {
					h.logger.Warnf("[cid %s] bad notification on %s: %v", correlationID, msg.Channel, err)
					continue
				}
				select {
				case out <- m.Event:
				case <-stop:
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

func (h *RedisHub) HealthCheck(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
