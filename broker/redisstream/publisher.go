package redisstream

import (
	"context"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
)

// Publisher publica mensajes como entradas de un Redis Stream. El topic del
// mensaje es el nombre del stream (XADD).
type Publisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewPublisher(client *redis.Client, log *zap.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	values := map[string]interface{}{
		"payload": msg.Value,
	}
	if len(msg.Key) > 0 {
		values["key"] = msg.Key
	}
	for k, v := range msg.Headers {
		values[k] = v
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Topic,
		Values: values,
	}).Err(); err != nil {
		p.log.Error("Error publishing to Redis stream",
			zap.String("stream", msg.Topic),
			zap.Error(err),
		)
		return &broker.PublishError{Topic: msg.Topic, Err: err}
	}

	p.log.Debug("Event published successfully", zap.String("stream", msg.Topic))
	return nil
}

// Verificación estática
var _ broker.Broker = (*Publisher)(nil)
