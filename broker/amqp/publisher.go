package amqp

import (
	"context"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
)

// Publisher publica mensajes en un exchange AMQP. El topic del mensaje se usa
// como routing key; el binding exchange/cola lo decide la topología del broker.
type Publisher struct {
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

func NewPublisher(channel *amqp091.Channel, exchange string, log *zap.Logger) *Publisher {
	return &Publisher{channel: channel, exchange: exchange, log: log}
}

func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	headers := make(amqp091.Table, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	pub := amqp091.Publishing{
		ContentType: "application/json",
		Body:        msg.Value,
		MessageId:   msg.Headers[broker.HeaderEventID],
		Type:        msg.Headers[broker.HeaderEventName],
		Headers:     headers,
		Timestamp:   time.Now().UTC(),
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, msg.Topic, false, false, pub); err != nil {
		p.log.Error("Error publishing to AMQP",
			zap.String("exchange", p.exchange),
			zap.String("routing_key", msg.Topic),
			zap.Error(err),
		)
		return &broker.PublishError{Topic: msg.Topic, Err: err}
	}

	p.log.Debug("Event published successfully", zap.String("routing_key", msg.Topic))
	return nil
}

// Verificación estática
var _ broker.Broker = (*Publisher)(nil)
