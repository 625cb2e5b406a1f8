package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
)

// Publisher publica mensajes en Kafka usando un writer genérico: el topic
// viaja en cada mensaje, no en el writer.
type Publisher struct {
	writer *kafkago.Writer
	log    *zap.Logger
}

func NewPublisher(writer *kafkago.Writer, log *zap.Logger) *Publisher {
	return &Publisher{writer: writer, log: log}
}

// NewWriter crea un writer compatible con Publisher: sin topic fijo y con
// balanceo por hash de la clave de partición.
func NewWriter(brokers []string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:     kafkago.TCP(brokers...),
		Balancer: &kafkago.Hash{},
	}
}

func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	headers := make([]kafkago.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	kafkaMsg := kafkago.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		p.log.Error("Error publishing to Kafka",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return &broker.PublishError{Topic: msg.Topic, Err: err}
	}

	p.log.Debug("Event published successfully", zap.String("topic", msg.Topic))
	return nil
}

// Verificación estática
var _ broker.Broker = (*Publisher)(nil)
