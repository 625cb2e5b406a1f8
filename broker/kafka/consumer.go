package kafka

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
	"github.com/davicafu/cqrslab/events"
)

// EventSink recibe los eventos entrantes ya decodificados. Lo satisface el
// EventMediator.
type EventSink interface {
	Send(ctx context.Context, event events.Event) error
}

// Consumer escucha un topic de Kafka y entrega cada mensaje al sink como
// evento de notificación. El nombre del evento viaja en la cabecera
// event_name; el fan-out a handlers es cosa del sink.
type Consumer struct {
	reader *kafkago.Reader
	sink   EventSink
	log    *zap.Logger
}

func NewConsumer(reader *kafkago.Reader, sink EventSink, log *zap.Logger) *Consumer {
	return &Consumer{reader: reader, sink: sink, log: log}
}

// Start inicia el bucle de consumo en una goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.String("topic", c.reader.Config().Topic),
		zap.Strings("brokers", c.reader.Config().Brokers),
	)

	go func() {
		for {
			// ReadMessage es una llamada bloqueante.
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				// Si el contexto se cancela, el error es normal y salimos limpiamente.
				if ctx.Err() != nil {
					c.log.Info("Consumidor de Kafka detenido.", zap.String("topic", c.reader.Config().Topic))
					return
				}
				c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
				continue
			}

			event, err := c.decode(msg)
			if err != nil {
				c.log.Error("Mensaje entrante ilegible",
					zap.String("topic", msg.Topic),
					zap.Error(err),
				)
				continue
			}

			if err := c.sink.Send(ctx, event); err != nil {
				c.log.Error("Fallo al despachar evento entrante",
					zap.String("event", event.EventName()),
					zap.Error(err),
				)
			}
		}
	}()
}

func (c *Consumer) decode(msg kafkago.Message) (events.Event, error) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	var payload map[string]any
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return nil, err
	}

	// Los mensajes relayados por el outbox no llevan event_name: el topic
	// hace de identificador del evento en ese caso.
	name := headers[broker.HeaderEventName]
	if name == "" {
		name = msg.Topic
	}

	event := events.NotificationEvent{
		Topic:   msg.Topic,
		Name:    name,
		Payload: payload,
	}
	if id, err := uuid.Parse(headers[broker.HeaderEventID]); err == nil {
		event.ID = id
	} else {
		event.ID = uuid.New()
	}
	event.Timestamp = msg.Time
	return event, nil
}
