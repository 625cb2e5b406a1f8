package broker

import (
	"context"
	"errors"
	"fmt"
)

// Errores transitorios del broker. Se comprueban con errors.Is.
var ErrUnavailable = errors.New("message broker unavailable")

// PublishError envuelve el fallo de un publish concreto.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to topic %q failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Cabeceras estándar que viajan con cada mensaje.
const (
	HeaderEventID   = "event_id"
	HeaderEventName = "event_name"
)

// Message es la unidad que se entrega al broker: topic, clave de partición
// opcional y payload opaco. La semántica de topic la decide cada adapter
// (topic Kafka, routing key AMQP, stream Redis).
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Broker define el puerto de publicación. Stateless desde el punto de vista
// del subsistema: el pooling de conexiones es asunto del adapter.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
}
