package memory

import (
	"context"
	"sync"

	"github.com/davicafu/cqrslab/broker"
)

// Bus es un broker en memoria para tests y despliegues locales. Cada topic
// tiene sus propios suscriptores; un suscriptor con el buffer lleno pierde el
// mensaje en vez de bloquear al publicador.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan broker.Message
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]chan broker.Message)}
}

func (b *Bus) Publish(ctx context.Context, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return &broker.PublishError{Topic: msg.Topic, Err: err}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[msg.Topic] {
		select {
		case sub <- msg:
		default:
		}
	}
	return nil
}

// Subscribe añade un oyente al topic y devuelve su canal.
func (b *Bus) Subscribe(topic string, bufferSize int) <-chan broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan broker.Message, bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return sub
}

// Verificación estática
var _ broker.Broker = (*Bus)(nil)
