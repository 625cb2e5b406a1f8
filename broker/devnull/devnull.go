package devnull

import (
	"context"

	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
)

// Broker descarta todos los mensajes dejando constancia en el log. Es el
// broker por defecto del bootstrap cuando no se configura ninguno.
type Broker struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Broker {
	return &Broker{log: log}
}

func (b *Broker) Publish(_ context.Context, msg broker.Message) error {
	b.log.Warn("⚠️ Mensaje descartado (broker devnull)",
		zap.String("topic", msg.Topic),
		zap.String("event_id", msg.Headers[broker.HeaderEventID]),
	)
	return nil
}

// Verificación estática
var _ broker.Broker = (*Broker)(nil)
