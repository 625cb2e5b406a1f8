package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
	"github.com/davicafu/cqrslab/compress"
	"github.com/davicafu/cqrslab/outbox"
)

// SerializationError indica un payload que no se pudo serializar. Es fatal
// para ese evento concreto.
type SerializationError struct {
	EventName string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize event %q: %v", e.EventName, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Keyer permite a un evento aportar su clave de partición en modo directo.
type Keyer interface {
	PartitionKey() string
}

// Emitter lleva los eventos producidos por un handler o bien al broker
// (modo directo, best-effort) o bien a la tabla outbox dentro de la misma
// transacción que la escritura de negocio (modo outbox, at-least-once).
//
// El modo se decide por llamada: si el contexto trae una transacción
// (outbox.WithTx) y hay store configurado, se persiste; si no, se publica.
type Emitter struct {
	broker     broker.Broker
	store      outbox.Store
	compressor compress.Compressor
	timeout    time.Duration
	log        *zap.Logger
}

type EmitterOption func(*Emitter)

// WithStore habilita el modo outbox.
func WithStore(store outbox.Store) EmitterOption {
	return func(e *Emitter) { e.store = store }
}

// WithCompressor comprime los payloads antes de guardarlos en el outbox.
func WithCompressor(c compress.Compressor) EmitterOption {
	return func(e *Emitter) { e.compressor = c }
}

// WithPublishTimeout acota los publish síncronos del modo directo.
func WithPublishTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.timeout = d }
}

func NewEmitter(b broker.Broker, log *zap.Logger, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		broker:  b,
		timeout: 5 * time.Second,
		log:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit entrega los eventos. Se invoca solo después de que el handler haya
// terminado con éxito: un handler que falla no emite nada.
func (e *Emitter) Emit(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}

	if tx, ok := outbox.TxFromContext(ctx); ok && e.store != nil {
		return e.persist(ctx, tx, evs)
	}
	return e.publish(ctx, evs)
}

// persist escribe cada evento como registro outbox dentro de la transacción
// del llamante: o todo se confirma con la escritura de negocio o nada.
func (e *Emitter) persist(ctx context.Context, tx outbox.Tx, evs []Event) error {
	for _, ev := range evs {
		payload, err := json.Marshal(ev.EventPayload())
		if err != nil {
			return &SerializationError{EventName: ev.EventName(), Err: err}
		}

		compressed := false
		if e.compressor != nil {
			payload, err = e.compressor.Compress(payload)
			if err != nil {
				return &SerializationError{EventName: ev.EventName(), Err: err}
			}
			compressed = true
		}

		rec := outbox.Record{
			ID:         ev.EventID(),
			Topic:      ev.EventTopic(),
			Payload:    payload,
			Compressed: compressed,
			CreatedAt:  ev.OccurredAt(),
		}
		if err := e.store.Add(ctx, tx, rec); err != nil {
			return err
		}
		e.log.Debug("Evento encolado en outbox",
			zap.String("event", ev.EventName()),
			zap.String("topic", rec.Topic),
		)
	}
	return nil
}

// publish entrega los eventos directamente al broker. Sin garantía más allá
// del ack del broker: un crash tras el commit de negocio pierde el evento.
func (e *Emitter) publish(ctx context.Context, evs []Event) error {
	for _, ev := range evs {
		payload, err := json.Marshal(ev.EventPayload())
		if err != nil {
			return &SerializationError{EventName: ev.EventName(), Err: err}
		}

		var key []byte
		if keyer, ok := ev.(Keyer); ok {
			key = []byte(keyer.PartitionKey())
		}

		msg := broker.Message{
			Topic: ev.EventTopic(),
			Key:   key,
			Value: payload,
			Headers: map[string]string{
				broker.HeaderEventID:   ev.EventID().String(),
				broker.HeaderEventName: ev.EventName(),
			},
		}

		pubCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err = e.broker.Publish(pubCtx, msg)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("publish %q: %w", ev.EventName(), broker.ErrUnavailable)
			}
			return err
		}
		e.log.Debug("Evento publicado en modo directo",
			zap.String("event", ev.EventName()),
			zap.String("topic", ev.EventTopic()),
		)
	}
	return nil
}
