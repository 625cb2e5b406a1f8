package events

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Event es el contrato común de los eventos de integración que emiten los
// handlers. El payload debe ser un valor serializable (struct o mapa),
// nunca una referencia viva.
type Event interface {
	EventID() uuid.UUID
	EventName() string
	EventTopic() string
	OccurredAt() time.Time
	EventPayload() any
}

// NotificationEvent es un aviso ligero de que algo pasó. El productor elige
// el topic explícitamente.
type NotificationEvent struct {
	ID        uuid.UUID
	Topic     string
	Name      string
	Payload   any
	Timestamp time.Time
}

func NewNotification(topic, name string, payload any) NotificationEvent {
	return NotificationEvent{
		ID:        uuid.New(),
		Topic:     topic,
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func (e NotificationEvent) EventID() uuid.UUID    { return e.ID }
func (e NotificationEvent) EventName() string     { return e.Name }
func (e NotificationEvent) EventTopic() string    { return e.Topic }
func (e NotificationEvent) OccurredAt() time.Time { return e.Timestamp }
func (e NotificationEvent) EventPayload() any     { return e.Payload }

// ECSTEvent transporta estado suficiente para que los consumidores actualicen
// sus read models sin llamar de vuelta. El topic se deriva del nombre del
// evento por convención.
type ECSTEvent struct {
	ID        uuid.UUID
	Name      string
	Payload   any
	Timestamp time.Time
}

func NewECST(name string, payload any) ECSTEvent {
	return ECSTEvent{
		ID:        uuid.New(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func (e ECSTEvent) EventID() uuid.UUID    { return e.ID }
func (e ECSTEvent) EventName() string     { return e.Name }
func (e ECSTEvent) EventTopic() string    { return DeriveTopic(e.Name) }
func (e ECSTEvent) OccurredAt() time.Time { return e.Timestamp }
func (e ECSTEvent) EventPayload() any     { return e.Payload }

// DeriveTopic convierte un nombre de evento CamelCase en un topic con puntos:
// "RoomClosed" -> "room.closed", igual que los tipos "user.created".
func DeriveTopic(eventName string) string {
	var b strings.Builder
	for i, r := range eventName {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Verificación en tiempo de compilación.
var (
	_ Event = NotificationEvent{}
	_ Event = ECSTEvent{}
)
