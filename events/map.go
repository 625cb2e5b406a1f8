package events

import "context"

// Handler procesa un evento entrante del broker. Se construye una instancia
// nueva por cada evento vía su factoría.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFactory construye el handler en el momento del despacho. Es la
// capacidad de resolución que normalmente aporta el contenedor de
// dependencias de la aplicación.
type HandlerFactory func(ctx context.Context) (Handler, error)

// Map asocia nombres de evento con sus handlers. Un mismo evento admite
// varios handlers (fan-out). Se rellena en el arranque y después solo se lee.
type Map struct {
	bindings map[string][]HandlerFactory
}

func NewMap() *Map {
	return &Map{bindings: make(map[string][]HandlerFactory)}
}

// Bind añade un handler para el evento. Repetir el mismo evento acumula
// handlers, no los sustituye.
func (m *Map) Bind(eventName string, factory HandlerFactory) {
	m.bindings[eventName] = append(m.bindings[eventName], factory)
}

// Get devuelve las factorías registradas para el evento, en orden de binding.
func (m *Map) Get(eventName string) []HandlerFactory {
	return m.bindings[eventName]
}

// EventNames lista los eventos con al menos un handler registrado.
func (m *Map) EventNames() []string {
	names := make([]string, 0, len(m.bindings))
	for name := range m.bindings {
		names = append(names, name)
	}
	return names
}
