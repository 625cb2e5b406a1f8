package requests

import (
	"context"
	"fmt"
	"reflect"

	"github.com/davicafu/cqrslab/events"
)

// Request es un comando o una query. Inmutable una vez construido; el
// despacho se resuelve por su tipo dinámico exacto.
type Request any

// Response es el resultado de un handler. Los comandos pueden devolver nil.
type Response any

// Handler ejecuta la lógica de negocio de un request. Los eventos producidos
// vuelven como valor de retorno, no como estado del handler: se crea una
// instancia por request y se descarta después.
type Handler interface {
	Handle(ctx context.Context, req Request) (Response, []events.Event, error)
}

// HandlerFactory construye el handler por request. Es la capacidad de
// resolución del contenedor de dependencias, pasada de forma explícita.
type HandlerFactory func(ctx context.Context) (Handler, error)

// Map asocia cada tipo de request con exactamente un handler. La tabla se
// resuelve en el arranque; en el despacho solo queda una búsqueda por tipo.
type Map struct {
	bindings map[reflect.Type]HandlerFactory
}

func NewMap() *Map {
	return &Map{bindings: make(map[reflect.Type]HandlerFactory)}
}

// Bind registra la factoría para el tipo de req. Duplicar el binding de un
// mismo tipo de request es un error.
func (m *Map) Bind(req Request, factory HandlerFactory) error {
	t := reflect.TypeOf(req)
	if _, exists := m.bindings[t]; exists {
		return fmt.Errorf("request type %s already bound", t)
	}
	m.bindings[t] = factory
	return nil
}

// Get busca la factoría por el tipo exacto del request. Sin fallback ni
// coincidencias parciales.
func (m *Map) Get(req Request) (HandlerFactory, bool) {
	factory, ok := m.bindings[reflect.TypeOf(req)]
	return factory, ok
}
