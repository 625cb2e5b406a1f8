package mediator

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/events"
	"github.com/davicafu/cqrslab/middleware"
	"github.com/davicafu/cqrslab/requests"
)

// HandlerNotFoundError indica que no hay handler para el tipo exacto del
// request. Fatal para ese request; se propaga al llamante.
type HandlerNotFoundError struct {
	RequestType string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler bound for request type %s", e.RequestType)
}

// RequestMediator es el punto de entrada del camino síncrono: busca el
// handler, lo invoca y traslada los eventos producidos al emitter.
type RequestMediator struct {
	requests *requests.Map
	emitter  *events.Emitter
	chain    *middleware.Chain
	log      *zap.Logger
}

func NewRequestMediator(reqs *requests.Map, emitter *events.Emitter, chain *middleware.Chain, log *zap.Logger) *RequestMediator {
	if chain == nil {
		chain = middleware.NewChain()
	}
	return &RequestMediator{
		requests: reqs,
		emitter:  emitter,
		chain:    chain,
		log:      log,
	}
}

// Send despacha el request a su único handler y, si este termina bien, emite
// los eventos que produjo. Si el handler falla no se emite ni persiste nada.
func (m *RequestMediator) Send(ctx context.Context, req requests.Request) (requests.Response, error) {
	factory, ok := m.requests.Get(req)
	if !ok {
		return nil, &HandlerNotFoundError{RequestType: typeName(req)}
	}

	handler, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve handler for %s: %w", typeName(req), err)
	}

	handle := m.chain.Wrap(handler.Handle)
	resp, evs, err := handle(ctx, req)
	if err != nil {
		return nil, err
	}

	if m.emitter != nil && len(evs) > 0 {
		if err := m.emitter.Emit(ctx, evs...); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// EventMediator despacha eventos entrantes del broker a sus handlers. Un
// evento admite varios handlers; cada uno se invoca de forma independiente y
// los fallos se acumulan en vez de cortar el fan-out.
type EventMediator struct {
	events *events.Map
	log    *zap.Logger
}

func NewEventMediator(evs *events.Map, log *zap.Logger) *EventMediator {
	return &EventMediator{events: evs, log: log}
}

// Send invoca todos los handlers registrados para el evento. Devuelve los
// errores acumulados; un handler que falla no impide ejecutar los demás.
func (m *EventMediator) Send(ctx context.Context, event events.Event) error {
	factories := m.events.Get(event.EventName())
	if len(factories) == 0 {
		m.log.Warn("⚠️ Sin handlers para el evento", zap.String("event", event.EventName()))
		return nil
	}

	var errs error
	for _, factory := range factories {
		errs = multierr.Append(errs, m.handleOne(ctx, event, factory))
	}
	return errs
}

func (m *EventMediator) handleOne(ctx context.Context, event events.Event, factory events.HandlerFactory) error {
	handler, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("resolve handler for event %s: %w", event.EventName(), err)
	}
	if err := handler.Handle(ctx, event); err != nil {
		m.log.Error("Handler de evento fallido",
			zap.String("event", event.EventName()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
