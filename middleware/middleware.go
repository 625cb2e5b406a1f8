package middleware

import (
	"context"

	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/events"
	"github.com/davicafu/cqrslab/requests"
)

// HandleFunc es la firma que envuelven los middlewares: la llamada al
// handler del request.
type HandleFunc func(ctx context.Context, req requests.Request) (requests.Response, []events.Event, error)

// Middleware envuelve un HandleFunc con lógica transversal.
type Middleware interface {
	Wrap(next HandleFunc) HandleFunc
}

// Chain aplica los middlewares en orden de registro: el primero añadido es
// el más externo.
type Chain struct {
	middlewares []Middleware
}

func NewChain(ms ...Middleware) *Chain {
	return &Chain{middlewares: ms}
}

func (c *Chain) Add(m Middleware) {
	c.middlewares = append(c.middlewares, m)
}

func (c *Chain) Wrap(handle HandleFunc) HandleFunc {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handle = c.middlewares[i].Wrap(handle)
	}
	return handle
}

// Logging registra cada request antes y después de su handler.
type Logging struct {
	log *zap.Logger
}

func NewLogging(log *zap.Logger) *Logging {
	return &Logging{log: log}
}

func (l *Logging) Wrap(next HandleFunc) HandleFunc {
	return func(ctx context.Context, req requests.Request) (requests.Response, []events.Event, error) {
		l.log.Debug("Handling request", zap.String("request", requestName(req)))
		resp, evs, err := next(ctx, req)
		if err != nil {
			l.log.Debug("Request failed",
				zap.String("request", requestName(req)),
				zap.Error(err),
			)
			return resp, evs, err
		}
		l.log.Debug("Request handled",
			zap.String("request", requestName(req)),
			zap.Int("events", len(evs)),
		)
		return resp, evs, nil
	}
}

func requestName(req requests.Request) string {
	if req == nil {
		return "<nil>"
	}
	return typeName(req)
}
