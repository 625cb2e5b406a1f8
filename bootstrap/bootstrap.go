package bootstrap

import (
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
	"github.com/davicafu/cqrslab/broker/devnull"
	"github.com/davicafu/cqrslab/compress"
	"github.com/davicafu/cqrslab/events"
	"github.com/davicafu/cqrslab/mediator"
	"github.com/davicafu/cqrslab/middleware"
	"github.com/davicafu/cqrslab/outbox"
	"github.com/davicafu/cqrslab/requests"
)

// Config reúne las piezas de composición. Solo los mappers son obligatorios;
// el resto tiene valores por defecto razonables (broker devnull, sin outbox,
// logger nop).
type Config struct {
	Broker         broker.Broker
	Store          outbox.Store
	Compressor     compress.Compressor
	PublishTimeout time.Duration
	Middlewares    []middleware.Middleware
	Commands       func(*requests.Map) error
	Queries        func(*requests.Map) error
	DomainEvents   func(*events.Map)
	Logger         *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Broker == nil {
		c.Broker = devnull.New(c.Logger)
	}
}

// NewRequestMediator monta el mediator de requests completo: mapas, emitter
// y cadena de middlewares, con el logging middleware siempre al final.
func NewRequestMediator(cfg Config) (*mediator.RequestMediator, error) {
	cfg.applyDefaults()

	reqMap := requests.NewMap()
	if cfg.Commands != nil {
		if err := cfg.Commands(reqMap); err != nil {
			return nil, err
		}
	}
	if cfg.Queries != nil {
		if err := cfg.Queries(reqMap); err != nil {
			return nil, err
		}
	}

	chain := middleware.NewChain(cfg.Middlewares...)
	chain.Add(middleware.NewLogging(cfg.Logger))

	return mediator.NewRequestMediator(reqMap, newEmitter(cfg), chain, cfg.Logger), nil
}

// NewEventMediator monta el mediator de eventos entrantes.
func NewEventMediator(cfg Config) *mediator.EventMediator {
	cfg.applyDefaults()

	evMap := events.NewMap()
	if cfg.DomainEvents != nil {
		cfg.DomainEvents(evMap)
	}
	return mediator.NewEventMediator(evMap, cfg.Logger)
}

func newEmitter(cfg Config) *events.Emitter {
	opts := []events.EmitterOption{}
	if cfg.Store != nil {
		opts = append(opts, events.WithStore(cfg.Store))
	}
	if cfg.Compressor != nil {
		opts = append(opts, events.WithCompressor(cfg.Compressor))
	}
	if cfg.PublishTimeout > 0 {
		opts = append(opts, events.WithPublishTimeout(cfg.PublishTimeout))
	}
	return events.NewEmitter(cfg.Broker, cfg.Logger, opts...)
}
