package rooms

import (
	"context"

	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/events"
	"github.com/davicafu/cqrslab/outbox"
	"github.com/davicafu/cqrslab/requests"
)

// Comandos y queries del dominio de ejemplo.
type (
	CreateRoomCommand struct {
		Name string
	}
	CloseRoomCommand struct {
		RoomID int64
	}
	GetRoomQuery struct {
		RoomID int64
	}
)

// Nombres de los eventos de integración que emite este dominio.
const (
	RoomCreated = "RoomCreated"
	RoomClosed  = "RoomClosed"
)

type createRoomHandler struct {
	repo *Repo
}

func (h createRoomHandler) Handle(ctx context.Context, req requests.Request) (requests.Response, []events.Event, error) {
	cmd := req.(CreateRoomCommand)

	tx, ok := outbox.TxFromContext(ctx)
	if !ok {
		return nil, nil, outbox.ErrNoTransaction
	}
	room, err := h.repo.Create(ctx, tx, cmd.Name)
	if err != nil {
		return nil, nil, err
	}

	produced := []events.Event{
		events.NewECST(RoomCreated, map[string]any{"room_id": room.ID, "name": room.Name}),
	}
	return room, produced, nil
}

type closeRoomHandler struct {
	repo *Repo
}

func (h closeRoomHandler) Handle(ctx context.Context, req requests.Request) (requests.Response, []events.Event, error) {
	cmd := req.(CloseRoomCommand)

	tx, ok := outbox.TxFromContext(ctx)
	if !ok {
		return nil, nil, outbox.ErrNoTransaction
	}
	if err := h.repo.Close(ctx, tx, cmd.RoomID); err != nil {
		return nil, nil, err
	}

	produced := []events.Event{
		events.NewECST(RoomClosed, map[string]any{"room_id": cmd.RoomID}),
	}
	return nil, produced, nil
}

type getRoomHandler struct {
	repo *Repo
}

func (h getRoomHandler) Handle(ctx context.Context, req requests.Request) (requests.Response, []events.Event, error) {
	q := req.(GetRoomQuery)
	room, err := h.repo.Get(ctx, q.RoomID)
	if err != nil {
		return nil, nil, err
	}
	return room, nil, nil
}

// RegisterCommands asocia los comandos del dominio con sus handlers.
func RegisterCommands(reqs *requests.Map, repo *Repo) error {
	if err := reqs.Bind(CreateRoomCommand{}, func(context.Context) (requests.Handler, error) {
		return createRoomHandler{repo: repo}, nil
	}); err != nil {
		return err
	}
	return reqs.Bind(CloseRoomCommand{}, func(context.Context) (requests.Handler, error) {
		return closeRoomHandler{repo: repo}, nil
	})
}

// RegisterQueries asocia las queries del dominio con sus handlers.
func RegisterQueries(reqs *requests.Map, repo *Repo) error {
	return reqs.Bind(GetRoomQuery{}, func(context.Context) (requests.Handler, error) {
		return getRoomHandler{repo: repo}, nil
	})
}

// RegisterEvents registra los listeners de eventos entrantes del dominio.
// Los eventos relayados por el outbox llegan identificados por su topic, los
// publicados en directo por su nombre: el listener escucha ambos.
func RegisterEvents(evs *events.Map, log *zap.Logger) {
	factory := func(context.Context) (events.Handler, error) {
		return roomClosedListener{log: log}, nil
	}
	evs.Bind(RoomClosed, factory)
	evs.Bind(events.DeriveTopic(RoomClosed), factory)
}

// roomClosedListener reacciona al cierre de una sala; aquí solo deja traza.
type roomClosedListener struct {
	log *zap.Logger
}

func (l roomClosedListener) Handle(_ context.Context, event events.Event) error {
	l.log.Info("🔒 Sala cerrada",
		zap.String("event_id", event.EventID().String()),
		zap.Any("payload", event.EventPayload()),
	)
	return nil
}

var (
	_ requests.Handler = createRoomHandler{}
	_ requests.Handler = closeRoomHandler{}
	_ requests.Handler = getRoomHandler{}
	_ events.Handler   = roomClosedListener{}
)
