package rooms

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/mediator"
	"github.com/davicafu/cqrslab/outbox"
	"github.com/davicafu/cqrslab/pkg/utils"
	"github.com/davicafu/cqrslab/requests"
)

// HTTPHandler expone el dominio por HTTP. Cada comando abre su propia
// transacción para que la escritura de negocio y el outbox queden atómicos.
type HTTPHandler struct {
	m   *mediator.RequestMediator
	txs outbox.TxBeginner
	log *zap.Logger
}

func NewHTTPHandler(m *mediator.RequestMediator, txs outbox.TxBeginner, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{m: m, txs: txs, log: log}
}

func RegisterRoutes(router *gin.Engine, h *HTTPHandler) {
	router.POST("/rooms", h.CreateRoom)
	router.POST("/rooms/:id/close", h.CloseRoom)
	router.GET("/rooms/:id", h.GetRoom)
}

type createRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *HTTPHandler) CreateRoom(c *gin.Context) {
	var body createRoomRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.SendBadRequest(c, "invalid request body")
		return
	}

	room, err := h.sendInTx(c.Request.Context(), CreateRoomCommand{Name: body.Name})
	if err != nil {
		h.log.Error("Error creando sala", zap.Error(err))
		utils.SendInternalServerError(c, "could not create room")
		return
	}
	utils.SendSuccess(c, http.StatusCreated, room)
}

func (h *HTTPHandler) CloseRoom(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.SendBadRequest(c, "invalid room id")
		return
	}

	if _, err := h.sendInTx(c.Request.Context(), CloseRoomCommand{RoomID: id}); err != nil {
		if errors.Is(err, ErrNotFound) {
			utils.SendNotFound(c, "room not found or already closed")
			return
		}
		h.log.Error("Error cerrando sala", zap.Error(err))
		utils.SendInternalServerError(c, "could not close room")
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"room_id": id, "status": StatusClosed})
}

func (h *HTTPHandler) GetRoom(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.SendBadRequest(c, "invalid room id")
		return
	}

	room, err := h.m.Send(c.Request.Context(), GetRoomQuery{RoomID: id})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			utils.SendNotFound(c, "room not found")
			return
		}
		h.log.Error("Error consultando sala", zap.Error(err))
		utils.SendInternalServerError(c, "could not fetch room")
		return
	}
	utils.SendSuccess(c, http.StatusOK, room)
}

// sendInTx ejecuta un comando dentro de una transacción compartida con el
// outbox: commit solo si el handler termina sin error.
func (h *HTTPHandler) sendInTx(ctx context.Context, req requests.Request) (requests.Response, error) {
	tx, err := h.txs.Begin(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := h.m.Send(outbox.WithTx(ctx, tx), req)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return resp, nil
}
