package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/board"
	"github.com/lalith-99/capyboard/internal/models"
)

// Board is the state contract the handlers need. *board.Service satisfies it.
type Board interface {
	GetState(ctx context.Context) models.MessageState
	SetActiveMessage(ctx context.Context, content, backgroundID string) (models.MessageState, error)
	ScheduleMessage(ctx context.Context, content, startAt, backgroundID string) (models.MessageState, error)
	DeleteSchedule(ctx context.Context, id string) (models.MessageState, error)
}

type MessageHandler struct {
	board  Board
	logger *zap.Logger
}

func NewMessageHandler(b Board, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{board: b, logger: logger}
}

// Pointers tell "missing" from "empty": an empty message is allowed and
// becomes the placeholder, a missing or non-string one is rejected.
type saveMessageRequest struct {
	Message      *string `json:"message"`
	BackgroundID string  `json:"backgroundId"`
}

func (r saveMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.NotNil),
	)
}

type scheduleMessageRequest struct {
	Message      *string `json:"message"`
	StartAt      *string `json:"startAt"`
	BackgroundID string  `json:"backgroundId"`
}

func (r scheduleMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.NotNil),
		validation.Field(&r.StartAt, validation.NotNil),
	)
}

// Get handles GET /api/message
func (h *MessageHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.GetState(c.Request.Context()))
}

// Save handles PUT /api/message
func (h *MessageHandler) Save(c *gin.Context) {
	var req saveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Validate() != nil {
		h.respondError(c, board.ValidationError("`message` must be a string."))
		return
	}

	state, err := h.board.SetActiveMessage(c.Request.Context(), *req.Message, req.BackgroundID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Schedule handles POST /api/message
func (h *MessageHandler) Schedule(c *gin.Context) {
	var req scheduleMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Validate() != nil {
		h.respondError(c, board.ValidationError("`message` and `startAt` must both be strings."))
		return
	}

	state, err := h.board.ScheduleMessage(c.Request.Context(), *req.Message, *req.StartAt, req.BackgroundID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Delete handles DELETE /api/message?id=<slot>
func (h *MessageHandler) Delete(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		h.respondError(c, board.ValidationError("`id` is required."))
		return
	}

	state, err := h.board.DeleteSchedule(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Backgrounds handles GET /api/backgrounds
func (h *MessageHandler) Backgrounds(c *gin.Context) {
	c.JSON(http.StatusOK, board.Backgrounds())
}

func statusFor(code string) int {
	switch code {
	case board.CodeValidation, board.CodeInvalidTime, board.CodePastTime:
		return http.StatusBadRequest
	case board.CodeSlotTaken:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *MessageHandler) respondError(c *gin.Context, err error) {
	var be *board.Error
	if !errors.As(err, &be) {
		h.logger.Error("unexpected board error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": board.CodeStorage})
		return
	}

	status := statusFor(be.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("board mutation failed", zap.String("code", be.Code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": be.Message, "code": be.Code})
}
