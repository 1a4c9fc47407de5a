package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/infra/adapters/postgres/repository"
)

const defaultMessageLimit = 50

type MessageHandler struct {
	messageRepo repository.MessageRepository
}

func NewMessageHandler(messageRepo repository.MessageRepository) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo}
}

// ListByRoom returns the chat transcript of a room in chronological order.
func (h *MessageHandler) ListByRoom(c echo.Context) error {
	roomID := c.Param("roomID")
	if roomID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "room id is required"})
	}

	limit := defaultMessageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = parsed
	}

	messages, err := h.messageRepo.GetByRoom(c.Request().Context(), roomID, limit)
	if err != nil {
		slog.Error("get messages", slog.Any(constant.Error, err), slog.String(constant.RoomID, roomID))

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get messages"})
	}

	return c.JSON(http.StatusOK, messages)
}
