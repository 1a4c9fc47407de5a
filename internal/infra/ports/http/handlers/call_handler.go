package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/infra/adapters/postgres/repository"
	"github.com/vantu-dev/pairlink/internal/infra/appctx"
)

const defaultHistoryLimit = 20

type CallHandler struct {
	callRepo repository.CallRepository
}

func NewCallHandler(callRepo repository.CallRepository) *CallHandler {
	return &CallHandler{callRepo: callRepo}
}

type StartCallRequest struct {
	RoomID string `json:"room_id"`
}

func (h *CallHandler) Start(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	var req StartCallRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.RoomID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "room id is required"})
	}

	session, err := h.callRepo.Start(c.Request().Context(), req.RoomID, userID)
	if err != nil {
		slog.Error("start call session", slog.Any(constant.Error, err))

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start call session"})
	}

	return c.JSON(http.StatusOK, session)
}

func (h *CallHandler) End(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid call id"})
	}

	session, err := h.callRepo.End(c.Request().Context(), id)
	if err != nil {
		slog.Error("end call session", slog.Any(constant.Error, err))

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to end call session"})
	}

	return c.JSON(http.StatusOK, session)
}

func (h *CallHandler) History(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	sessions, err := h.callRepo.GetByUser(c.Request().Context(), userID, defaultHistoryLimit)
	if err != nil {
		slog.Error("get call history", slog.Any(constant.Error, err))

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get call history"})
	}

	return c.JSON(http.StatusOK, sessions)
}
