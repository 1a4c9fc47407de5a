package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vantu-dev/pairlink/internal/application/config"
	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/application/metric"
	"github.com/vantu-dev/pairlink/internal/infra/appctx"
	"github.com/vantu-dev/pairlink/internal/relay"
	"github.com/vantu-dev/pairlink/internal/signal"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	relay *relay.Relay
}

func NewWebSocketHandler(cfg *config.Config, rl *relay.Relay) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		relay: rl,
	}
}

// wsSender serializes writes to one websocket connection.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(msg *signal.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteJSON(msg)
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("websocket upgrade", slog.Any(constant.Error, err))
		return err
	}
	defer ws.Close()

	metric.IncWSActiveConnections()
	defer metric.DecWSActiveConnections()

	connID := uuid.NewString()
	sender := &wsSender{conn: ws}

	// The connection may die without an explicit leave; Leave is idempotent
	// so the deferred call is always safe.
	defer h.relay.Leave(context.WithoutCancel(c.Request().Context()), connID)

	if err = ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				sender.mu.Lock()
				err := ws.WriteMessage(websocket.PingMessage, nil)
				sender.mu.Unlock()
				if err != nil {
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("websocket read", slog.Any(constant.Error, err))
			}

			return nil
		}

		msg := new(signal.Message)
		if err = json.Unmarshal(raw, msg); err != nil {
			slog.Error("unmarshal signaling message", slog.Any(constant.Error, err))
			continue
		}

		// Attribution comes from the authenticated identity, never from the
		// wire, so a client cannot impersonate its peer.
		msg.Sender = userID.String()

		if err = h.dispatch(c.Request().Context(), connID, userID.String(), sender, msg); err != nil {
			slog.Error("handle signaling message",
				slog.Any(constant.Error, err),
				slog.String(constant.ConnID, connID),
			)
		}
	}
}

func (h *WebSocketHandler) dispatch(
	ctx context.Context,
	connID string,
	userID string,
	sender *wsSender,
	msg *signal.Message,
) error {
	switch msg.Type {
	case signal.TypeJoinRoom:
		if msg.RoomID == "" {
			return h.sendError(sender, "room_id is required")
		}

		err := h.relay.Join(ctx, msg.RoomID, userID, connID, sender)
		if errors.Is(err, relay.ErrRoomFull) {
			return h.sendError(sender, "room is full")
		}
		return err

	case signal.TypeLeave:
		h.relay.Leave(ctx, connID)
		return nil

	case signal.TypeOffer, signal.TypeAnswer, signal.TypeICECandidate,
		signal.TypeChatMessage, signal.TypeScreenShareStart, signal.TypeScreenShareStop:
		err := h.relay.Route(ctx, connID, msg)
		if errors.Is(err, relay.ErrNotInRoom) {
			return h.sendError(sender, "join a room first")
		}
		return err

	default:
		return h.sendError(sender, "unknown message type")
	}
}

func (h *WebSocketHandler) sendError(sender *wsSender, text string) error {
	msg, err := signal.New(signal.TypeError, "", "", signal.ErrorPayload{Message: text})
	if err != nil {
		return err
	}

	return sender.Send(msg)
}
