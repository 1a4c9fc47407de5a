package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/application/metric"
	"github.com/vantu-dev/pairlink/internal/signal"
)

var (
	ErrRoomFull  = errors.New("room is full")
	ErrNotInRoom = errors.New("connection is not in a room")
)

// maxOccupants pins the two-party call model.
const maxOccupants = 2

// Sender is the write path to one connected client. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(msg *signal.Message) error
}

// MessageStore persists chat lines. Failures never block relay delivery.
type MessageStore interface {
	Append(ctx context.Context, roomID, userID, text string) error
}

// Participant ties the transient connection id used for routing to the
// stable user id used for attribution.
type Participant struct {
	ConnID string
	UserID string

	sender Sender
}

func (p *Participant) send(msg *signal.Message) {
	if err := p.sender.Send(msg); err != nil {
		slog.Error("write to participant",
			slog.Any(constant.Error, err),
			slog.String(constant.ConnID, p.ConnID),
		)
	}
}

type room struct {
	id           string
	participants []*Participant
}

// other returns the occupant that is not connID, if any.
func (r *room) other(connID string) *Participant {
	for _, p := range r.participants {
		if p.ConnID != connID {
			return p
		}
	}
	return nil
}

// Relay owns room membership and forwards signaling messages between the two
// occupants of a room. It never inspects negotiation payloads; routing uses
// the envelope fields only.
type Relay struct {
	mu     sync.Mutex
	rooms  map[string]*room
	byConn map[string]*room

	messages MessageStore
}

func New(messages MessageStore) *Relay {
	return &Relay{
		rooms:    make(map[string]*room),
		byConn:   make(map[string]*room),
		messages: messages,
	}
}

// Join admits a connection into a room, creating the room on first join. A
// third simultaneous occupant is rejected with ErrRoomFull and existing
// membership is left untouched. The prior occupant, if present, is notified
// with the joining participant's user id.
func (rl *Relay) Join(ctx context.Context, roomID, userID, connID string, sender Sender) error {
	rl.mu.Lock()

	rm, ok := rl.rooms[roomID]
	if !ok {
		rm = &room{id: roomID}
		rl.rooms[roomID] = rm
	}

	if len(rm.participants) >= maxOccupants {
		rl.mu.Unlock()
		metric.IncRejectedJoins()
		return ErrRoomFull
	}

	p := &Participant{ConnID: connID, UserID: userID, sender: sender}
	rm.participants = append(rm.participants, p)
	rl.byConn[connID] = rm

	peer := rm.other(connID)
	metric.SetActiveRooms(len(rl.rooms))
	rl.mu.Unlock()

	slog.Info("participant joined room",
		slog.String(constant.RoomID, roomID),
		slog.String(constant.UserID, userID),
		slog.String(constant.ConnID, connID),
	)

	if peer != nil {
		msg, err := signal.New(signal.TypeUserConnected, roomID, userID, signal.PresencePayload{UserID: userID})
		if err != nil {
			return err
		}
		peer.send(msg)
	}

	return nil
}

// Route forwards msg to the other occupant of the sender's room. Chat
// messages are persisted first, best-effort.
func (rl *Relay) Route(ctx context.Context, connID string, msg *signal.Message) error {
	rl.mu.Lock()
	rm, ok := rl.byConn[connID]
	if !ok {
		rl.mu.Unlock()
		return ErrNotInRoom
	}
	peer := rm.other(connID)
	roomID := rm.id
	rl.mu.Unlock()

	if msg.Type == signal.TypeChatMessage {
		rl.persistChat(ctx, roomID, msg)
	}

	if peer == nil {
		// Nobody to deliver to yet. Negotiation messages are only produced
		// after user-connected, so this is a benign race with leave.
		return nil
	}

	metric.IncRelayedMessages(msg.Type)
	peer.send(msg)

	return nil
}

// Leave removes the connection from its room and notifies the remaining
// occupant. Repeated leave signals for the same connection are no-ops, so a
// transport disconnect racing an explicit leave never double-notifies.
func (rl *Relay) Leave(ctx context.Context, connID string) {
	rl.mu.Lock()

	rm, ok := rl.byConn[connID]
	if !ok {
		rl.mu.Unlock()
		return
	}
	delete(rl.byConn, connID)

	var departed *Participant
	kept := rm.participants[:0]
	for _, p := range rm.participants {
		if p.ConnID == connID {
			departed = p
			continue
		}
		kept = append(kept, p)
	}
	rm.participants = kept

	peer := rm.other(connID)
	if len(rm.participants) == 0 {
		delete(rl.rooms, rm.id)
	}
	metric.SetActiveRooms(len(rl.rooms))
	rl.mu.Unlock()

	slog.Info("participant left room",
		slog.String(constant.RoomID, rm.id),
		slog.String(constant.ConnID, connID),
	)

	if peer != nil && departed != nil {
		msg, err := signal.New(signal.TypeUserDisconnected, rm.id, departed.UserID, signal.PresencePayload{UserID: departed.UserID})
		if err != nil {
			slog.Error("build disconnect notice", slog.Any(constant.Error, err))
			return
		}
		peer.send(msg)
	}
}

// Occupants reports current membership of a room, primarily for tests and
// admin introspection.
func (rl *Relay) Occupants(roomID string) []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rm, ok := rl.rooms[roomID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(rm.participants))
	for _, p := range rm.participants {
		ids = append(ids, p.ConnID)
	}
	return ids
}

func (rl *Relay) persistChat(ctx context.Context, roomID string, msg *signal.Message) {
	if rl.messages == nil {
		return
	}

	var chat signal.ChatPayload
	if err := msg.UnmarshalData(&chat); err != nil {
		slog.Error("decode chat payload", slog.Any(constant.Error, err))
		return
	}

	// Attribution uses the authenticated envelope sender, not the payload.
	userID := msg.Sender
	if userID == "" {
		userID = chat.UserID
	}
	if userID == "" {
		return
	}

	if err := rl.messages.Append(ctx, roomID, userID, chat.Text); err != nil {
		slog.Error("persist chat message",
			slog.Any(constant.Error, err),
			slog.String(constant.RoomID, roomID),
		)
	}
}
