package signal

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Message is the envelope for everything crossing the signaling socket.
// Sender is the application-level user id of the originator; RoomID scopes
// the message to a call. Data holds the type-specific payload and is opaque
// to the relay.
type Message struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id,omitempty"`
	Sender string          `json:"sender,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const (
	TypeJoinRoom         = "join-room"
	TypeUserConnected    = "user-connected"
	TypeUserDisconnected = "user-disconnected"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeLeave            = "leave"
	TypeChatMessage      = "chat-message"
	TypeScreenShareStart = "screen-share-started"
	TypeScreenShareStop  = "screen-share-stopped"
	TypeError            = "error"
)

// SDPPayload carries an offer or answer session description.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload carries one discovered ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// PresencePayload announces a peer joining or leaving a room.
type PresencePayload struct {
	UserID string `json:"user_id"`
}

// ChatPayload is a chat line. UserID is the persisted author id, Username the
// display name shown to the other side.
type ChatPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// ErrorPayload reports a relay-side rejection to the offending client.
type ErrorPayload struct {
	Message string `json:"message"`
}

// UnmarshalData decodes the type-specific payload into v.
func (m *Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", m.Type, err)
	}
	return nil
}

// New builds an envelope around a marshalled payload.
func New(msgType, roomID, sender string, payload any) (*Message, error) {
	msg := &Message{Type: msgType, RoomID: roomID, Sender: sender}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		msg.Data = data
	}

	return msg, nil
}
