package models

import (
	"time"

	"github.com/google/uuid"
)

// CallSession records one user's participation in a call. Duration is filled
// in whole seconds when the session is finalized.
type CallSession struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	RoomID    string     `json:"room_id" db:"room_id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration  *int       `json:"duration,omitempty" db:"duration"`
}
