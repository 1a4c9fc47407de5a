package constant

// Common slog attribute keys.
const (
	Error  = "error"
	UserID = "user_id"
	RoomID = "room_id"
	ConnID = "conn_id"
	State  = "state"
)
