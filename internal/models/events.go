package models

// StateEvent is the envelope for snapshots pushed over the live state
// websocket channel
type StateEvent struct {
	EventType string   `json:"event_type"`
	Data      Snapshot `json:"data"`
}

// UserInfo represents safe user information (without sensitive data)
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Event types pushed to live observers
const (
	EventTypeState = "state"
	EventTypeError = "error"
)
