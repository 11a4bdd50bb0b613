package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage is pushed on every reporter write for a session
type WSProgressMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Progress    int    `json:"progress"`
	Total       int    `json:"total"`
	Status      Status `json:"status"`
	CurrentStep string `json:"current_step,omitempty"`
}

// WSCompleteMessage signals that the session reached the completed state
// and the artifact can be downloaded.
type WSCompleteMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Format    Format `json:"format"`
}

// WSErrorMessage signals that the session reached the error state
type WSErrorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}
