package model

// WebSocket event types
const (
	WSEventStatus   = "status"
	WSEventProgress = "progress"
	WSEventClose    = "close"
	WSEventPing     = "ping"
	WSEventPong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStatusMessage is the synthetic snapshot sent on subscribe,
// covering anything published before the client connected
type WSStatusMessage struct {
	Type     string     `json:"type"`
	TaskID   string     `json:"taskId"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Message  string     `json:"message,omitempty"`
}

// WSProgressMessage is a forwarded progress bus event
type WSProgressMessage struct {
	Type     string     `json:"type"`
	TaskID   string     `json:"taskId"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Message  string     `json:"message,omitempty"`
}

// WSCloseMessage terminates the stream after a terminal status
// (or a gateway-side timeout)
type WSCloseMessage struct {
	Type   string     `json:"type"`
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}
