package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the auth and HTTP code paths.
const (
	EventLoginSuccess   = "login_success"
	EventLoginFailure   = "login_failure"
	EventRegister       = "register"
	EventRefresh        = "token_refresh"
	EventRefreshReuse   = "refresh_token_reuse"
	EventLogout         = "logout"
	EventSessionEvicted = "session_evicted"
	EventHTTPRequest    = "http_request"
)

// Event is a telemetry event with optional user and session. It is the JSON payload written to Kafka.
type Event struct {
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent returns an event stamped with the current UTC time. meta is marshalled to JSON when non-nil.
func NewEvent(eventType, source, userID, sessionID string, meta any) *Event {
	e := &Event{
		UserID:    userID,
		SessionID: sessionID,
		EventType: eventType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			e.Metadata = b
		}
	}
	return e
}
