package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

const (
	// EventTypeAuth is an authentication lifecycle event.
	EventTypeAuth EventType = "auth"

	// EventTypeToolCall is a tool invocation event.
	EventTypeToolCall EventType = "tool_call"
)

// NewEvent creates an event of the given type with a fresh id.
func NewEvent(eventType EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
	}
}

// WithUser attaches the acting user.
func (e *Event) WithUser(userID, username string) *Event {
	e.UserID = userID
	e.Username = username
	return e
}

// WithAuthMethod records how the caller authenticated.
func (e *Event) WithAuthMethod(method string) *Event {
	e.AuthMethod = method
	return e
}

// WithTool attaches the invoked tool.
func (e *Event) WithTool(toolName string) *Event {
	e.ToolName = toolName
	return e
}

// WithParameters attaches sanitized call parameters.
func (e *Event) WithParameters(params map[string]any) *Event {
	e.Parameters = SanitizeParameters(params)
	return e
}

// WithRequestID attaches a request id.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithResult records the outcome.
func (e *Event) WithResult(success bool, errorCode, errorMsg string, duration time.Duration) *Event {
	e.Success = success
	e.ErrorCode = errorCode
	e.ErrorMessage = errorMsg
	e.DurationMS = duration.Milliseconds()
	return e
}

// sensitiveKeys are parameter names whose values never reach a sink.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"jwt_token":     true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
	"credentials":   true,
}

// SanitizeParameters redacts credential-bearing parameters.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
