// Package audit records authentication and tool-call events.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger records audit events.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Event is one auditable action.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   int64          `json:"duration_ms"`
	RequestID    string         `json:"request_id,omitempty"`
	Type         EventType      `json:"type"`
	UserID       string         `json:"user_id,omitempty"`
	Username     string         `json:"username,omitempty"`
	AuthMethod   string         `json:"auth_method,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Success      bool           `json:"success"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// QueryFilter selects audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Type      EventType
	UserID    string
	ToolName  string
	Success   *bool
	Limit     int
	Offset    int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// SlogLogger writes audit events to a structured logger. It is the default
// sink when no database is configured.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger-backed audit sink.
func NewSlogLogger(log *slog.Logger) *SlogLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogLogger{log: log}
}

// Log writes the event as one structured log line.
func (l *SlogLogger) Log(_ context.Context, event Event) error {
	l.log.Info("audit",
		"event_id", event.ID,
		"type", string(event.Type),
		"user", event.UserID,
		"tool", event.ToolName,
		"success", event.Success,
		"error_code", event.ErrorCode,
		"duration_ms", event.DurationMS,
	)
	return nil
}

// Query is unsupported for the log-backed sink.
func (l *SlogLogger) Query(context.Context, QueryFilter) ([]Event, error) {
	return nil, nil
}

// Close is a no-op.
func (l *SlogLogger) Close() error { return nil }

// NopLogger discards events; used when auditing is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) error { return nil }
func (NopLogger) Query(context.Context, QueryFilter) ([]Event, error) { return nil, nil }
func (NopLogger) Close() error { return nil }
