package audit

import (
	"context"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the logger
	Close() error
}

// NewEvent builds an event with the timestamp set
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}
}

// NoOpLogger discards all events; used when auditing is not configured
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NoOpLogger) Close() error                                { return nil }
