package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FileLogger writes audit events as JSON lines via logrus
type FileLogger struct {
	logger *logrus.Logger
	file   *os.File
}

// NewFileLogger creates a file-based audit logger. The directory is
// created if needed; events append to audit.log inside it.
func NewFileLogger(dir string) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	path := filepath.Join(dir, "audit.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	return &FileLogger{logger: logger, file: file}, nil
}

// Log writes one JSON line per event
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	entry := l.logger.WithFields(logrus.Fields{
		"event_type":    string(event.EventType),
		"status":        string(event.Status),
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
		"timestamp":     event.Timestamp,
	})
	if event.ActorUserID != nil {
		entry = entry.WithField("actor_user_id", *event.ActorUserID)
	}
	if event.OrganizationID != nil {
		entry = entry.WithField("organization_id", *event.OrganizationID)
	}
	if event.RequestID != "" {
		entry = entry.WithField("request_id", event.RequestID)
	}
	if event.Metadata != nil {
		entry = entry.WithField("metadata", event.Metadata)
	}

	switch event.Status {
	case EventStatusFailure:
		entry.WithField("error", event.ErrorMessage).Error(event.Message)
	case EventStatusDenied:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}

// Close closes the underlying file
func (l *FileLogger) Close() error {
	return l.file.Close()
}
