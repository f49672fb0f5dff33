package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	events []*Event
	err    error
}

func (r *recordingLogger) Log(ctx context.Context, event *Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingLogger) Close() error { return nil }

func TestMultiLoggerFansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	m := NewMultiLogger(a, b)

	event := NewEvent(EventTypeAuthzOverridesUpdate, EventStatusSuccess)
	require.NoError(t, m.Log(context.Background(), event))

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestMultiLoggerContinuesOnFailure(t *testing.T) {
	failing := &recordingLogger{err: errors.New("disk full")}
	ok := &recordingLogger{}
	m := NewMultiLogger(failing, ok)

	err := m.Log(context.Background(), NewEvent(EventTypeAuthLogin, EventStatusSuccess))
	assert.Error(t, err)
	assert.Len(t, ok.events, 1, "healthy logger still receives the event")
}
