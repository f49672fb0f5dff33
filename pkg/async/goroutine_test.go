package async

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/observability"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSafeGoRunsTask(t *testing.T) {
	out := &syncBuffer{}
	logger := observability.NewLogger(observability.ErrorLevel, out)

	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "test task", logger, func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.Empty(t, out.String())
}

func TestSafeGoLogsErrors(t *testing.T) {
	out := &syncBuffer{}
	logger := observability.NewLogger(observability.ErrorLevel, out)

	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "failing task", logger, func(ctx context.Context) error {
		defer close(done)
		return errors.New("boom")
	})
	<-done

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "failing task")
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "boom")
}

func TestSafeGoRecoversPanics(t *testing.T) {
	out := &syncBuffer{}
	logger := observability.NewLogger(observability.ErrorLevel, out)

	SafeGo(context.Background(), time.Second, "panicking task", logger, func(ctx context.Context) error {
		panic("kaboom")
	})

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "panicked")
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "kaboom")
}

func TestSafeGoEnforcesDeadline(t *testing.T) {
	out := &syncBuffer{}
	logger := observability.NewLogger(observability.ErrorLevel, out)

	var deadline bool
	done := make(chan struct{})
	SafeGo(context.Background(), time.Millisecond, "slow task", logger, func(ctx context.Context) error {
		defer close(done)
		<-ctx.Done()
		deadline = true
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
	assert.True(t, deadline)
}
