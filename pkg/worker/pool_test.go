package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(context.Background(), Config{Name: "test-run", Workers: 3, QueueSize: 10}, discardLogger())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(10), n.Load(), "Stop drains the queue")
}

func TestPool_SubmitRejectsWhenFull(t *testing.T) {
	p := New(context.Background(), Config{Name: "test-full", Workers: 1, QueueSize: 1}, discardLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, p.Submit("queued", func(context.Context) error { return nil }))
	err := p.Submit("overflow", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := New(context.Background(), Config{Name: "test-stopped", Workers: 1}, discardLogger())
	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()), "Stop is idempotent")

	assert.ErrorIs(t, p.Submit("late", func(context.Context) error { return nil }), ErrStopped)
}

func TestPool_StopTimeoutCancelsTasks(t *testing.T) {
	p := New(context.Background(), Config{Name: "test-cancel", Workers: 1, QueueSize: 1}, discardLogger())

	started := make(chan struct{})
	var sawCancel atomic.Bool
	require.NoError(t, p.Submit("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, sawCancel.Load())
}

func TestPool_SurvivesFailingAndPanickingTasks(t *testing.T) {
	p := New(context.Background(), Config{Name: "test-panic", Workers: 1, QueueSize: 3}, discardLogger())

	var ran atomic.Bool
	require.NoError(t, p.Submit("fail", func(context.Context) error { return errors.New("bulk rejected") }))
	require.NoError(t, p.Submit("panic", func(context.Context) error { panic("boom") }))
	require.NoError(t, p.Submit("after", func(context.Context) error {
		ran.Store(true)
		return nil
	}))

	require.NoError(t, p.Stop(context.Background()))
	assert.True(t, ran.Load(), "worker keeps running after a panic")
}

func TestNew_ClampsConfig(t *testing.T) {
	p := New(context.Background(), Config{Name: "test-clamp", Workers: 0, QueueSize: -5}, discardLogger())
	assert.Equal(t, 0, cap(p.queue))
	require.NoError(t, p.Stop(context.Background()))
}
