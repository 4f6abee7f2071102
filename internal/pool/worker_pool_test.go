package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 10}, nil)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, int32(10), n.Load())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Zero(t, stats.Queued)
}

func TestWorkerPool_Full(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1}, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(func(context.Context) error { return nil }))

	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	require.NoError(t, p.Close(context.Background()))
}

func TestWorkerPool_FailuresAndPanics(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4}, nil)
	require.NoError(t, p.Submit(func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, p.Submit(func(context.Context) error { panic("bad task") }))
	require.NoError(t, p.Submit(func(context.Context) error { return nil }))
	require.NoError(t, p.Close(context.Background()))

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := New(DefaultConfig(), nil)
	require.NoError(t, p.Close(context.Background()))
	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, p.Close(context.Background()))
}

func TestWorkerPool_CloseTimeoutCancelsTasks(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1}, nil)
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1, TaskTimeout: 10 * time.Millisecond}, nil)
	errc := make(chan error, 1)
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		errc <- ctx.Err()
		return ctx.Err()
	}))
	assert.ErrorIs(t, <-errc, context.DeadlineExceeded)
	require.NoError(t, p.Close(context.Background()))
}
