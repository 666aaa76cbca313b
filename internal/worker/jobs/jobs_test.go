package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratlab/stratlab-be/shared/logger"
)

func nopLogger() *slog.Logger {
	return logger.NewNop().Logger
}

func TestStartHeartbeat(t *testing.T) {
	var beats atomic.Int32
	stop := startHeartbeat(context.Background(), 5*time.Millisecond, nopLogger(), "job-1", func(context.Context) error {
		beats.Add(1)
		return nil
	})

	assert.Eventually(t, func() bool { return beats.Load() >= 2 }, time.Second, 5*time.Millisecond)

	stop()
	time.Sleep(20 * time.Millisecond)
	after := beats.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, beats.Load())
}

func TestStartHeartbeat_StopIsIdempotent(t *testing.T) {
	stop := startHeartbeat(context.Background(), time.Millisecond, nopLogger(), "job-1", func(context.Context) error {
		return nil
	})
	stop()
	stop()
}

func TestStartHeartbeat_ZeroIntervalDisables(t *testing.T) {
	var beats atomic.Int32
	stop := startHeartbeat(context.Background(), 0, nopLogger(), "job-1", func(context.Context) error {
		beats.Add(1)
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	stop()
	assert.Zero(t, beats.Load())
}

func TestStartHeartbeat_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var beats atomic.Int32
	stop := startHeartbeat(ctx, 5*time.Millisecond, nopLogger(), "job-1", func(context.Context) error {
		beats.Add(1)
		return nil
	})
	defer stop()

	cancel()
	time.Sleep(20 * time.Millisecond)
	after := beats.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, beats.Load())
}

func TestMarkCtx_SurvivesCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	mctx, mcancel := markCtx(parent)
	defer mcancel()

	require.NoError(t, mctx.Err())
	deadline, ok := mctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(markTimeout), deadline, time.Second)
}
