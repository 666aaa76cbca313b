package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stratlab/stratlab-be/shared/messaging"
)

// markTimeout bounds status writes that must go through even when the
// job context is already canceled.
const markTimeout = 5 * time.Second

// publishProgress emits a progress event for a running job. Event loss
// is tolerable, so failures are logged and swallowed.
func publishProgress(ctx context.Context, pub messaging.EventPublisher, logger *slog.Logger, msg *messaging.WorkMessage, percent int, note string) {
	res := messaging.NewProgressResult(msg, percent, note)
	if _, err := pub.Publish(ctx, messaging.EventKey(msg.Kind, messaging.PhaseProgress), res); err != nil {
		logger.Warn("Failed to publish progress event",
			slog.String("message_id", msg.MessageID),
			slog.Int("progress", percent),
			slog.String("error", err.Error()),
		)
	}
}

// startHeartbeat refreshes the job's heartbeat every interval until the
// returned stop function is called or ctx ends. A non-positive interval
// disables the heartbeat.
func startHeartbeat(ctx context.Context, interval time.Duration, logger *slog.Logger, jobID string, beat func(context.Context) error) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := beat(ctx); err != nil {
					logger.Warn("Failed to update heartbeat",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// markCtx derives a short-lived context for status writes that must
// survive job cancellation.
func markCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
}
