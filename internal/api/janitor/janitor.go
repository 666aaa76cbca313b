package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/internal/api/notify"
	"github.com/stratlab/stratlab-be/internal/api/storage"
	"github.com/stratlab/stratlab-be/shared/metrics"
)

const sweepTimeout = 30 * time.Second

// Store is the persistence surface the janitor uses. *storage.Storage
// implements it.
type Store interface {
	FailStaleDocuments(ctx context.Context, cutoff time.Time, reason string) ([]storage.StaleJob, error)
	FailStaleBacktests(ctx context.Context, cutoff time.Time, reason string) ([]storage.StaleJob, error)
}

// Notifier pushes events to connected users. *notify.Notifier
// implements it.
type Notifier interface {
	Notify(userID string, event notify.Event)
}

// Janitor periodically fails jobs whose workers stopped reporting
// progress, so crashed workers cannot leave rows stuck in processing
// forever.
type Janitor struct {
	store      Store
	notifier   Notifier
	logger     *slog.Logger
	schedule   string
	staleAfter time.Duration
	cron       *cron.Cron
}

// New creates a janitor sweeping on the given cron schedule. Jobs with
// no heartbeat for staleAfter are marked failed.
func New(store Store, notifier Notifier, schedule string, staleAfter time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:      store,
		notifier:   notifier,
		logger:     logger,
		schedule:   schedule,
		staleAfter: staleAfter,
	}
}

// Start schedules the sweep. Returns an error when the schedule
// expression cannot be parsed.
func (j *Janitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.run); err != nil {
		return fmt.Errorf("failed to schedule stale job sweep: %w", err)
	}
	c.Start()
	j.cron = c

	j.logger.Info("Stale job sweep scheduled",
		slog.String("schedule", j.schedule),
		slog.Duration("stale_after", j.staleAfter),
	)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Error("Stale job sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep fails every document and backtest whose heartbeat is older than
// the stale cutoff and notifies the owners. Returns how many jobs were
// failed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.staleAfter)
	reason := fmt.Sprintf("processing stalled: no progress for %s", j.staleAfter)

	docs, err := j.store.FailStaleDocuments(ctx, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale documents: %w", err)
	}
	for _, job := range docs {
		j.notifier.Notify(job.UserID, notify.ProcessingFailed("document", job.ID, reason))
	}

	backtests, err := j.store.FailStaleBacktests(ctx, cutoff, reason)
	if err != nil {
		return len(docs), fmt.Errorf("failed to sweep stale backtests: %w", err)
	}
	for _, job := range backtests {
		j.notifier.Notify(job.UserID, notify.BacktestStatus(job.ID, domain.StatusFailed, reason))
	}

	swept := len(docs) + len(backtests)
	if swept > 0 {
		metrics.StaleJobsFailed.Add(float64(swept))
		j.logger.Warn("Failed stale jobs",
			slog.Int("documents", len(docs)),
			slog.Int("backtests", len(backtests)),
			slog.Time("cutoff", cutoff),
		)
	}
	return swept, nil
}
