package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/stratlab/stratlab-be/internal/worker/domain"
	"github.com/stratlab/stratlab-be/internal/worker/storage"
	"github.com/stratlab/stratlab-be/shared/messaging"
)

// BacktestStore is the slice of worker storage the backtest job needs.
type BacktestStore interface {
	ClaimBacktest(ctx context.Context, backtestID string) (*storage.ClaimedBacktest, error)
	GetStrategyParams(ctx context.Context, strategyID string) (string, error)
	HeartbeatBacktest(ctx context.Context, backtestID string) error
	SaveBacktestResult(ctx context.Context, backtestID, result string, processingTimeMs int64) error
	MarkBacktestRetrying(ctx context.Context, backtestID, reason string) error
	MarkBacktestFailed(ctx context.Context, backtestID, reason string) error
}

// BacktestJob runs a requested backtest against the strategy it
// references and stores the performance report.
type BacktestJob struct {
	store             BacktestStore
	pub               messaging.EventPublisher
	logger            *slog.Logger
	maxRetries        int
	heartbeatInterval time.Duration
}

func NewBacktestJob(store BacktestStore, pub messaging.EventPublisher, maxRetries int, heartbeatInterval time.Duration, logger *slog.Logger) *BacktestJob {
	return &BacktestJob{
		store:             store,
		pub:               pub,
		logger:            logger,
		maxRetries:        maxRetries,
		heartbeatInterval: heartbeatInterval,
	}
}

// Handle processes one backtest work message.
func (j *BacktestJob) Handle(ctx context.Context, msg *messaging.WorkMessage) messaging.Outcome {
	if msg.Backtest == nil {
		return messaging.FatalFailure(errors.New("work message has no backtest payload"))
	}
	backtestID := msg.Backtest.BacktestID
	started := time.Now()

	claim, err := j.store.ClaimBacktest(ctx, backtestID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return messaging.FatalFailure(fmt.Errorf("backtest %s: %w", backtestID, err))
	case errors.Is(err, domain.ErrAlreadyClaimed):
		// Another delivery of the same message got here first. Treat
		// the duplicate as done so it is not retried or dead-lettered.
		j.logger.Warn("Skipping backtest claimed elsewhere",
			slog.String("backtest_id", backtestID),
			slog.String("reason", err.Error()),
		)
		return messaging.Completed(map[string]any{
			"backtest_id": backtestID,
			"skipped":     "already claimed",
		})
	case err != nil:
		return j.transient(ctx, msg, fmt.Errorf("claim backtest %s: %w", backtestID, err))
	}

	stop := startHeartbeat(ctx, j.heartbeatInterval, j.logger, backtestID, func(ctx context.Context) error {
		return j.store.HeartbeatBacktest(ctx, backtestID)
	})
	defer stop()

	publishProgress(ctx, j.pub, j.logger, msg, 10, "loading strategy")
	strategyParams, err := j.store.GetStrategyParams(ctx, claim.StrategyID)
	if errors.Is(err, domain.ErrStrategyNotFound) {
		// The strategy was deleted after the backtest was queued.
		mctx, cancel := markCtx(ctx)
		defer cancel()
		if markErr := j.store.MarkBacktestFailed(mctx, backtestID, err.Error()); markErr != nil {
			j.logger.Error("Failed to mark backtest failed",
				slog.String("backtest_id", backtestID),
				slog.String("error", markErr.Error()),
			)
		}
		return messaging.FatalFailure(fmt.Errorf("backtest %s: %w", backtestID, err))
	}
	if err != nil {
		return j.transient(ctx, msg, fmt.Errorf("load strategy %s: %w", claim.StrategyID, err))
	}

	in := resolveInput(backtestID, strategyParams, claim.Params, msg.Params)

	publishProgress(ctx, j.pub, j.logger, msg, 50, "running simulation")
	result := runBacktest(in)

	publishProgress(ctx, j.pub, j.logger, msg, 80, "storing results")
	encoded, err := json.Marshal(result)
	if err != nil {
		return messaging.FatalFailure(fmt.Errorf("encode backtest result: %w", err))
	}
	if err := j.store.SaveBacktestResult(ctx, backtestID, string(encoded), time.Since(started).Milliseconds()); err != nil {
		return j.transient(ctx, msg, fmt.Errorf("save result for backtest %s: %w", backtestID, err))
	}

	j.logger.Info("Backtest executed",
		slog.String("backtest_id", backtestID),
		slog.String("strategy_id", claim.StrategyID),
		slog.Int64("elapsed_ms", time.Since(started).Milliseconds()),
	)

	result["backtest_id"] = backtestID
	return messaging.Completed(result)
}

// transient records the retry or terminal failure on the backtest row
// and reports the failure as retryable. The consumer applies the same
// retry budget when deciding whether to republish.
func (j *BacktestJob) transient(ctx context.Context, msg *messaging.WorkMessage, err error) messaging.Outcome {
	mctx, cancel := markCtx(ctx)
	defer cancel()

	backtestID := msg.Backtest.BacktestID
	if msg.RetryCount >= j.maxRetries {
		if markErr := j.store.MarkBacktestFailed(mctx, backtestID, err.Error()); markErr != nil {
			j.logger.Error("Failed to mark backtest failed",
				slog.String("backtest_id", backtestID),
				slog.String("error", markErr.Error()),
			)
		}
	} else {
		if markErr := j.store.MarkBacktestRetrying(mctx, backtestID, err.Error()); markErr != nil {
			j.logger.Error("Failed to mark backtest retrying",
				slog.String("backtest_id", backtestID),
				slog.String("error", markErr.Error()),
			)
		}
	}
	return messaging.TransientFailure(err)
}

// paramAliases maps accepted parameter spellings to their canonical
// name, so an override under either spelling replaces the earlier
// layer's value.
var paramAliases = map[string]string{
	"fast":    "fast_period",
	"slow":    "slow_period",
	"capital": "initial_capital",
}

// resolveInput layers simulation parameters from lowest to highest
// precedence: strategy definition, backtest row params, then per
// message overrides. Missing values fall back to simulation defaults.
func resolveInput(backtestID, strategyParams, rowParams string, overrides map[string]any) simulationInput {
	merged := make(map[string]any)
	mergeJSONParams(merged, strategyParams)
	mergeJSONParams(merged, rowParams)
	mergeParams(merged, overrides)

	return simulationInput{
		Symbol:         stringParam(merged, "symbol"),
		InitialCapital: numberParam(merged, "initial_capital"),
		Days:           int(numberParam(merged, "days")),
		FastPeriod:     int(numberParam(merged, "fast_period")),
		SlowPeriod:     int(numberParam(merged, "slow_period")),
		Seed:           simulationSeed(backtestID),
	}
}

// mergeJSONParams overlays the keys of a JSON object onto dst.
// Malformed stored params are skipped rather than failing the run.
func mergeJSONParams(dst map[string]any, raw string) {
	if raw == "" {
		return
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return
	}
	mergeParams(dst, params)
}

func mergeParams(dst, src map[string]any) {
	for k, v := range src {
		if canon, ok := paramAliases[k]; ok {
			k = canon
		}
		dst[k] = v
	}
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func numberParam(params map[string]any, key string) float64 {
	switch n := params[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return 0
}
