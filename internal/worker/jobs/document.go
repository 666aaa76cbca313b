package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/stratlab/stratlab-be/internal/worker/domain"
	"github.com/stratlab/stratlab-be/internal/worker/storage"
	"github.com/stratlab/stratlab-be/shared/messaging"
)

// DocumentStore is the slice of worker storage the document job needs.
type DocumentStore interface {
	ClaimDocument(ctx context.Context, documentID string) (*storage.ClaimedDocument, error)
	HeartbeatDocument(ctx context.Context, documentID string) error
	SaveExtraction(ctx context.Context, documentID, userID, text string, strategies []storage.ExtractedStrategy) error
	MarkDocumentRetrying(ctx context.Context, documentID, reason string) error
	MarkDocumentFailed(ctx context.Context, documentID, reason string) error
}

// Downloader fetches uploaded document bytes from object storage.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// DocumentJob downloads an uploaded document, extracts its text and,
// for strategy extraction requests, parses strategy definitions out of
// it.
type DocumentJob struct {
	store             DocumentStore
	files             Downloader
	pub               messaging.EventPublisher
	logger            *slog.Logger
	maxRetries        int
	heartbeatInterval time.Duration
}

func NewDocumentJob(store DocumentStore, files Downloader, pub messaging.EventPublisher, maxRetries int, heartbeatInterval time.Duration, logger *slog.Logger) *DocumentJob {
	return &DocumentJob{
		store:             store,
		files:             files,
		pub:               pub,
		logger:            logger,
		maxRetries:        maxRetries,
		heartbeatInterval: heartbeatInterval,
	}
}

// Handle processes one document work message.
func (j *DocumentJob) Handle(ctx context.Context, msg *messaging.WorkMessage) messaging.Outcome {
	if msg.Document == nil {
		return messaging.FatalFailure(errors.New("work message has no document payload"))
	}
	documentID := msg.Document.DocumentID

	claim, err := j.store.ClaimDocument(ctx, documentID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return messaging.FatalFailure(fmt.Errorf("document %s: %w", documentID, err))
	case errors.Is(err, domain.ErrAlreadyClaimed):
		// Another delivery of the same message got here first. Treat
		// the duplicate as done so it is not retried or dead-lettered.
		j.logger.Warn("Skipping document claimed elsewhere",
			slog.String("document_id", documentID),
			slog.String("reason", err.Error()),
		)
		return messaging.Completed(map[string]any{
			"document_id": documentID,
			"skipped":     "already claimed",
		})
	case err != nil:
		return j.transient(ctx, msg, fmt.Errorf("claim document %s: %w", documentID, err))
	}

	stop := startHeartbeat(ctx, j.heartbeatInterval, j.logger, documentID, func(ctx context.Context) error {
		return j.store.HeartbeatDocument(ctx, documentID)
	})
	defer stop()

	publishProgress(ctx, j.pub, j.logger, msg, 10, "downloading document")
	data, err := j.files.Download(ctx, claim.FileKey)
	if err != nil {
		return j.transient(ctx, msg, fmt.Errorf("download %s: %w", claim.FileKey, err))
	}

	publishProgress(ctx, j.pub, j.logger, msg, 40, "extracting text")
	text, err := ExtractText(data)
	if err != nil {
		// Bad content never improves on retry.
		mctx, cancel := markCtx(ctx)
		defer cancel()
		if markErr := j.store.MarkDocumentFailed(mctx, documentID, err.Error()); markErr != nil {
			j.logger.Error("Failed to mark document failed",
				slog.String("document_id", documentID),
				slog.String("error", markErr.Error()),
			)
		}
		return messaging.FatalFailure(fmt.Errorf("extract text from %s: %w", claim.Filename, err))
	}

	var extracted []storage.ExtractedStrategy
	if claim.ProcessingType == domain.ProcessingTypeStrategy {
		publishProgress(ctx, j.pub, j.logger, msg, 70, "extracting strategies")
		for _, parsed := range ParseStrategies(text) {
			params, err := json.Marshal(parsed.Params)
			if err != nil {
				return messaging.FatalFailure(fmt.Errorf("encode strategy params: %w", err))
			}
			extracted = append(extracted, storage.ExtractedStrategy{
				StrategyID:  uuid.New().String(),
				Name:        parsed.Name,
				Description: parsed.Description,
				Params:      string(params),
			})
		}
	}

	publishProgress(ctx, j.pub, j.logger, msg, 90, "storing results")
	if err := j.store.SaveExtraction(ctx, documentID, claim.UserID, text, extracted); err != nil {
		return j.transient(ctx, msg, fmt.Errorf("save extraction for document %s: %w", documentID, err))
	}

	// Announce strategies only after they are durably stored, so a
	// client reacting to the event can immediately fetch them.
	for _, strat := range extracted {
		res := messaging.NewStrategyExtractedResult(msg, strat.StrategyID, strat.Name)
		if _, err := j.pub.Publish(ctx, messaging.KeyStrategyExtracted, res); err != nil {
			j.logger.Warn("Failed to publish strategy extracted event",
				slog.String("strategy_id", strat.StrategyID),
				slog.String("error", err.Error()),
			)
		}
	}

	j.logger.Info("Document processed",
		slog.String("document_id", documentID),
		slog.String("processing_type", claim.ProcessingType),
		slog.Int("strategies_found", len(extracted)),
	)

	return messaging.Completed(map[string]any{
		"document_id":      documentID,
		"characters":       utf8.RuneCountInString(text),
		"strategies_found": len(extracted),
	})
}

// transient records the retry or terminal failure on the document row
// and reports the failure as retryable. The consumer applies the same
// retry budget when deciding whether to republish.
func (j *DocumentJob) transient(ctx context.Context, msg *messaging.WorkMessage, err error) messaging.Outcome {
	mctx, cancel := markCtx(ctx)
	defer cancel()

	documentID := msg.Document.DocumentID
	if msg.RetryCount >= j.maxRetries {
		if markErr := j.store.MarkDocumentFailed(mctx, documentID, err.Error()); markErr != nil {
			j.logger.Error("Failed to mark document failed",
				slog.String("document_id", documentID),
				slog.String("error", markErr.Error()),
			)
		}
	} else {
		if markErr := j.store.MarkDocumentRetrying(mctx, documentID, err.Error()); markErr != nil {
			j.logger.Error("Failed to mark document retrying",
				slog.String("document_id", documentID),
				slog.String("error", markErr.Error()),
			)
		}
	}
	return messaging.TransientFailure(err)
}
