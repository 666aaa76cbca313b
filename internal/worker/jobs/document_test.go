package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratlab/stratlab-be/internal/worker/domain"
	"github.com/stratlab/stratlab-be/internal/worker/storage"
	"github.com/stratlab/stratlab-be/shared/messaging"
)

const strategyDoc = `Research notes.

Strategy: Golden Cross
Buy when the fast average crosses above the slow one.
- fast period: 50
- slow period: 200

Strategy: Breakout
Enter on a 55 day high.
window: 55
`

func newDocumentFixture() (*fakeDocStore, *fakeDownloader, *recordPublisher, *DocumentJob) {
	store := &fakeDocStore{
		claim: &storage.ClaimedDocument{
			DocumentID:     "doc-1",
			UserID:         "user-1",
			Filename:       "ideas.md",
			FileKey:        "users/user-1/abc/ideas.md",
			ProcessingType: domain.ProcessingTypeStrategy,
		},
	}
	files := &fakeDownloader{data: map[string][]byte{
		"users/user-1/abc/ideas.md": []byte(strategyDoc),
	}}
	pub := &recordPublisher{}
	job := NewDocumentJob(store, files, pub, 3, 0, nopLogger())
	return store, files, pub, job
}

func documentWork() *messaging.WorkMessage {
	return messaging.NewDocumentWork(messaging.DocumentPayload{
		DocumentID:     "doc-1",
		UserID:         "user-1",
		FileKey:        "users/user-1/abc/ideas.md",
		ProcessingType: domain.ProcessingTypeStrategy,
	}, nil)
}

func TestDocumentHandle(t *testing.T) {
	store, _, pub, job := newDocumentFixture()

	outcome := job.Handle(t.Context(), documentWork())
	require.True(t, outcome.Succeeded())

	result := outcome.Result()
	assert.Equal(t, "doc-1", result["document_id"])
	assert.Equal(t, 2, result["strategies_found"])
	assert.Positive(t, result["characters"])

	require.NotNil(t, store.saved)
	assert.Equal(t, "doc-1", store.saved.documentID)
	assert.Equal(t, "user-1", store.saved.userID)
	assert.Contains(t, store.saved.text, "Golden Cross")

	require.Len(t, store.saved.strategies, 2)
	golden := store.saved.strategies[0]
	assert.NotEmpty(t, golden.StrategyID)
	assert.Equal(t, "Golden Cross", golden.Name)
	assert.JSONEq(t, `{"fast_period": 50, "slow_period": 200}`, golden.Params)

	// Progress first, then one announcement per stored strategy.
	assert.Equal(t, []string{
		"document.progress",
		"document.progress",
		"document.progress",
		"document.progress",
		"strategy.extracted",
		"strategy.extracted",
	}, pub.keys())
}

func TestDocumentHandle_TextExtractionOnly(t *testing.T) {
	store, _, pub, job := newDocumentFixture()
	store.claim.ProcessingType = domain.ProcessingTypeText

	outcome := job.Handle(t.Context(), documentWork())
	require.True(t, outcome.Succeeded())

	assert.Equal(t, 0, outcome.Result()["strategies_found"])
	require.NotNil(t, store.saved)
	assert.Empty(t, store.saved.strategies)
	assert.NotContains(t, pub.keys(), "strategy.extracted")
}

func TestDocumentHandle_MissingPayload(t *testing.T) {
	_, _, _, job := newDocumentFixture()

	msg := messaging.NewBacktestWork(messaging.BacktestPayload{
		BacktestID: "bt-1", UserID: "user-1", StrategyID: "strat-1",
	}, nil)

	outcome := job.Handle(t.Context(), msg)
	assert.False(t, outcome.Succeeded())
	assert.False(t, outcome.Transient())
}

func TestDocumentHandle_JobNotFound(t *testing.T) {
	store, _, _, job := newDocumentFixture()
	store.claimErr = domain.ErrJobNotFound

	outcome := job.Handle(t.Context(), documentWork())
	assert.False(t, outcome.Succeeded())
	assert.False(t, outcome.Transient())
	assert.Empty(t, store.retrying)
	assert.Empty(t, store.failed)
}

func TestDocumentHandle_AlreadyClaimedSkips(t *testing.T) {
	store, files, pub, job := newDocumentFixture()
	store.claimErr = fmt.Errorf("%w: status is processing", domain.ErrAlreadyClaimed)
	files.data = nil

	outcome := job.Handle(t.Context(), documentWork())
	require.True(t, outcome.Succeeded())
	assert.Equal(t, "already claimed", outcome.Result()["skipped"])
	assert.Empty(t, pub.keys())
}

func TestDocumentHandle_DownloadFailureRetries(t *testing.T) {
	store, files, _, job := newDocumentFixture()
	files.err = errors.New("connection reset")

	outcome := job.Handle(t.Context(), documentWork())
	assert.True(t, outcome.Transient())
	require.Len(t, store.retrying, 1)
	assert.Contains(t, store.retrying[0], "connection reset")
	assert.Empty(t, store.failed)
}

func TestDocumentHandle_RetriesExhausted(t *testing.T) {
	store, files, _, job := newDocumentFixture()
	files.err = errors.New("connection reset")

	msg := documentWork()
	msg.RetryCount = 3

	outcome := job.Handle(t.Context(), msg)
	assert.True(t, outcome.Transient())
	assert.Empty(t, store.retrying)
	require.Len(t, store.failed, 1)
}

func TestDocumentHandle_BinaryDocumentFails(t *testing.T) {
	store, files, _, job := newDocumentFixture()
	files.data["users/user-1/abc/ideas.md"] = []byte("PK\x03\x04\x00")

	outcome := job.Handle(t.Context(), documentWork())
	assert.False(t, outcome.Succeeded())
	assert.False(t, outcome.Transient())

	require.Len(t, store.failed, 1)
	assert.Contains(t, store.failed[0], "unsupported file format")
	assert.Nil(t, store.saved)
}

func TestDocumentHandle_SaveFailureRetries(t *testing.T) {
	store, _, _, job := newDocumentFixture()
	store.saveErr = errors.New("deadlock detected")

	outcome := job.Handle(t.Context(), documentWork())
	assert.True(t, outcome.Transient())
	require.Len(t, store.retrying, 1)
}

func TestDocumentHandle_StrategyEventLossTolerated(t *testing.T) {
	store, _, pub, job := newDocumentFixture()
	pub.err = errors.New("channel closed")

	outcome := job.Handle(t.Context(), documentWork())
	require.True(t, outcome.Succeeded())
	require.NotNil(t, store.saved)
}
