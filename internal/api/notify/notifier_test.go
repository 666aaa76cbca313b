package notify

import (
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratlab/stratlab-be/shared/logger"
)

type fakeSender struct {
	mu         sync.Mutex
	sent       []sentPayload
	broadcasts int
	block      chan struct{}
}

type sentPayload struct {
	userID string
	event  Event
}

func (f *fakeSender) SendToUser(userID string, payload []byte) int {
	if f.block != nil {
		<-f.block
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{userID: userID, event: ev})
	return 1
}

func (f *fakeSender) Broadcast(payload []byte) int {
	f.mu.Lock()
	f.broadcasts++
	f.mu.Unlock()
	return f.SendToUser("", payload)
}

func (f *fakeSender) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcasts
}

func (f *fakeSender) sentEvents() []sentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPayload, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 16, logger.NewNop().Logger)

	n.Notify("alice", UploadStarted("doc-1", "report.pdf"))
	n.Notify("alice", UploadCompleted("doc-1", "report.pdf"))
	n.Notify("bob", ProcessingStarted("document", "doc-2"))

	n.Close()

	sent := sender.sentEvents()
	require.Len(t, sent, 3)
	assert.Equal(t, "alice", sent[0].userID)
	assert.Equal(t, TypeUploadStarted, sent[0].event.Type)
	assert.Equal(t, TypeUploadCompleted, sent[1].event.Type)
	assert.Equal(t, "bob", sent[2].userID)
	assert.Equal(t, "doc-2", sent[2].event.Data["job_id"])
}

func TestNotifier_NoAddresseeBroadcasts(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 8, logger.NewNop().Logger)

	n.Notify("", BacktestStatus("bt-1", "failed", "worker lost"))
	n.Close()

	sent := sender.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, TypeBacktestStatus, sent[0].event.Type)
	assert.Equal(t, 1, sender.broadcastCount())
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	sender := &fakeSender{block: block}
	n := NewNotifier(sender, 2, logger.NewNop().Logger)

	// One event occupies the dispatcher, two fill the queue, the rest
	// must be dropped rather than block this goroutine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			n.Notify("alice", ProcessingProgress("document", "doc-1", i*10, "working"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify must never block the caller")
	}

	close(block)
	n.Close()

	// The dispatcher saw at most the in-flight event plus the queue.
	assert.LessOrEqual(t, len(sender.sentEvents()), 3)
	assert.NotEmpty(t, sender.sentEvents())
}

func TestNotifier_CloseDrainsQueue(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 32, logger.NewNop().Logger)

	for i := 0; i < 20; i++ {
		n.Notify("alice", BacktestStatus("bt-1", "failed", "worker lost"))
	}

	n.Close()
	assert.Len(t, sender.sentEvents(), 20)
}

func TestNotifier_NotifyAfterCloseIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 8, logger.NewNop().Logger)

	n.Close()
	n.Notify("alice", UploadStarted("doc-1", "x"))
	n.Close()

	assert.Empty(t, sender.sentEvents())
}

func TestEventConstructors(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		wantType string
		wantData map[string]any
	}{
		{
			name:     "processing failed",
			event:    ProcessingFailed("backtest", "bt-3", "boom"),
			wantType: TypeProcessingFailed,
			wantData: map[string]any{"job_type": "backtest", "job_id": "bt-3", "error": "boom"},
		},
		{
			name:     "strategy extracted",
			event:    StrategyExtracted("doc-1", "st-1", "Golden Cross"),
			wantType: TypeStrategyExtracted,
			wantData: map[string]any{"document_id": "doc-1", "strategy_id": "st-1", "name": "Golden Cross"},
		},
		{
			name:     "processing completed",
			event:    ProcessingCompleted("document", "doc-1", map[string]any{"strategies": 2}),
			wantType: TypeProcessingComplete,
			wantData: map[string]any{"job_type": "document", "job_id": "doc-1", "result": map[string]any{"strategies": 2}},
		},
		{
			name:     "retrying",
			event:    ProcessingRetrying("document", "doc-1", "attempt 2"),
			wantType: TypeProcessingRetrying,
			wantData: map[string]any{"job_type": "document", "job_id": "doc-1", "message": "attempt 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.event.Type)
			assert.Equal(t, tt.wantData, tt.event.Data)

			ts, err := time.Parse(time.RFC3339, tt.event.Timestamp)
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
		})
	}
}
