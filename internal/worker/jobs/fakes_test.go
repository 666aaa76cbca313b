package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/stratlab/stratlab-be/internal/worker/storage"
	"github.com/stratlab/stratlab-be/shared/messaging"
)

type publishedEvent struct {
	key string
	msg messaging.Message
}

// recordPublisher captures published events in order.
type recordPublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

func (p *recordPublisher) Publish(_ context.Context, routingKey string, msg messaging.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, publishedEvent{key: routingKey, msg: msg})
	return msg.ID(), nil
}

func (p *recordPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.published))
	for i, ev := range p.published {
		keys[i] = ev.key
	}
	return keys
}

type fakeDownloader struct {
	data map[string][]byte
	err  error
}

func (d *fakeDownloader) Download(_ context.Context, key string) ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	data, ok := d.data[key]
	if !ok {
		return nil, fmt.Errorf("no object under key %s", key)
	}
	return data, nil
}

type savedExtraction struct {
	documentID string
	userID     string
	text       string
	strategies []storage.ExtractedStrategy
}

type fakeDocStore struct {
	mu         sync.Mutex
	claim      *storage.ClaimedDocument
	claimErr   error
	heartbeats int
	saved      *savedExtraction
	saveErr    error
	retrying   []string
	failed     []string
}

func (s *fakeDocStore) ClaimDocument(_ context.Context, documentID string) (*storage.ClaimedDocument, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if s.claim == nil || s.claim.DocumentID != documentID {
		return nil, fmt.Errorf("unexpected document %s", documentID)
	}
	return s.claim, nil
}

func (s *fakeDocStore) HeartbeatDocument(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

func (s *fakeDocStore) SaveExtraction(_ context.Context, documentID, userID, text string, strategies []storage.ExtractedStrategy) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &savedExtraction{
		documentID: documentID,
		userID:     userID,
		text:       text,
		strategies: strategies,
	}
	return nil
}

func (s *fakeDocStore) MarkDocumentRetrying(_ context.Context, _, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrying = append(s.retrying, reason)
	return nil
}

func (s *fakeDocStore) MarkDocumentFailed(_ context.Context, _, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, reason)
	return nil
}

type savedResult struct {
	backtestID       string
	result           string
	processingTimeMs int64
}

type fakeBacktestStore struct {
	mu             sync.Mutex
	claim          *storage.ClaimedBacktest
	claimErr       error
	strategyParams string
	strategyErr    error
	heartbeats     int
	saved          *savedResult
	saveErr        error
	retrying       []string
	failed         []string
}

func (s *fakeBacktestStore) ClaimBacktest(_ context.Context, backtestID string) (*storage.ClaimedBacktest, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if s.claim == nil || s.claim.BacktestID != backtestID {
		return nil, fmt.Errorf("unexpected backtest %s", backtestID)
	}
	return s.claim, nil
}

func (s *fakeBacktestStore) GetStrategyParams(_ context.Context, _ string) (string, error) {
	if s.strategyErr != nil {
		return "", s.strategyErr
	}
	return s.strategyParams, nil
}

func (s *fakeBacktestStore) HeartbeatBacktest(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

func (s *fakeBacktestStore) SaveBacktestResult(_ context.Context, backtestID, result string, processingTimeMs int64) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &savedResult{
		backtestID:       backtestID,
		result:           result,
		processingTimeMs: processingTimeMs,
	}
	return nil
}

func (s *fakeBacktestStore) MarkBacktestRetrying(_ context.Context, _, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrying = append(s.retrying, reason)
	return nil
}

func (s *fakeBacktestStore) MarkBacktestFailed(_ context.Context, _, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, reason)
	return nil
}
