package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Work message kinds. The kind doubles as the routing key the message
// is published under.
const (
	KindDocumentProcess = "document.process"
	KindBacktestExecute = "backtest.execute"
)

// Result phases. Combined with the kind's subject they form event
// routing keys, e.g. "document.completed" or "backtest.failed".
const (
	PhaseStarted   = "started"
	PhaseProgress  = "progress"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseRetrying  = "retrying"
)

// KeyStrategyExtracted is the routing key for the event published when
// a strategy definition has been extracted from a document.
const KeyStrategyExtracted = "strategy.extracted"

// Status is the lifecycle state carried by result messages.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// Envelope carries the attributes common to every message on the wire.
// MessageID is assigned once at construction and never changes, even
// when the message is republished for a retry. RetryCount is mutated
// only by the consumer. Metadata is an open map reserved for attributes
// that are genuinely extensible; anything a consumer branches on
// belongs in a typed field instead.
type Envelope struct {
	MessageID     string         `json:"message_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	RetryCount    int            `json:"retry_count"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEnvelope creates an envelope with a fresh message id and a UTC
// timestamp.
func NewEnvelope() Envelope {
	return Envelope{
		MessageID: uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
}

// ID returns the message id.
func (e Envelope) ID() string { return e.MessageID }

// Correlation returns the correlation id, empty when unset.
func (e Envelope) Correlation() string { return e.CorrelationID }

// Message is anything that can be published.
type Message interface {
	ID() string
	Correlation() string
	Validate() error
}

// DocumentPayload identifies a stored document to process.
type DocumentPayload struct {
	DocumentID     string `json:"document_id"`
	UserID         string `json:"user_id"`
	FileKey        string `json:"file_key"`
	ProcessingType string `json:"processing_type,omitempty"`
}

// BacktestPayload identifies a backtest to execute.
type BacktestPayload struct {
	BacktestID string `json:"backtest_id"`
	UserID     string `json:"user_id"`
	StrategyID string `json:"strategy_id"`
}

// WorkMessage instructs a worker to perform one job. Exactly one of
// Document or Backtest is set, matching Kind. Params carries job
// parameters the worker passes through to the job runner.
type WorkMessage struct {
	Envelope
	Kind     string           `json:"kind"`
	Document *DocumentPayload `json:"document,omitempty"`
	Backtest *BacktestPayload `json:"backtest,omitempty"`
	Params   map[string]any   `json:"params,omitempty"`
}

// NewDocumentWork creates a work message for document processing.
func NewDocumentWork(payload DocumentPayload, params map[string]any) *WorkMessage {
	return &WorkMessage{
		Envelope: NewEnvelope(),
		Kind:     KindDocumentProcess,
		Document: &payload,
		Params:   params,
	}
}

// NewBacktestWork creates a work message for backtest execution.
func NewBacktestWork(payload BacktestPayload, params map[string]any) *WorkMessage {
	return &WorkMessage{
		Envelope: NewEnvelope(),
		Kind:     KindBacktestExecute,
		Backtest: &payload,
		Params:   params,
	}
}

// Subject returns the id of the entity the work concerns and the id of
// the user who owns it.
func (m *WorkMessage) Subject() (subjectID, userID string) {
	switch {
	case m.Document != nil:
		return m.Document.DocumentID, m.Document.UserID
	case m.Backtest != nil:
		return m.Backtest.BacktestID, m.Backtest.UserID
	}
	return "", ""
}

// RetryCopy returns a copy of the message with the retry counter
// incremented. Identity and correlation are preserved, so the copy is
// the same logical message on its next delivery attempt.
func (m *WorkMessage) RetryCopy() *WorkMessage {
	cp := *m
	cp.RetryCount++
	return &cp
}

// Validate checks the envelope and the kind/payload pairing.
func (m *WorkMessage) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("work message: missing message_id")
	}
	if m.RetryCount < 0 {
		return fmt.Errorf("work message: negative retry_count %d", m.RetryCount)
	}

	switch m.Kind {
	case KindDocumentProcess:
		if m.Document == nil || m.Backtest != nil {
			return fmt.Errorf("work message %s: kind %s requires exactly the document payload", m.MessageID, m.Kind)
		}
		if m.Document.DocumentID == "" || m.Document.UserID == "" || m.Document.FileKey == "" {
			return fmt.Errorf("work message %s: incomplete document payload", m.MessageID)
		}
	case KindBacktestExecute:
		if m.Backtest == nil || m.Document != nil {
			return fmt.Errorf("work message %s: kind %s requires exactly the backtest payload", m.MessageID, m.Kind)
		}
		if m.Backtest.BacktestID == "" || m.Backtest.UserID == "" || m.Backtest.StrategyID == "" {
			return fmt.Errorf("work message %s: incomplete backtest payload", m.MessageID)
		}
	default:
		return fmt.Errorf("work message %s: unknown kind %q", m.MessageID, m.Kind)
	}

	return nil
}

// ResultMessage reports the outcome or progress of a work message.
// Completed results carry Result and no Error; failed results carry
// Error and no Result.
type ResultMessage struct {
	Envelope
	Kind             string         `json:"kind"`
	SubjectID        string         `json:"subject_id"`
	UserID           string         `json:"user_id,omitempty"`
	Status           Status         `json:"status"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	Progress         int            `json:"progress,omitempty"`
	Message          string         `json:"message,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms,omitempty"`
}

// newResult builds the shared parts of a result for a work message.
func newResult(origin *WorkMessage, status Status) *ResultMessage {
	env := NewEnvelope()
	env.CorrelationID = origin.MessageID

	subjectID, userID := origin.Subject()
	return &ResultMessage{
		Envelope:  env,
		Kind:      origin.Kind,
		SubjectID: subjectID,
		UserID:    userID,
		Status:    status,
	}
}

// NewStartedResult reports that processing of the work has begun.
func NewStartedResult(origin *WorkMessage) *ResultMessage {
	return newResult(origin, StatusProcessing)
}

// NewProgressResult reports intermediate progress, 0-100, with a human
// readable message.
func NewProgressResult(origin *WorkMessage, progress int, message string) *ResultMessage {
	r := newResult(origin, StatusProcessing)
	r.Progress = progress
	r.Message = message
	return r
}

// NewCompletedResult reports success with a result summary.
func NewCompletedResult(origin *WorkMessage, result map[string]any, elapsed time.Duration) *ResultMessage {
	r := newResult(origin, StatusCompleted)
	r.Result = result
	r.ProcessingTimeMs = elapsed.Milliseconds()
	return r
}

// NewFailedResult reports terminal failure with a reason.
func NewFailedResult(origin *WorkMessage, reason string, elapsed time.Duration) *ResultMessage {
	r := newResult(origin, StatusFailed)
	r.Error = reason
	r.ProcessingTimeMs = elapsed.Milliseconds()
	return r
}

// NewRetryingResult reports that the work failed transiently and has
// been scheduled for another attempt.
func NewRetryingResult(origin *WorkMessage, reason string) *ResultMessage {
	r := newResult(origin, StatusRetrying)
	r.Message = reason
	return r
}

// NewStrategyExtractedResult announces one strategy parsed out of a
// document while its processing is still underway.
func NewStrategyExtractedResult(origin *WorkMessage, strategyID, name string) *ResultMessage {
	r := newResult(origin, StatusProcessing)
	r.Result = map[string]any{
		"strategy_id": strategyID,
		"name":        name,
	}
	return r
}

// Validate checks the envelope and the status/result pairing.
func (m *ResultMessage) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("result message: missing message_id")
	}
	if m.RetryCount < 0 {
		return fmt.Errorf("result message: negative retry_count %d", m.RetryCount)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("result message %s: unknown status %q", m.MessageID, m.Status)
	}

	switch m.Status {
	case StatusCompleted:
		if m.Result == nil {
			return fmt.Errorf("result message %s: completed status requires a result", m.MessageID)
		}
		if m.Error != "" {
			return fmt.Errorf("result message %s: completed status must not carry an error", m.MessageID)
		}
	case StatusFailed:
		if m.Error == "" {
			return fmt.Errorf("result message %s: failed status requires an error", m.MessageID)
		}
		if m.Result != nil {
			return fmt.Errorf("result message %s: failed status must not carry a result", m.MessageID)
		}
	}

	if m.Progress < 0 || m.Progress > 100 {
		return fmt.Errorf("result message %s: progress %d out of range", m.MessageID, m.Progress)
	}

	return nil
}

// EventKey builds the routing key for a result phase of a kind:
// EventKey("document.process", PhaseCompleted) is "document.completed".
func EventKey(kind, phase string) string {
	subject, _, found := strings.Cut(kind, ".")
	if !found {
		subject = kind
	}
	return subject + "." + phase
}

// Encode validates and marshals a message for the wire.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// DecodeWork unmarshals and validates a work message.
func DecodeWork(data []byte) (*WorkMessage, error) {
	var msg WorkMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal work message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeResult unmarshals and validates a result message.
func DecodeResult(data []byte) (*ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
