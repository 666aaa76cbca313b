package notify

import (
	"time"
)

const (
	TypeUploadStarted      = "upload.started"
	TypeUploadCompleted    = "upload.completed"
	TypeProcessingStarted  = "processing.started"
	TypeProcessingProgress = "processing.progress"
	TypeProcessingComplete = "processing.completed"
	TypeProcessingFailed   = "processing.failed"
	TypeProcessingRetrying = "processing.retrying"
	TypeStrategyExtracted  = "strategy.extracted"
	TypeBacktestStatus     = "backtest.status"
)

// Event is the envelope pushed to WebSocket clients.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func newEvent(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}

func UploadStarted(documentID, filename string) Event {
	return newEvent(TypeUploadStarted, map[string]any{
		"document_id": documentID,
		"filename":    filename,
	})
}

func UploadCompleted(documentID, filename string) Event {
	return newEvent(TypeUploadCompleted, map[string]any{
		"document_id": documentID,
		"filename":    filename,
	})
}

func ProcessingStarted(jobType, jobID string) Event {
	return newEvent(TypeProcessingStarted, map[string]any{
		"job_type": jobType,
		"job_id":   jobID,
	})
}

func ProcessingProgress(jobType, jobID string, progress int, message string) Event {
	return newEvent(TypeProcessingProgress, map[string]any{
		"job_type": jobType,
		"job_id":   jobID,
		"progress": progress,
		"message":  message,
	})
}

func ProcessingCompleted(jobType, jobID string, result map[string]any) Event {
	return newEvent(TypeProcessingComplete, map[string]any{
		"job_type": jobType,
		"job_id":   jobID,
		"result":   result,
	})
}

func ProcessingFailed(jobType, jobID, errMsg string) Event {
	return newEvent(TypeProcessingFailed, map[string]any{
		"job_type": jobType,
		"job_id":   jobID,
		"error":    errMsg,
	})
}

func ProcessingRetrying(jobType, jobID, message string) Event {
	return newEvent(TypeProcessingRetrying, map[string]any{
		"job_type": jobType,
		"job_id":   jobID,
		"message":  message,
	})
}

func StrategyExtracted(documentID, strategyID, name string) Event {
	return newEvent(TypeStrategyExtracted, map[string]any{
		"document_id": documentID,
		"strategy_id": strategyID,
		"name":        name,
	})
}

func BacktestStatus(backtestID, status, message string) Event {
	return newEvent(TypeBacktestStatus, map[string]any{
		"backtest_id": backtestID,
		"status":      status,
		"message":     message,
	})
}
