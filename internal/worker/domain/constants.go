package domain

// Job status values, shared by the documents and backtests tables.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRetrying   = "retrying"
)

// Document processing types.
const (
	ProcessingTypeText     = "text_extraction"
	ProcessingTypeStrategy = "strategy_extraction"
)
