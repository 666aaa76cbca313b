package domain

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRetrying   = "retrying"
)

const (
	ProcessingTypeText     = "text_extraction"
	ProcessingTypeStrategy = "strategy_extraction"
)
