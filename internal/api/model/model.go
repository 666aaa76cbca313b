package model

import "time"

type Document struct {
	DocumentID     string     `db:"document_id"`
	UserID         string     `db:"user_id"`
	Filename       string     `db:"filename"`
	FileKey        string     `db:"file_key"`
	ContentType    string     `db:"content_type"`
	SizeBytes      int64      `db:"size_bytes"`
	ProcessingType string     `db:"processing_type"`
	Status         string     `db:"status"`
	ExtractedText  *string    `db:"extracted_text"`
	Error          *string    `db:"error"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	HeartbeatAt    *time.Time `db:"heartbeat_at"`
}

type Strategy struct {
	StrategyID  string    `db:"strategy_id"`
	DocumentID  string    `db:"document_id"`
	UserID      string    `db:"user_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Params      string    `db:"params"`
	CreatedAt   time.Time `db:"created_at"`
}

type Backtest struct {
	BacktestID       string     `db:"backtest_id"`
	UserID           string     `db:"user_id"`
	StrategyID       string     `db:"strategy_id"`
	Status           string     `db:"status"`
	Params           string     `db:"params"`
	Result           *string    `db:"result"`
	Error            *string    `db:"error"`
	ProcessingTimeMs *int64     `db:"processing_time_ms"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	HeartbeatAt      *time.Time `db:"heartbeat_at"`
}
