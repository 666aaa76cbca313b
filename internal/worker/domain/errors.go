package domain

import "errors"

var (
	// ErrJobNotFound is returned when a work message references a row
	// that does not exist
	ErrJobNotFound = errors.New("job row not found")

	// ErrAlreadyClaimed is returned when the row is not in a claimable
	// status, usually because another delivery of the same message got
	// there first
	ErrAlreadyClaimed = errors.New("job already claimed or finished")

	// ErrStrategyNotFound is returned when a backtest references a
	// strategy that does not exist
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrUnsupportedFormat is returned when document content is not
	// decodable text
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyDocument is returned when a document contains no
	// extractable text
	ErrEmptyDocument = errors.New("document contains no extractable text")
)
