package domain

import (
	"errors"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrBacktestNotFound = errors.New("backtest not found")
	ErrStrategyNotFound = errors.New("strategy not found")
)
