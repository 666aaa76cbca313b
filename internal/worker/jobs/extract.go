package jobs

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/stratlab/stratlab-be/internal/worker/domain"
)

// Documents with more strategy blocks than this are truncated rather
// than rejected.
const maxStrategiesPerDocument = 20

var (
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	// A strategy block starts with a line like "Strategy: Golden Cross"
	// or "## Strategy - Mean Reversion".
	strategyHeading = regexp.MustCompile(`(?i)^(?:#{1,6}\s*)?strategy\s*[:\-]\s*(\S.*)$`)

	// Parameters are "name: value" or bullet "- name = value" lines
	// with a numeric value, optionally a percentage.
	strategyParam = regexp.MustCompile(`^\s*[-*]?\s*([A-Za-z][A-Za-z0-9_ ]*?)\s*[:=]\s*(-?\d+(?:\.\d+)?)\s*(%?)\s*$`)
)

// ExtractText decodes document bytes into normalized plain text.
// Returns ErrUnsupportedFormat for binary content and ErrEmptyDocument
// when nothing remains after normalization.
func ExtractText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", domain.ErrUnsupportedFormat
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyDocument
	}
	return text, nil
}

// ParsedStrategy is one trading strategy description found in a
// document.
type ParsedStrategy struct {
	Name        string
	Description string
	Params      map[string]float64
}

// ParseStrategies scans extracted text for strategy blocks. A block is
// opened by a strategy heading and collects a free-text description and
// numeric parameters until the next heading. Percent values are scaled
// to fractions.
func ParseStrategies(text string) []ParsedStrategy {
	var (
		strategies []ParsedStrategy
		current    *ParsedStrategy
	)

	flush := func() {
		if current != nil && len(strategies) < maxStrategiesPerDocument {
			strategies = append(strategies, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if m := strategyHeading.FindStringSubmatch(line); m != nil {
			flush()
			current = &ParsedStrategy{
				Name:   strings.TrimSpace(m[1]),
				Params: make(map[string]float64),
			}
			continue
		}

		if current == nil {
			continue
		}

		if m := strategyParam.FindStringSubmatch(line); m != nil {
			value, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			if m[3] == "%" {
				value /= 100
			}
			current.Params[paramKey(m[1])] = value
			continue
		}

		if current.Description == "" {
			if desc := strings.TrimSpace(line); desc != "" {
				current.Description = desc
			}
		}
	}
	flush()

	return strategies
}

func paramKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(key, " ", "_")
}
