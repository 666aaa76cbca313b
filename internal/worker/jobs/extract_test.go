package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratlab/stratlab-be/internal/worker/domain"
)

func TestExtractText(t *testing.T) {
	text, err := ExtractText([]byte("Strategy: Test\r\nfast: 10\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "Strategy: Test\nfast: 10", text)
}

func TestExtractText_StripsBOM(t *testing.T) {
	text, err := ExtractText([]byte{0xEF, 0xBB, 0xBF, 'h', 'i'})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestExtractText_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"invalid utf8", []byte{0xFF, 0xFE, 0x00, 0x01}, domain.ErrUnsupportedFormat},
		{"nul bytes", []byte("PK\x03\x04\x00binary"), domain.ErrUnsupportedFormat},
		{"empty", []byte{}, domain.ErrEmptyDocument},
		{"whitespace only", []byte("  \n\t\r\n  "), domain.ErrEmptyDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractText(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseStrategies(t *testing.T) {
	text := `Notes from the research meeting.

Strategy: Golden Cross
Buy when the fast moving average crosses above the slow one.
- fast period: 50
- slow period = 200
- allocation: 25%

## Strategy - Mean Reversion
Fade moves beyond two standard deviations.
lookback: 20
threshold: 2.5
`

	strategies := ParseStrategies(text)
	require.Len(t, strategies, 2)

	golden := strategies[0]
	assert.Equal(t, "Golden Cross", golden.Name)
	assert.Equal(t, "Buy when the fast moving average crosses above the slow one.", golden.Description)
	assert.Equal(t, map[string]float64{
		"fast_period": 50,
		"slow_period": 200,
		"allocation":  0.25,
	}, golden.Params)

	reversion := strategies[1]
	assert.Equal(t, "Mean Reversion", reversion.Name)
	assert.Equal(t, "Fade moves beyond two standard deviations.", reversion.Description)
	assert.Equal(t, map[string]float64{
		"lookback":  20,
		"threshold": 2.5,
	}, reversion.Params)
}

func TestParseStrategies_NoHeadings(t *testing.T) {
	strategies := ParseStrategies("Just some prose.\nfast: 10\n")
	assert.Empty(t, strategies)
}

func TestParseStrategies_ParamsOutsideBlockIgnored(t *testing.T) {
	text := "fast: 10\n\nStrategy: Breakout\nwindow: 55\n"

	strategies := ParseStrategies(text)
	require.Len(t, strategies, 1)
	assert.Equal(t, map[string]float64{"window": 55}, strategies[0].Params)
}

func TestParseStrategies_CapsCount(t *testing.T) {
	var b []byte
	for range maxStrategiesPerDocument + 5 {
		b = append(b, "Strategy: repeat\n"...)
	}

	strategies := ParseStrategies(string(b))
	assert.Len(t, strategies, maxStrategiesPerDocument)
}
