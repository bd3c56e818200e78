package evaluation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func wordsOfLength(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "detail"
	}
	return strings.Join(words, " ")
}

func TestCountWords_IgnoresPunctuation(t *testing.T) {
	count := CountWords("Nick built three services: ingest, search, and billing!")
	assert.Equal(t, 8, count)
}

func TestCountWords_Empty(t *testing.T) {
	assert.Zero(t, CountWords(""))
}

func TestConcisenessScore_Bands(t *testing.T) {
	tests := []struct {
		name      string
		wordCount int
		expected  float64
	}{
		{"too short", 5, 1},
		{"below target", 30, 3},
		{"target band low edge", 50, 5},
		{"target band", 100, 5},
		{"target band high edge", 150, 5},
		{"long but acceptable", 180, 4},
		{"too long", 250, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConcisenessScore(tt.wordCount))
		})
	}
}

func TestConcisenessScore_PrefersTargetBandOverRamble(t *testing.T) {
	focused := ConcisenessScore(CountWords(wordsOfLength(100)))
	rambling := ConcisenessScore(CountWords(wordsOfLength(250)))
	assert.Greater(t, focused, rambling)
}
