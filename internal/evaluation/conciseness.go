package evaluation

import (
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"
)

// CountWords tokenizes the answer and counts word tokens, so punctuation
// and symbols do not inflate the count. Falls back to whitespace splitting
// if tokenization fails.
func CountWords(text string) int {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return len(strings.Fields(text))
	}

	count := 0
	for _, tok := range doc.Tokens() {
		if isWord(tok.Text) {
			count++
		}
	}
	return count
}

func isWord(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// ConcisenessScore maps a word count onto the raw 1-5 band used by the
// judged criteria. 50-150 words is the target band; very short and very
// long answers score low. No model call, fully reproducible.
func ConcisenessScore(wordCount int) float64 {
	switch {
	case wordCount < 20:
		return 1
	case wordCount > 200:
		return 2
	case wordCount >= 50 && wordCount <= 150:
		return 5
	case wordCount > 150:
		return 4
	default:
		return 3
	}
}
