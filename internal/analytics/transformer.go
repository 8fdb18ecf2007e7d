// Package analytics computes lexical statistics, a lexicon-based sentiment
// score, and engineered features from extracted document text.
package analytics

import (
	"strings"
)

// Summary holds the basic text analytics for one document.
type Summary struct {
	WordCount        int     `json:"word_count"`
	CharCount        int     `json:"char_count"`
	SentenceCount    int     `json:"sentence_count"`
	SentimentScore   float64 `json:"sentiment_score"`
	ReadabilityScore float64 `json:"readability_score"`
}

// Fixed sentiment lexicons. The score is a hit ratio, not a trained model.
var (
	positiveWords = map[string]struct{}{
		"good": {}, "great": {}, "excellent": {}, "amazing": {}, "wonderful": {},
	}
	negativeWords = map[string]struct{}{
		"bad": {}, "terrible": {}, "awful": {}, "horrible": {}, "poor": {},
	}
)

// Analyze computes word, character, and sentence counts, the sentiment score,
// and the readability score for the given text.
//
// Counting is deliberately naive: words split on whitespace, sentences are
// the non-blank substrings between periods. The readability score is the toy
// proxy max(0, 100 - avg words per sentence), not a standard formula.
func Analyze(text string) Summary {
	words := strings.Fields(text)
	wordCount := len(words)

	sentenceCount := 0
	for _, s := range strings.Split(text, ".") {
		if strings.TrimSpace(s) != "" {
			sentenceCount++
		}
	}

	positive := 0
	negative := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if _, ok := positiveWords[w]; ok {
			positive++
		}
		if _, ok := negativeWords[w]; ok {
			negative++
		}
	}

	denom := wordCount
	if denom < 1 {
		denom = 1
	}
	sentiment := float64(positive-negative) / float64(denom)

	return Summary{
		WordCount:        wordCount,
		CharCount:        len(text),
		SentenceCount:    sentenceCount,
		SentimentScore:   sentiment,
		ReadabilityScore: readability(wordCount, sentenceCount),
	}
}

func readability(wordCount, sentenceCount int) float64 {
	if wordCount == 0 || sentenceCount == 0 {
		return 0
	}
	avgSentenceLength := float64(wordCount) / float64(sentenceCount)
	score := 100 - avgSentenceLength
	if score < 0 {
		return 0
	}
	return score
}
