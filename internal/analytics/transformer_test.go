package analytics

import (
	"math"
	"testing"
)

func TestAnalyzeCounts(t *testing.T) {
	got := Analyze("One two three. Four five. ")
	if got.WordCount != 5 {
		t.Errorf("WordCount = %d, want 5", got.WordCount)
	}
	if got.CharCount != 26 {
		t.Errorf("CharCount = %d, want 26", got.CharCount)
	}
	if got.SentenceCount != 2 {
		t.Errorf("SentenceCount = %d, want 2", got.SentenceCount)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	got := Analyze("")
	if got.WordCount != 0 || got.CharCount != 0 || got.SentenceCount != 0 {
		t.Errorf("counts = %+v, want zeros", got)
	}
	if got.SentimentScore != 0 {
		t.Errorf("SentimentScore = %v, want 0", got.SentimentScore)
	}
	if got.ReadabilityScore != 0 {
		t.Errorf("ReadabilityScore = %v, want 0", got.ReadabilityScore)
	}
}

func TestSentimentNeutralWithoutLexiconHits(t *testing.T) {
	got := Analyze("the quick brown fox jumps over the lazy dog repeatedly and often")
	if got.SentimentScore != 0 {
		t.Errorf("SentimentScore = %v, want 0 for text with no lexicon words", got.SentimentScore)
	}
}

func TestSentimentSigns(t *testing.T) {
	pos := Analyze("good good great")
	if pos.SentimentScore <= 0 {
		t.Errorf("positive text: SentimentScore = %v, want > 0", pos.SentimentScore)
	}
	if math.Abs(pos.SentimentScore-1.0) > 1e-9 {
		t.Errorf("SentimentScore = %v, want 1.0 (3 hits / 3 words)", pos.SentimentScore)
	}

	neg := Analyze("bad bad terrible")
	if neg.SentimentScore >= 0 {
		t.Errorf("negative text: SentimentScore = %v, want < 0", neg.SentimentScore)
	}

	mixed := Analyze("good bad")
	if mixed.SentimentScore != 0 {
		t.Errorf("mixed text: SentimentScore = %v, want 0", mixed.SentimentScore)
	}
}

func TestSentimentCaseInsensitive(t *testing.T) {
	got := Analyze("GOOD Great")
	if got.SentimentScore != 1.0 {
		t.Errorf("SentimentScore = %v, want 1.0", got.SentimentScore)
	}
}

func TestReadability(t *testing.T) {
	// 4 words over 2 sentences: 100 - 2 = 98.
	got := Analyze("one two. three four.")
	if math.Abs(got.ReadabilityScore-98) > 1e-9 {
		t.Errorf("ReadabilityScore = %v, want 98", got.ReadabilityScore)
	}
}

func TestReadabilityFloorsAtZero(t *testing.T) {
	// 120 words, one sentence: 100 - 120 clamps to 0.
	text := ""
	for i := 0; i < 120; i++ {
		text += "word "
	}
	text += "."
	got := Analyze(text)
	if got.ReadabilityScore != 0 {
		t.Errorf("ReadabilityScore = %v, want 0", got.ReadabilityScore)
	}
}

func TestExtractFeatures(t *testing.T) {
	f := ExtractFeatures("Hello World 42!")
	if !f.HasDigits {
		t.Error("HasDigits = false, want true")
	}
	if !f.HasSpecialChars {
		t.Error("HasSpecialChars = false, want true")
	}
	// Words: "Hello"(5) "World"(5) "42!"(3) -> 13/3.
	if math.Abs(f.AvgWordLength-13.0/3.0) > 1e-9 {
		t.Errorf("AvgWordLength = %v, want %v", f.AvgWordLength, 13.0/3.0)
	}
	// 2 capitals over 15 runes.
	if math.Abs(f.CapitalRatio-2.0/15.0) > 1e-9 {
		t.Errorf("CapitalRatio = %v, want %v", f.CapitalRatio, 2.0/15.0)
	}
}

func TestExtractFeaturesEmpty(t *testing.T) {
	f := ExtractFeatures("")
	if f.HasDigits || f.HasSpecialChars || f.AvgWordLength != 0 || f.CapitalRatio != 0 {
		t.Errorf("features = %+v, want zero value", f)
	}
}

func TestFeatureVectorOrder(t *testing.T) {
	f := Features{HasDigits: true, AvgWordLength: 4.5, CapitalRatio: 0.1}
	v := f.Vector()
	want := []float64{1, 0, 4.5, 0.1}
	for i := range want {
		if v[i] != want[i] {
			t.Errorf("Vector()[%d] = %v, want %v", i, v[i], want[i])
		}
	}
}
