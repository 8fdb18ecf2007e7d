package analytics

import (
	"strings"
	"unicode"
)

// Features are the engineered inputs for anomaly detection. They are
// independent of the Summary statistics.
type Features struct {
	HasDigits       bool    `json:"has_numbers"`
	HasSpecialChars bool    `json:"has_special_chars"`
	AvgWordLength   float64 `json:"avg_word_length"`
	CapitalRatio    float64 `json:"capital_ratio"`
}

// ExtractFeatures computes the feature vector for one text.
func ExtractFeatures(text string) Features {
	var f Features

	totalChars := 0
	capitals := 0
	for _, r := range text {
		totalChars++
		if unicode.IsDigit(r) {
			f.HasDigits = true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			f.HasSpecialChars = true
		}
		if unicode.IsUpper(r) {
			capitals++
		}
	}

	words := strings.Fields(text)
	if len(words) > 0 {
		lengthSum := 0
		for _, w := range words {
			lengthSum += len(w)
		}
		f.AvgWordLength = float64(lengthSum) / float64(len(words))
	}

	if totalChars > 0 {
		f.CapitalRatio = float64(capitals) / float64(totalChars)
	}

	return f
}

// Vector returns the features as a float64 slice in a fixed order, for use
// as model input.
func (f Features) Vector() []float64 {
	v := make([]float64, 4)
	if f.HasDigits {
		v[0] = 1
	}
	if f.HasSpecialChars {
		v[1] = 1
	}
	v[2] = f.AvgWordLength
	v[3] = f.CapitalRatio
	return v
}
