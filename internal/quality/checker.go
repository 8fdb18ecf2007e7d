// Package quality scores extracted documents against five independent
// data-quality dimensions. Thresholds are fixed policy constants carried over
// from the original scoring rules; they are deliberately not configurable.
package quality

import (
	"strings"
)

// Status is the closed set of quality labels.
type Status string

const (
	StatusGood   Status = "good"
	StatusFair   Status = "fair"
	StatusPoor   Status = "poor"
	StatusFailed Status = "failed"
)

// Check is the closed set of quality dimensions.
type Check string

const (
	CheckCompleteness Check = "completeness"
	CheckValidity     Check = "validity"
	CheckConsistency  Check = "consistency"
	CheckUniqueness   Check = "uniqueness"
	CheckAccuracy     Check = "accuracy"

	// CheckError is the single entry of a degraded report. Its presence means
	// the document could not be scored at all, as opposed to scoring poorly.
	CheckError Check = "error"
)

// Result is one scored dimension: a value in [0,1] and a status label.
type Result struct {
	Value  float64
	Status Status
}

// Report maps each check to its result. A degraded report contains exactly
// the CheckError entry.
type Report map[Check]Result

// Failed reports whether the check set degraded to the error entry.
// Callers must treat a failed report as "quality unknown", not retryable.
func (r Report) Failed() bool {
	_, ok := r[CheckError]
	return ok
}

// Input is the document-shaped record the checker scores.
type Input struct {
	Text        string
	FileType    string
	ContentType string
}

// maxValidLength is the oversized-document guard. Strictly-greater comparison:
// a document of exactly this length passes.
const maxValidLength = 1_000_000

var corruptionMarkers = []string{"�", "NULL", "undefined"}

// Checker scores documents. Each check degrades gracefully rather than
// erroring; an internal panic collapses the whole report to CheckError.
type Checker struct{}

func NewChecker() *Checker {
	return &Checker{}
}

// Check runs all five quality dimensions against the document.
func (c *Checker) Check(in Input) (report Report) {
	defer func() {
		if recover() != nil {
			report = Report{CheckError: {Value: 0, Status: StatusFailed}}
		}
	}()

	report = Report{
		CheckCompleteness: checkCompleteness(in.Text),
		CheckValidity:     checkValidity(in.Text),
		CheckConsistency:  checkConsistency(in.FileType, in.ContentType),
		CheckUniqueness:   checkUniqueness(in.Text),
		CheckAccuracy:     checkAccuracy(),
	}
	return report
}

func checkCompleteness(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Value: 0, Status: StatusFailed}
	}

	wordCount := len(strings.Fields(text))
	switch {
	case wordCount < 10:
		return Result{Value: 0.3, Status: StatusPoor}
	case wordCount < 50:
		return Result{Value: 0.6, Status: StatusFair}
	default:
		return Result{Value: 0.9, Status: StatusGood}
	}
}

func checkValidity(text string) Result {
	if len(text) > maxValidLength {
		return Result{Value: 0.2, Status: StatusPoor}
	}

	invalidCount := 0
	for _, marker := range corruptionMarkers {
		invalidCount += strings.Count(text, marker)
	}

	wordCount := len(strings.Fields(text))
	if wordCount < 1 {
		wordCount = 1
	}

	score := 1 - float64(invalidCount)/float64(wordCount)
	if score < 0 {
		score = 0
	}

	status := StatusPoor
	if score > 0.8 {
		status = StatusGood
	}
	return Result{Value: score, Status: status}
}

func checkConsistency(fileType, contentType string) Result {
	if fileType != contentType {
		return Result{Value: 0.5, Status: StatusFair}
	}
	return Result{Value: 0.9, Status: StatusGood}
}

func checkUniqueness(text string) Result {
	words := strings.Fields(text)
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}

	total := len(words)
	if total < 1 {
		total = 1
	}
	ratio := float64(len(unique)) / float64(total)

	status := StatusFair
	if ratio > 0.7 {
		status = StatusGood
	}
	return Result{Value: ratio, Status: status}
}

// checkAccuracy is a fixed placeholder: there is no external validation
// source to score against.
func checkAccuracy() Result {
	return Result{Value: 0.8, Status: StatusGood}
}
