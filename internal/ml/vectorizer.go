package ml

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// stopWords are excluded from the vocabulary.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "his": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "she": {}, "that": {}, "the": {},
	"their": {}, "there": {}, "they": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "which": {}, "will": {}, "with": {}, "you": {},
}

// Vectorizer builds TF-IDF vectors over a bounded vocabulary.
type Vectorizer struct {
	maxFeatures int
	vocab       []string
	index       map[string]int
	idf         []float64
}

// NewVectorizer creates a vectorizer keeping at most maxFeatures terms
// (1000 if <= 0), selected by document frequency.
func NewVectorizer(maxFeatures int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = 1000
	}
	return &Vectorizer{maxFeatures: maxFeatures}
}

// Vocabulary returns the fitted terms in index order.
func (v *Vectorizer) Vocabulary() []string {
	return v.vocab
}

// FitTransform learns the vocabulary and IDF weights from texts and returns
// one TF-IDF vector per text. Documents are transformed concurrently.
func (v *Vectorizer) FitTransform(ctx context.Context, texts []string) ([][]float64, error) {
	tokenized := make([][]string, len(texts))
	for i, t := range texts {
		tokenized[i] = tokenize(t)
	}

	v.fit(tokenized)

	vectors := make([][]float64, len(texts))
	g, _ := errgroup.WithContext(ctx)
	for i := range tokenized {
		g.Go(func() error {
			vectors[i] = v.transform(tokenized[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (v *Vectorizer) fit(tokenized [][]string) {
	// Document frequency per term.
	df := make(map[string]int)
	for _, tokens := range tokenized {
		seen := make(map[string]struct{})
		for _, tok := range tokens {
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if df[terms[i]] != df[terms[j]] {
			return df[terms[i]] > df[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > v.maxFeatures {
		terms = terms[:v.maxFeatures]
	}

	v.vocab = terms
	v.index = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	n := float64(len(tokenized))
	for i, term := range terms {
		v.index[term] = i
		// Smoothed inverse document frequency.
		v.idf[i] = math.Log(n/(1+float64(df[term]))) + 1
	}
}

func (v *Vectorizer) transform(tokens []string) []float64 {
	vec := make([]float64, len(v.vocab))
	if len(tokens) == 0 {
		return vec
	}
	for _, tok := range tokens {
		if i, ok := v.index[tok]; ok {
			vec[i]++
		}
	}
	for i := range vec {
		vec[i] = vec[i] / float64(len(tokens)) * v.idf[i]
	}
	return vec
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
