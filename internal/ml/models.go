// Package ml trains small off-the-shelf text-mining models over extracted
// document texts: k-means clustering with TF-IDF features, feature-based
// anomaly scoring, and lexicon sentiment labelling.
package ml

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/stat"

	"github.com/kalambet/datamill/internal/analytics"
)

// anomalyThreshold flags documents whose max absolute feature z-score
// exceeds it, roughly matching a 10% contamination assumption.
const anomalyThreshold = 2.5

const topTermsPerCluster = 10

// ClusteringResult describes a trained k-means model over document texts.
type ClusteringResult struct {
	K           int        `json:"k"`
	Assignments []int      `json:"assignments"`
	TopTerms    [][]string `json:"top_terms_per_cluster"`
	Spread      float64    `json:"spread"`
	ModelInfo   string     `json:"model_info"`
}

// AnomalyResult holds per-document anomaly scores and flagged indexes.
type AnomalyResult struct {
	Scores    []float64 `json:"anomaly_scores"`
	Anomalies []int     `json:"anomalies"`
	Threshold float64   `json:"threshold"`
	ModelInfo string    `json:"model_info"`
}

// SentimentResult labels each document positive, negative, or neutral.
type SentimentResult struct {
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
	Positive int       `json:"positive"`
	Negative int       `json:"negative"`
	Neutral  int       `json:"neutral"`
}

// Trainer runs the models. It holds no fitted state between calls.
type Trainer struct {
	logger *slog.Logger
}

func NewTrainer() *Trainer {
	return &Trainer{logger: slog.Default()}
}

// TrainClustering vectorizes texts with TF-IDF and partitions them into k
// clusters. Requires at least k texts.
func (t *Trainer) TrainClustering(ctx context.Context, texts []string, k int) (*ClusteringResult, error) {
	if k < 2 {
		return nil, fmt.Errorf("k must be at least 2, got %d", k)
	}
	if len(texts) < k {
		return nil, fmt.Errorf("need at least %d texts for %d clusters, got %d", k, k, len(texts))
	}

	vectorizer := NewVectorizer(1000)
	vectors, err := vectorizer.FitTransform(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("vectorizing texts: %w", err)
	}

	observations := make(clusters.Observations, len(vectors))
	for i, vec := range vectors {
		observations[i] = clusters.Coordinates(vec)
	}

	km := kmeans.New()
	partition, err := km.Partition(observations, k)
	if err != nil {
		return nil, fmt.Errorf("partitioning into %d clusters: %w", k, err)
	}

	assignments := make([]int, len(observations))
	distances := make([]float64, len(observations))
	for i, obs := range observations {
		nearest := partition.Nearest(obs)
		assignments[i] = nearest
		distances[i] = obs.Distance(partition[nearest].Center)
	}

	topTerms := make([][]string, len(partition))
	for i, cluster := range partition {
		topTerms[i] = topTermsForCenter(cluster.Center, vectorizer.Vocabulary())
	}

	t.logger.Debug("clustering trained", "k", k, "documents", len(texts))

	return &ClusteringResult{
		K:           k,
		Assignments: assignments,
		TopTerms:    topTerms,
		Spread:      stat.Mean(distances, nil),
		ModelInfo:   fmt.Sprintf("KMeans with %d clusters", k),
	}, nil
}

// topTermsForCenter returns the vocabulary terms with the highest weights
// in a cluster center.
func topTermsForCenter(center clusters.Coordinates, vocab []string) []string {
	type weighted struct {
		term   string
		weight float64
	}
	ws := make([]weighted, 0, len(center))
	for i, w := range center {
		if i < len(vocab) && w > 0 {
			ws = append(ws, weighted{term: vocab[i], weight: w})
		}
	}
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].weight != ws[j].weight {
			return ws[i].weight > ws[j].weight
		}
		return ws[i].term < ws[j].term
	})
	if len(ws) > topTermsPerCluster {
		ws = ws[:topTermsPerCluster]
	}
	terms := make([]string, len(ws))
	for i, w := range ws {
		terms[i] = w.term
	}
	return terms
}

// DetectAnomalies scores each text by its engineered features: per-feature
// z-scores against the corpus, flagging documents whose worst feature
// deviates beyond the threshold. The score is the negated max |z|, so lower
// means more anomalous.
func (t *Trainer) DetectAnomalies(texts []string) (*AnomalyResult, error) {
	if len(texts) < 2 {
		return nil, fmt.Errorf("need at least 2 texts, got %d", len(texts))
	}

	features := make([][]float64, len(texts))
	for i, text := range texts {
		features[i] = analytics.ExtractFeatures(text).Vector()
	}
	dims := len(features[0])

	means := make([]float64, dims)
	stddevs := make([]float64, dims)
	column := make([]float64, len(features))
	for d := 0; d < dims; d++ {
		for i := range features {
			column[i] = features[i][d]
		}
		means[d], stddevs[d] = stat.MeanStdDev(column, nil)
	}

	scores := make([]float64, len(features))
	var anomalies []int
	for i, vec := range features {
		maxZ := 0.0
		for d := 0; d < dims; d++ {
			if stddevs[d] == 0 {
				continue
			}
			z := math.Abs((vec[d] - means[d]) / stddevs[d])
			if z > maxZ {
				maxZ = z
			}
		}
		scores[i] = -maxZ
		if maxZ > anomalyThreshold {
			anomalies = append(anomalies, i)
		}
	}

	return &AnomalyResult{
		Scores:    scores,
		Anomalies: anomalies,
		Threshold: anomalyThreshold,
		ModelInfo: "feature z-score anomaly detection",
	}, nil
}

// ScoreSentiment labels each text by its lexicon sentiment score.
func (t *Trainer) ScoreSentiment(texts []string) *SentimentResult {
	res := &SentimentResult{
		Labels: make([]string, len(texts)),
		Scores: make([]float64, len(texts)),
	}
	for i, text := range texts {
		score := analytics.Analyze(text).SentimentScore
		res.Scores[i] = score
		switch {
		case score > 0:
			res.Labels[i] = "positive"
			res.Positive++
		case score < 0:
			res.Labels[i] = "negative"
			res.Negative++
		default:
			res.Labels[i] = "neutral"
			res.Neutral++
		}
	}
	return res
}
