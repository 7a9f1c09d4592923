package descriptor

import (
	"fmt"
	"math"
	"strings"
)

// Metric names a descriptor distance function.
type Metric string

const (
	MetricEuclidean Metric = "euclidean"
	MetricCosine    Metric = "cosine"
)

// DistanceFunc returns a distance where smaller means more similar.
type DistanceFunc func(a, b []float32) float64

// ParseMetric parses a metric name case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricEuclidean, "":
		return MetricEuclidean, nil
	case MetricCosine:
		return MetricCosine, nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// Func returns the distance function of the metric.
func (m Metric) Func() DistanceFunc {
	if m == MetricCosine {
		return Cosine
	}
	return Euclidean
}

// Euclidean computes the L2 distance between two vectors.
// Mismatched or empty vectors are infinitely far apart (math.MaxFloat64).
func Euclidean(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}
