package descriptor

import (
	"encoding/binary"
	"math"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// HNSWIndex is an approximate index for large rosters. Graph hits are
// re-scored with the exact distance so ordering matches LinearIndex.
type HNSWIndex struct {
	graph    *hnsw.Graph[int]
	vectors  [][]float32
	distance DistanceFunc
}

// NewHNSWIndex builds the graph over vectors. All vectors must share one dimension.
func NewHNSWIndex(vectors [][]float32, metric Metric) *HNSWIndex {
	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = constants.HNSWEfSearch
	if metric == MetricCosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}

	// Identical vectors are added once, under the earliest position, so the
	// earliest enrolled student wins exact ties.
	seen := make(map[string]struct{}, len(vectors))
	for i, v := range vectors {
		if len(v) == 0 {
			continue
		}
		key := vectorKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.Add(hnsw.MakeNode(i, v))
	}

	return &HNSWIndex{
		graph:    g,
		vectors:  vectors,
		distance: metric.Func(),
	}
}

// Len returns the number of indexed descriptors.
func (h *HNSWIndex) Len() int {
	return len(h.vectors)
}

// Nearest returns the k closest descriptors found by the graph.
func (h *HNSWIndex) Nearest(query []float32, k int) []Candidate {
	if k <= 0 || h.graph.Len() == 0 || len(query) == 0 {
		return nil
	}
	if len(h.vectors) > 0 && len(query) != len(h.vectors[0]) {
		return nil
	}

	nodes := h.graph.Search(query, max(k, constants.HNSWCandidates))
	candidates := make([]Candidate, 0, len(nodes))
	for _, n := range nodes {
		candidates = append(candidates, Candidate{
			Position: n.Key,
			Distance: h.distance(query, h.vectors[n.Key]),
		})
	}

	sortCandidates(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

func vectorKey(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return string(buf)
}
