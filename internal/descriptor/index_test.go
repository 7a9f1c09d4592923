package descriptor

import (
	"math/rand"
	"testing"
)

func TestLinearIndex_Nearest(t *testing.T) {
	idx := NewLinearIndex([][]float32{
		{0, 0},
		{1, 0},
		{0, 2},
	}, Euclidean)

	got := idx.Nearest([]float32{0.9, 0}, 1)
	if len(got) != 1 || got[0].Position != 1 {
		t.Fatalf("expected position 1, got %+v", got)
	}

	all := idx.Nearest([]float32{0, 0}, 5)
	if len(all) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(all))
	}
	for i, want := range []int{0, 1, 2} {
		if all[i].Position != want {
			t.Errorf("candidate %d: position = %d, want %d", i, all[i].Position, want)
		}
	}
}

func TestLinearIndex_TieKeepsEnrollmentOrder(t *testing.T) {
	idx := NewLinearIndex([][]float32{
		{1, 0},
		{-1, 0},
		{0, 1},
	}, Euclidean)

	// origin is equidistant from every reference
	got := idx.Nearest([]float32{0, 0}, 1)
	if got[0].Position != 0 {
		t.Errorf("expected earliest enrolled (0), got %d", got[0].Position)
	}

	top := idx.Nearest([]float32{0, 0}, 3)
	for i := range top {
		if top[i].Position != i {
			t.Errorf("tie order: candidate %d has position %d", i, top[i].Position)
		}
	}
}

func TestLinearIndex_Empty(t *testing.T) {
	idx := NewLinearIndex(nil, Euclidean)
	if got := idx.Nearest([]float32{1}, 1); got != nil {
		t.Errorf("expected nil from empty index, got %+v", got)
	}
	idx = NewLinearIndex([][]float32{{1}}, Euclidean)
	if got := idx.Nearest(nil, 1); got != nil {
		t.Errorf("expected nil for empty query, got %+v", got)
	}
}

func randomVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()
		}
		out[i] = v
	}
	return out
}

func TestHNSWIndex_FindsExactMatch(t *testing.T) {
	vectors := randomVectors(70, 8, 42)
	idx := NewHNSWIndex(vectors, MetricEuclidean)

	if idx.Len() != 70 {
		t.Fatalf("expected 70 vectors, got %d", idx.Len())
	}

	for _, pos := range []int{0, 13, 69} {
		got := idx.Nearest(vectors[pos], 1)
		if len(got) != 1 {
			t.Fatalf("expected one candidate, got %d", len(got))
		}
		if got[0].Position != pos || got[0].Distance != 0 {
			t.Errorf("query of vector %d returned %+v", pos, got[0])
		}
	}
}

func TestHNSWIndex_DuplicateVectorsPreferEarliest(t *testing.T) {
	vectors := randomVectors(10, 4, 7)
	vectors = append(vectors, append([]float32(nil), vectors[3]...))

	idx := NewHNSWIndex(vectors, MetricCosine)
	got := idx.Nearest(vectors[3], 1)
	if len(got) != 1 || got[0].Position != 3 {
		t.Errorf("expected earliest duplicate (3), got %+v", got)
	}
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := NewHNSWIndex(randomVectors(5, 4, 1), MetricEuclidean)
	if got := idx.Nearest([]float32{1, 2}, 1); got != nil {
		t.Errorf("expected nil for mismatched query, got %+v", got)
	}
}
