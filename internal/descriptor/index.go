package descriptor

import "sort"

// Candidate is a nearest-neighbour hit. Position is the entry's enrollment
// order within the Set.
type Candidate struct {
	Position int
	Distance float64
}

// Index finds the reference descriptors closest to a query.
// Results are sorted by distance, then by enrollment order.
type Index interface {
	Nearest(query []float32, k int) []Candidate
	Len() int
}

// LinearIndex compares the query against every reference descriptor.
type LinearIndex struct {
	vectors  [][]float32
	distance DistanceFunc
}

// NewLinearIndex creates an exact index over vectors.
func NewLinearIndex(vectors [][]float32, distance DistanceFunc) *LinearIndex {
	return &LinearIndex{vectors: vectors, distance: distance}
}

// Len returns the number of indexed descriptors.
func (l *LinearIndex) Len() int {
	return len(l.vectors)
}

// Nearest returns the k closest descriptors.
func (l *LinearIndex) Nearest(query []float32, k int) []Candidate {
	if k <= 0 || len(l.vectors) == 0 || len(query) == 0 {
		return nil
	}

	if k == 1 {
		best := Candidate{Position: -1}
		for i, v := range l.vectors {
			d := l.distance(query, v)
			// strict comparison keeps the earliest enrolled on ties
			if best.Position < 0 || d < best.Distance {
				best = Candidate{Position: i, Distance: d}
			}
		}
		return []Candidate{best}
	}

	all := make([]Candidate, len(l.vectors))
	for i, v := range l.vectors {
		all[i] = Candidate{Position: i, Distance: l.distance(query, v)}
	}
	sortCandidates(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Distance != c[j].Distance {
			return c[i].Distance < c[j].Distance
		}
		return c[i].Position < c[j].Position
	})
}
