package facematch

import (
	"math"
	"testing"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/descriptor"
)

var defaultThresholds = Thresholds{Presence: 0.48, Draw: 0.8}

func newTestSet(entries ...descriptor.Entry) *descriptor.Set {
	return descriptor.NewSet(entries, descriptor.MetricEuclidean, 0)
}

func TestClassify(t *testing.T) {
	set := newTestSet(
		descriptor.Entry{StudentID: "S1", DisplayName: "Ana", Descriptor: []float32{0, 0}},
		descriptor.Entry{StudentID: "S2", DisplayName: "Ben", Descriptor: []float32{10, 0}},
	)
	c := NewClassifier(set, defaultThresholds)

	tests := []struct {
		name      string
		query     []float32
		wantID    string
		wantLabel Label
		wantDist  float64
	}{
		{"exact match", []float32{0, 0}, "S1", LabelPresent, 0},
		{"close to S1", []float32{0.3, 0}, "S1", LabelPresent, 0.3},
		{"close to S2", []float32{10, 0.2}, "S2", LabelPresent, 0.2},
		{"just above presence threshold", []float32{0.49, 0}, "S1", LabelTentative, 0.49},
		{"tentative", []float32{0.6, 0}, "S1", LabelTentative, 0.6},
		{"just above draw threshold", []float32{0.81, 0}, UnknownStudent, LabelUnknown, 0.81},
		{"far away", []float32{5, 5}, UnknownStudent, LabelUnknown, math.Sqrt(50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(attendance.Detection{Descriptor: tt.query, BBox: []float64{1, 2, 3, 4}})
			if got.StudentID != tt.wantID {
				t.Errorf("StudentID = %q, want %q", got.StudentID, tt.wantID)
			}
			if got.Label != tt.wantLabel {
				t.Errorf("Label = %q, want %q", got.Label, tt.wantLabel)
			}
			if math.Abs(got.Distance-tt.wantDist) > 1e-6 {
				t.Errorf("Distance = %v, want %v", got.Distance, tt.wantDist)
			}
			if tt.wantLabel != LabelUnknown && math.Abs(got.Confidence-(1-tt.wantDist)) > 1e-6 {
				t.Errorf("Confidence = %v, want %v", got.Confidence, 1-tt.wantDist)
			}
			if len(got.BBox) != 4 {
				t.Errorf("expected bbox to be carried over, got %v", got.BBox)
			}
		})
	}
}

func TestClassify_NoDescriptors(t *testing.T) {
	c := NewClassifier(newTestSet(), defaultThresholds)
	got := c.Classify(attendance.Detection{Descriptor: []float32{0, 0}})
	if got.Known() || got.Label != LabelUnknown {
		t.Errorf("expected unknown with empty set, got %+v", got)
	}

	c = NewClassifier(nil, defaultThresholds)
	if got := c.Classify(attendance.Detection{Descriptor: []float32{0}}); got.Label != LabelUnknown {
		t.Errorf("expected unknown with nil set, got %+v", got)
	}
}

func TestClassify_EmptyDescriptor(t *testing.T) {
	c := NewClassifier(newTestSet(descriptor.Entry{StudentID: "S1", Descriptor: []float32{0}}), defaultThresholds)
	if got := c.Classify(attendance.Detection{}); got.Label != LabelUnknown {
		t.Errorf("expected unknown for empty descriptor, got %+v", got)
	}
}

func TestClassify_TieGoesToEarliestEnrolled(t *testing.T) {
	set := newTestSet(
		descriptor.Entry{StudentID: "S9", Descriptor: []float32{0.2, 0}},
		descriptor.Entry{StudentID: "S1", Descriptor: []float32{-0.2, 0}},
	)
	c := NewClassifier(set, defaultThresholds)

	for range 5 {
		got := c.Classify(attendance.Detection{Descriptor: []float32{0, 0}})
		if got.StudentID != "S9" {
			t.Fatalf("expected earliest enrolled S9, got %s", got.StudentID)
		}
	}
}

func TestClassify_CustomThresholds(t *testing.T) {
	set := newTestSet(descriptor.Entry{StudentID: "S1", Descriptor: []float32{0}})
	c := NewClassifier(set, Thresholds{Presence: 0.7, Draw: 0.9})

	if got := c.Classify(attendance.Detection{Descriptor: []float32{0.6}}); got.Label != LabelPresent {
		t.Errorf("expected present with relaxed threshold, got %s", got.Label)
	}
}

func TestClassifyAll(t *testing.T) {
	set := newTestSet(descriptor.Entry{StudentID: "S1", Descriptor: []float32{0}})
	c := NewClassifier(set, defaultThresholds)

	results := c.ClassifyAll([]attendance.Detection{
		{Descriptor: []float32{0.1}, BBox: []float64{100, 100, 200, 200}},
		{Descriptor: []float32{3}, BBox: []float64{0, 0, 50, 50}},
	}, 1000, 500)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].StudentID != "S1" || results[1].Known() {
		t.Errorf("unexpected results: %+v", results)
	}
	if rel := results[0].BBoxRel; len(rel) != 4 || rel[0] != 0.1 || rel[3] != 0.4 {
		t.Errorf("unexpected relative bbox %v", rel)
	}
}

func TestClassify_BoundariesAreExclusive(t *testing.T) {
	set := newTestSet(descriptor.Entry{StudentID: "S1", Descriptor: []float32{0}})
	c := NewClassifier(set, Thresholds{Presence: 0.5, Draw: 0.75})

	if got := c.Classify(attendance.Detection{Descriptor: []float32{0.5}}); got.Label != LabelTentative {
		t.Errorf("distance equal to presence threshold: got %s, want tentative", got.Label)
	}
	if got := c.Classify(attendance.Detection{Descriptor: []float32{0.75}}); got.Label != LabelUnknown {
		t.Errorf("distance equal to draw threshold: got %s, want unknown", got.Label)
	}
}
