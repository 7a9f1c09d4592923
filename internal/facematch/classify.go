package facematch

import (
	"math"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/descriptor"
)

// Classifier labels detections by their distance to the closest reference
// descriptor. It never changes attendance state.
type Classifier struct {
	set        *descriptor.Set
	thresholds Thresholds
}

// NewClassifier creates a classifier over set.
func NewClassifier(set *descriptor.Set, thresholds Thresholds) *Classifier {
	return &Classifier{set: set, thresholds: thresholds}
}

// Thresholds returns the classifier's cut-offs.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify matches one detection. Ties go to the earliest enrolled student.
func (c *Classifier) Classify(d attendance.Detection) MatchResult {
	unknown := MatchResult{
		StudentID: UnknownStudent,
		Distance:  math.MaxFloat64,
		Label:     LabelUnknown,
		BBox:      d.BBox,
	}
	if c.set.Len() == 0 || len(d.Descriptor) == 0 {
		return unknown
	}

	hits := c.set.Nearest(d.Descriptor, 1)
	if len(hits) == 0 {
		return unknown
	}
	best := hits[0]

	switch {
	case best.Distance < c.thresholds.Presence:
		e := c.set.Entry(best.Position)
		return MatchResult{
			StudentID:   e.StudentID,
			DisplayName: e.DisplayName,
			Distance:    best.Distance,
			Confidence:  1 - best.Distance,
			Label:       LabelPresent,
			BBox:        d.BBox,
		}
	case best.Distance < c.thresholds.Draw:
		e := c.set.Entry(best.Position)
		return MatchResult{
			StudentID:   e.StudentID,
			DisplayName: e.DisplayName,
			Distance:    best.Distance,
			Confidence:  1 - best.Distance,
			Label:       LabelTentative,
			BBox:        d.BBox,
		}
	}

	unknown.Distance = best.Distance
	return unknown
}

// ClassifyAll classifies every detection of a frame. width and height are the
// frame dimensions used for relative boxes; pass 0 to skip them.
func (c *Classifier) ClassifyAll(dets []attendance.Detection, width, height int) []MatchResult {
	results := make([]MatchResult, 0, len(dets))
	for _, d := range dets {
		r := c.Classify(d)
		if width > 0 && height > 0 {
			r.BBoxRel = ConvertPixelBBoxToRelative(d.BBox, width, height)
		}
		results = append(results, r)
	}
	return results
}
