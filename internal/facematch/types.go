// Package facematch classifies detected faces against the session's reference
// descriptors and provides the bbox geometry and name helpers around it.
package facematch

// Label is the classification outcome of one detection
type Label string

const (
	LabelPresent   Label = "present"   // Close enough to auto-mark the student present
	LabelTentative Label = "tentative" // Shown to the operator, never auto-marked
	LabelUnknown   Label = "unknown"   // No student close enough
)

// UnknownStudent is the StudentID of an unknown match.
const UnknownStudent = "unknown"

// Thresholds are the distance cut-offs of the classifier. Presence must be below Draw.
type Thresholds struct {
	Presence float64 `json:"presence"`
	Draw     float64 `json:"draw"`
}

// MatchResult is the classification of one detection
type MatchResult struct {
	StudentID   string    `json:"student_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Distance    float64   `json:"distance"`
	Confidence  float64   `json:"confidence"`
	Label       Label     `json:"label"`
	BBox        []float64 `json:"bbox,omitempty"`
	BBoxRel     []float64 `json:"bbox_rel,omitempty"`
}

// Known reports whether the result names an enrolled student.
func (m MatchResult) Known() bool {
	return m.StudentID != UnknownStudent && m.StudentID != ""
}
