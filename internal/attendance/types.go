// Package attendance defines the domain types shared by the capture pipeline:
// roster entries, detections, statuses, scheduled windows and the collaborator
// contracts used to load and persist them.
package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the format of session dates exchanged with collaborators.
const DateLayout = "2006-01-02"

// Status is the attendance state of one student in one session.
type Status string

// Status values. Unset is the initial state before any automatic or manual mark.
const (
	StatusUnset   Status = "unset"
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
)

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusUnset:
		return StatusUnset, nil
	case StatusPresent:
		return StatusPresent, nil
	case StatusAbsent:
		return StatusAbsent, nil
	case StatusExcused:
		return StatusExcused, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsFinal returns true for statuses an operator can assign.
func (s Status) IsFinal() bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusExcused
}

// EnrolledStudent is one roster entry. Descriptor is populated either by the
// roster source (cached vectors) or by the descriptor store.
type EnrolledStudent struct {
	StudentID     string    `json:"student_id"`
	DisplayName   string    `json:"display_name"`
	ReferencePath string    `json:"reference_path,omitempty"`
	Descriptor    []float32 `json:"-"`
}

// Roster is the result of fetching a session's students.
type Roster struct {
	Students      []EnrolledStudent `json:"students"`
	PriorStatuses map[string]Status `json:"prior_statuses,omitempty"`
}

// Detection is a face found in a single frame.
type Detection struct {
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2] in frame pixels
	Descriptor []float32 `json:"-"`
	DetScore   float64   `json:"det_score"`
}

// Record is one persisted attendance row.
type Record struct {
	StudentID string `json:"student_id"`
	Status    Status `json:"status"`
}

// SessionKey identifies one occurrence of a subject section.
type SessionKey struct {
	SubjectID string `json:"subject_id"`
	Section   int    `json:"section"`
	Date      string `json:"date"`
}

// String returns "subject/section@date".
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%d@%s", k.SubjectID, k.Section, k.Date)
}

// Validate checks that all key fields are present and the date parses.
func (k SessionKey) Validate() error {
	if k.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if k.Section <= 0 {
		return fmt.Errorf("section must be positive")
	}
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", k.Date, err)
	}
	return nil
}

// LiveAction is the session log action sent to SetSessionLive.
type LiveAction string

// LiveAction values.
const (
	LiveActionStart LiveAction = "start"
	LiveActionEnd   LiveAction = "end"
)

// ClockTime is a time of day in minutes after midnight.
type ClockTime int

// ParseClockTime parses "HH:MM" (or "HH:MM:SS", seconds are ignored).
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// ClockTimeOf returns the time of day of t in t's location.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// String formats the clock time as "HH:MM".
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// SessionWindow is a scheduled weekly slot of a subject section.
type SessionWindow struct {
	SubjectID string       `json:"subject_id"`
	Section   int          `json:"section"`
	Weekday   time.Weekday `json:"weekday"`
	Start     ClockTime    `json:"start"`
	End       ClockTime    `json:"end"`
}

// Contains reports whether t (already converted to the schedule's location)
// falls on the window's weekday within [Start, End).
func (w SessionWindow) Contains(t time.Time) bool {
	if t.Weekday() != w.Weekday {
		return false
	}
	tod := ClockTimeOf(t)
	return tod >= w.Start && tod < w.End
}
