package rollcall

import (
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// studentJSON is a roster entry on the wire. Descriptor is optional; when
// present the reference image is not fetched.
type studentJSON struct {
	StudentID     string    `json:"student_id"`
	DisplayName   string    `json:"display_name"`
	ReferencePath string    `json:"reference_path"`
	Descriptor    []float32 `json:"descriptor,omitempty"`
}

type rosterResponse struct {
	Students      []studentJSON     `json:"students"`
	PriorStatuses map[string]string `json:"prior_statuses"`
}

func (r *rosterResponse) toRoster() (*attendance.Roster, error) {
	roster := &attendance.Roster{Students: make([]attendance.EnrolledStudent, 0, len(r.Students))}
	for _, s := range r.Students {
		if s.StudentID == "" {
			return nil, fmt.Errorf("roster entry %q has no student_id", s.DisplayName)
		}
		roster.Students = append(roster.Students, attendance.EnrolledStudent{
			StudentID:     s.StudentID,
			DisplayName:   s.DisplayName,
			ReferencePath: s.ReferencePath,
			Descriptor:    s.Descriptor,
		})
	}
	if len(r.PriorStatuses) > 0 {
		roster.PriorStatuses = make(map[string]attendance.Status, len(r.PriorStatuses))
		for id, raw := range r.PriorStatuses {
			st, err := attendance.ParseStatus(raw)
			if err != nil {
				return nil, fmt.Errorf("student %s: %w", id, err)
			}
			roster.PriorStatuses[id] = st
		}
	}
	return roster, nil
}

type windowsResponse struct {
	Windows []attendance.SessionWindow `json:"windows"`
}

type attendanceRequest struct {
	attendance.SessionKey
	Records []attendance.Record `json:"records"`
}

type sessionLogRequest struct {
	SubjectID string                `json:"subject_id"`
	Section   int                   `json:"section"`
	Action    attendance.LiveAction `json:"action"`
	At        time.Time             `json:"at"`
}

type healthResponse struct {
	Status string `json:"status"`
}
